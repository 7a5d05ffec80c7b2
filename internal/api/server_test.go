package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"shoplife/internal/config"
	"shoplife/internal/kv"
	"shoplife/internal/shop"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := shop.NewService(kv.NewMemory(), logger, "")
	ts := httptest.NewServer(New(config.APIConfig{}, logger, svc).Handler())
	t.Cleanup(ts.Close)
	return ts
}

// doJSON posts body (or issues a GET when body is nil), checks the status
// code and decodes the response into out.
func doJSON(t *testing.T, method, rawURL string, body map[string]any, early bool, wantCode int, out any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, rawURL, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if early {
		req.Header.Set("Early-Data", "1")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantCode {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: code=%d want=%d body=%s", method, rawURL, resp.StatusCode, wantCode, raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func register(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	var out struct {
		UserID string `json:"user_id"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/register", map[string]any{}, false, 200, &out)
	if out.UserID == "" {
		t.Fatalf("register returned empty user_id")
	}
	return out.UserID
}

func TestStaticPages(t *testing.T) {
	ts := newTestServer(t)
	for path, want := range map[string]string{
		"/":           "welcome to our http3 world of fun and get something for yourself from our shop for your life",
		"/robots.txt": "are u a bot ?",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != 200 || string(raw) != want {
			t.Fatalf("GET %s: code=%d body=%q", path, resp.StatusCode, raw)
		}
	}
}

func TestTransferRejectsBadAmount(t *testing.T) {
	ts := newTestServer(t)
	id := register(t, ts)

	var out struct {
		Error string `json:"error"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/transfer", map[string]any{"user_id": id, "amount": 50}, false, 400, &out)
	if out.Error != "Invalid user_id or amount" {
		t.Fatalf("error=%q", out.Error)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	ts := newTestServer(t)
	id := register(t, ts)

	var out struct {
		Error string `json:"error"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/transfer", map[string]any{"user_id": id, "amount": 100}, false, 400, &out)
	if out.Error != "Insufficient funds" {
		t.Fatalf("error=%q", out.Error)
	}

	var bal struct {
		Balance int64 `json:"balance"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/balance?user_id="+url.QueryEscape(id), nil, false, 200, &bal)
	if bal.Balance != 0 {
		t.Fatalf("balance=%d want 0", bal.Balance)
	}
}

func TestRedeemOnceThenEarlyDataReplay(t *testing.T) {
	ts := newTestServer(t)
	id := register(t, ts)
	body := map[string]any{"user_id": id}

	var out struct {
		Success       bool  `json:"success"`
		Credited      int64 `json:"credited"`
		Balance       int64 `json:"balance"`
		CanAffordFlag bool  `json:"can_afford_flag"`
		Remaining     int64 `json:"remaining"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/redeem", body, false, 200, &out)
	if !out.Success || out.Credited != 100 || out.Balance != 100 || out.Remaining != 400 {
		t.Fatalf("unexpected redeem response: %+v", out)
	}

	var fail struct {
		Error string `json:"error"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/redeem", body, false, 400, &fail)
	if fail.Error != "only one transfer huh!!" {
		t.Fatalf("error=%q", fail.Error)
	}

	// The Early-Data header walks straight past the redeem-once guard.
	for i := 0; i < 4; i++ {
		doJSON(t, http.MethodPost, ts.URL+"/api/redeem", body, true, 200, &out)
	}
	if out.Balance != 500 || !out.CanAffordFlag || out.Remaining != 0 {
		t.Fatalf("unexpected final redeem response: %+v", out)
	}
}

func TestBuyFlagAndRetrieve(t *testing.T) {
	ts := newTestServer(t)
	id := register(t, ts)

	var flagFail struct {
		Error string `json:"error"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/flag?user_id="+url.QueryEscape(id), nil, false, 403, &flagFail)
	if flagFail.Error != "Purchase flag via /api/buy" {
		t.Fatalf("error=%q", flagFail.Error)
	}

	for i := 0; i < 5; i++ {
		doJSON(t, http.MethodPost, ts.URL+"/api/redeem", map[string]any{"user_id": id}, true, 200, nil)
	}

	var bought struct {
		Flag  string `json:"flag"`
		Item  string `json:"item"`
		Price int64  `json:"price"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/buy", map[string]any{"user_id": id, "item": "flag"}, false, 200, &bought)
	if bought.Flag != shop.DefaultFlag || bought.Item != "flag" || bought.Price != 500 {
		t.Fatalf("unexpected buy response: %+v", bought)
	}

	var inv struct {
		Inventory []string `json:"inventory"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/inventory?user_id="+url.QueryEscape(id), nil, false, 200, &inv)
	if len(inv.Inventory) != 1 || inv.Inventory[0] != "flag" {
		t.Fatalf("inventory=%v", inv.Inventory)
	}

	var retrieved struct {
		Flag string `json:"flag"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/flag?user_id="+url.QueryEscape(id), nil, false, 200, &retrieved)
	if retrieved.Flag != shop.DefaultFlag {
		t.Fatalf("flag=%q", retrieved.Flag)
	}

	var again struct {
		Error string `json:"error"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/buy", map[string]any{"user_id": id, "item": "flag"}, false, 400, &again)
	if again.Error != "Already owned" {
		t.Fatalf("error=%q", again.Error)
	}
}

func TestBuyUnknownItem(t *testing.T) {
	ts := newTestServer(t)
	id := register(t, ts)

	var out struct {
		Error string `json:"error"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/buy", map[string]any{"user_id": id, "item": "glory"}, false, 400, &out)
	if out.Error != "Unknown item" {
		t.Fatalf("error=%q", out.Error)
	}
}

func TestShopListingShowsAdvertisedPrices(t *testing.T) {
	ts := newTestServer(t)

	var out struct {
		Items []shop.CatalogItem `json:"items"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/shop", nil, false, 200, &out)
	want := []shop.CatalogItem{
		{Item: "fame", Price: 50},
		{Item: "power", Price: 70},
		{Item: "respect", Price: 90},
		{Item: "flag", Price: 500},
	}
	if len(out.Items) != len(want) {
		t.Fatalf("items=%v", out.Items)
	}
	for i := range want {
		if out.Items[i] != want[i] {
			t.Fatalf("item %d: got %+v want %+v", i, out.Items[i], want[i])
		}
	}
}

func TestQueriesOnUnknownAccount(t *testing.T) {
	ts := newTestServer(t)

	var out struct {
		Error string `json:"error"`
	}
	for _, path := range []string{"/balance", "/api/balance", "/total", "/api/progress"} {
		doJSON(t, http.MethodGet, ts.URL+path+"?user_id=ghost", nil, false, 400, &out)
		if out.Error != "Invalid user_id" {
			t.Fatalf("%s error=%q", path, out.Error)
		}
	}

	// Inventory reads do not fail for unknown accounts.
	var inv struct {
		Inventory []string `json:"inventory"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/inventory?user_id=ghost", nil, false, 200, &inv)
	if inv.Inventory == nil || len(inv.Inventory) != 0 {
		t.Fatalf("inventory=%#v want []", inv.Inventory)
	}
}

func TestMalformedBodyReadsAsMissingUser(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/transfer", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("code=%d want 400", resp.StatusCode)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shoplife/internal/config"
	"shoplife/internal/shop"
)

// earlyDataHeader marks a request that arrived as 0-RTT early data on the
// fronting transport. Its presence is the only switch for the anti-replay
// guard relaxation in transfer and redeem.
const earlyDataHeader = "Early-Data"

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	shop *shop.Service
	mux  *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, shopSvc *shop.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		shop: shopSvc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, "welcome to our http3 world of fun and get something for yourself from our shop for your life")
	})
	r.Get("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, "are u a bot ?")
	})

	r.Post("/register", s.handleRegister)
	r.Get("/balance", s.handleBalance)
	r.Get("/total", s.handleTotal)
	r.Get("/flag", s.handleFlag)

	r.Route("/api", func(r chi.Router) {
		r.Post("/transfer", s.handleTransfer)
		r.Post("/redeem", s.handleRedeem)
		r.Post("/buy", s.handleBuy)
		r.Get("/shop", s.handleShop)
		r.Get("/inventory", s.handleInventory)
		r.Get("/balance", s.handleBalance)
		r.Get("/progress", s.handleProgress)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := s.shop.Register(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
		Amount int64  `json:"amount"`
	}
	decodeJSON(r, &in)
	out, err := s.shop.Transfer(r.Context(), shop.TransferInput{
		UserID: in.UserID,
		Amount: in.Amount,
		Early:  earlyData(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
	}
	decodeJSON(r, &in)
	out, err := s.shop.Redeem(r.Context(), shop.RedeemInput{
		UserID: in.UserID,
		Early:  earlyData(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
		Item   string `json:"item"`
	}
	decodeJSON(r, &in)
	out, err := s.shop.Purchase(r.Context(), shop.PurchaseInput{
		UserID: in.UserID,
		Item:   in.Item,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": shop.Catalog()})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	items, err := s.shop.Inventory(r.Context(), queryUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": items})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.shop.Balance(r.Context(), queryUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	total, err := s.shop.Total(r.Context(), queryUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_transferred": total})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	out, err := s.shop.Progress(r.Context(), queryUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	payload, err := s.shop.Flag(r.Context(), queryUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flag": payload})
}

func earlyData(r *http.Request) bool {
	return r.Header.Get(earlyDataHeader) == "1"
}

func queryUserID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shop.ErrFlagNotOwned):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, shop.ErrInvalidUser),
		errors.Is(err, shop.ErrInvalidTransfer),
		errors.Is(err, shop.ErrInvalidPurchase),
		errors.Is(err, shop.ErrUnknownItem),
		errors.Is(err, shop.ErrTransferUsed),
		errors.Is(err, shop.ErrRedeemUsed),
		errors.Is(err, shop.ErrInsufficientFunds),
		errors.Is(err, shop.ErrAlreadyOwned):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON is lenient: a malformed body leaves the input at its zero
// value and fails the user_id validation downstream.
func decodeJSON(r *http.Request, out any) {
	_ = json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

package shop

// CatalogItem is one row of the shop listing.
type CatalogItem struct {
	Item  string `json:"item"`
	Price int64  `json:"price"`
}

// FlagItem is the terminal item; buying it pays out the reward payload.
const FlagItem = "flag"

// listPrices is what /api/shop advertises. purchasePrices is what /api/buy
// charges. The two disagree for power and respect; the mismatch is part of
// the public surface and both tables stay exactly as they are.
var listPrices = []CatalogItem{
	{Item: "fame", Price: 50},
	{Item: "power", Price: 70},
	{Item: "respect", Price: 90},
	{Item: FlagItem, Price: FlagThreshold},
}

var purchasePrices = map[string]int64{
	"fame":    50,
	"respect": 70,
	"power":   90,
	FlagItem:  FlagThreshold,
}

// Catalog returns the advertised listing in stable order.
func Catalog() []CatalogItem {
	out := make([]CatalogItem, len(listPrices))
	copy(out, listPrices)
	return out
}

// PurchasePrice returns the enforced price for item, false when the item
// does not exist.
func PurchasePrice(item string) (int64, bool) {
	price, ok := purchasePrices[item]
	return price, ok
}

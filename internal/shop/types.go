package shop

type TransferInput struct {
	UserID string
	Amount int64
	Early  bool
}

type TransferResult struct {
	Success          bool  `json:"success"`
	TotalTransferred int64 `json:"total_transferred"`
	Balance          int64 `json:"balance"`
}

type RedeemInput struct {
	UserID string
	Early  bool
}

type RedeemResult struct {
	Success       bool  `json:"success"`
	Credited      int64 `json:"credited"`
	Balance       int64 `json:"balance"`
	CanAffordFlag bool  `json:"can_afford_flag"`
	Remaining     int64 `json:"remaining"`
}

type PurchaseInput struct {
	UserID string
	Item   string
}

// PurchaseResult carries Purchased for ordinary items; the terminal item
// instead fills Item and Flag.
type PurchaseResult struct {
	Flag      string `json:"flag,omitempty"`
	Item      string `json:"item,omitempty"`
	Purchased string `json:"purchased,omitempty"`
	Price     int64  `json:"price"`
}

type ProgressResult struct {
	Balance       int64 `json:"balance"`
	Remaining     int64 `json:"remaining"`
	FlagReady     bool  `json:"flag_ready"`
	CanAffordFlag bool  `json:"can_afford_flag"`
	FlagOwned     bool  `json:"flag_owned"`
}

package shop

import "errors"

const (
	// TransferAmount is the only accepted transfer size; anything else is
	// rejected before a transaction starts.
	TransferAmount = int64(100)

	// RedeemCredit is added to the balance by each successful redemption.
	RedeemCredit = int64(100)

	// FlagThreshold is the balance needed to afford the terminal item.
	FlagThreshold = int64(500)
)

// DefaultFlag is the reward payload handed out for the terminal item when
// no override is configured.
const DefaultFlag = "FLAG{0rtt_replay_attacks_4r3_c00l}"

// Record field names under the account key.
const (
	fieldBalance          = "balance"
	fieldTotalTransferred = "total_transferred"
	fieldHasTransferred   = "has_transferred"
	fieldRedeemCount      = "redeem_count"
)

// Failure reasons, worded exactly as clients see them.
var (
	ErrInvalidUser       = errors.New("Invalid user_id")
	ErrInvalidTransfer   = errors.New("Invalid user_id or amount")
	ErrInvalidPurchase   = errors.New("Invalid user_id or item")
	ErrUnknownItem       = errors.New("Unknown item")
	ErrTransferUsed      = errors.New("One transfer only!")
	ErrRedeemUsed        = errors.New("only one transfer huh!!")
	ErrInsufficientFunds = errors.New("Insufficient funds")
	ErrAlreadyOwned      = errors.New("Already owned")
	ErrFlagNotOwned      = errors.New("Purchase flag via /api/buy")
)

func userKey(id string) string { return "user:" + id }
func invKey(id string) string  { return "inv:" + id }

// registerSeed is the zeroed record committed for a fresh account by
// Register and Transfer. Redeem and Purchase also seed the redeem counter;
// absent fields read as zero, so the two populations behave identically.
func registerSeed() map[string]int64 {
	return map[string]int64{
		fieldBalance:          0,
		fieldTotalTransferred: 0,
		fieldHasTransferred:   0,
	}
}

func redeemSeed() map[string]int64 {
	seed := registerSeed()
	seed[fieldRedeemCount] = 0
	return seed
}

package shop

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"shoplife/internal/kv"
)

// Service implements the shop operations over an optimistic store. All
// mutation goes through kv.Run; queries are plain snapshot reads and never
// create accounts.
type Service struct {
	store kv.Store
	log   *slog.Logger
	flag  string
}

func NewService(store kv.Store, logger *slog.Logger, flagPayload string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if flagPayload == "" {
		flagPayload = DefaultFlag
	}
	return &Service{store: store, log: logger, flag: flagPayload}
}

// Register mints a fresh account token and commits its zeroed record.
func (s *Service) Register(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := s.ensureAccount(ctx, id, registerSeed()); err != nil {
		return "", err
	}
	s.log.Debug("account registered", "user_id", id)
	return id, nil
}

// ensureAccount commits seed for a missing record. It runs through the
// conditional-commit path so concurrent initializers cannot clobber an
// account that already took writes.
func (s *Service) ensureAccount(ctx context.Context, id string, seed map[string]int64) error {
	key := userKey(id)
	return kv.Run(ctx, s.store, kv.Watch{Records: []string{key}}, func(snap kv.Snapshot) (*kv.Write, error) {
		if snap.HasRecord(key) {
			return nil, nil
		}
		w := &kv.Write{}
		w.SetFields(key, seed)
		return w, nil
	})
}

// errRecordVanished restarts a mutation whose snapshot no longer shows the
// record the ensure step just committed (a racing store flush, in
// practice). The operation re-enters the ensure step rather than deciding
// against a stale view.
var errRecordVanished = errors.New("shop: account record vanished")

// runAccount is the shared transaction wrapper for Transfer, Redeem and
// Purchase: ensure the record exists, then run decide until it commits or
// aborts.
func (s *Service) runAccount(ctx context.Context, id string, seed map[string]int64, sets []string, decide kv.DecideFunc) error {
	key := userKey(id)
	watch := kv.Watch{Records: []string{key}, Sets: sets}
	for {
		if err := s.ensureAccount(ctx, id, seed); err != nil {
			return err
		}
		err := kv.Run(ctx, s.store, watch, func(snap kv.Snapshot) (*kv.Write, error) {
			if !snap.HasRecord(key) {
				return nil, errRecordVanished
			}
			return decide(snap)
		})
		if errors.Is(err, errRecordVanished) {
			continue
		}
		return err
	}
}

// Transfer converts exactly TransferAmount of balance into lifetime
// transferred credit, once per account. A request flagged as early data
// skips the used-flag check but still sets the flag, so early callers can
// repeat the conversion for as long as the balance holds.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	var out TransferResult
	if in.UserID == "" || in.Amount != TransferAmount {
		return out, ErrInvalidTransfer
	}
	key := userKey(in.UserID)
	err := s.runAccount(ctx, in.UserID, registerSeed(), nil, func(snap kv.Snapshot) (*kv.Write, error) {
		if !in.Early && snap.Field(key, fieldHasTransferred) != 0 {
			return nil, ErrTransferUsed
		}
		if snap.Field(key, fieldBalance) < TransferAmount {
			return nil, ErrInsufficientFunds
		}
		w := &kv.Write{}
		w.IncrField(key, fieldBalance, -TransferAmount)
		w.IncrField(key, fieldTotalTransferred, TransferAmount)
		w.SetField(key, fieldHasTransferred, 1)
		return w, nil
	})
	if err != nil {
		return out, err
	}
	total, err := s.store.Field(ctx, key, fieldTotalTransferred)
	if err != nil {
		return out, err
	}
	balance, err := s.store.Field(ctx, key, fieldBalance)
	if err != nil {
		return out, err
	}
	return TransferResult{Success: true, TotalTransferred: total, Balance: balance}, nil
}

// Redeem credits RedeemCredit to the balance, once per account unless the
// request is flagged as early data.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (RedeemResult, error) {
	var out RedeemResult
	if in.UserID == "" {
		return out, ErrInvalidUser
	}
	key := userKey(in.UserID)
	err := s.runAccount(ctx, in.UserID, redeemSeed(), nil, func(snap kv.Snapshot) (*kv.Write, error) {
		if !in.Early && snap.Field(key, fieldRedeemCount) >= 1 {
			return nil, ErrRedeemUsed
		}
		w := &kv.Write{}
		w.IncrField(key, fieldBalance, RedeemCredit)
		w.IncrField(key, fieldRedeemCount, 1)
		return w, nil
	})
	if err != nil {
		return out, err
	}
	balance, err := s.store.Field(ctx, key, fieldBalance)
	if err != nil {
		return out, err
	}
	return RedeemResult{
		Success:       true,
		Credited:      RedeemCredit,
		Balance:       balance,
		CanAffordFlag: balance >= FlagThreshold,
		Remaining:     remaining(balance),
	}, nil
}

// Purchase buys one catalog item. The account record and its inventory set
// are watched together: a commit lands only if neither moved since the
// snapshot, so two racing buyers of the same item resolve to exactly one
// owner.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (PurchaseResult, error) {
	var out PurchaseResult
	if in.UserID == "" || in.Item == "" {
		return out, ErrInvalidPurchase
	}
	price, ok := PurchasePrice(in.Item)
	if !ok {
		return out, ErrUnknownItem
	}
	key := userKey(in.UserID)
	inv := invKey(in.UserID)
	err := s.runAccount(ctx, in.UserID, redeemSeed(), []string{inv}, func(snap kv.Snapshot) (*kv.Write, error) {
		if snap.Contains(inv, in.Item) {
			return nil, ErrAlreadyOwned
		}
		if snap.Field(key, fieldBalance) < price {
			return nil, ErrInsufficientFunds
		}
		w := &kv.Write{}
		w.IncrField(key, fieldBalance, -price)
		w.AddMember(inv, in.Item)
		return w, nil
	})
	if err != nil {
		return out, err
	}
	if in.Item == FlagItem {
		s.log.Info("flag purchased", "user_id", in.UserID)
		return PurchaseResult{Flag: s.flag, Item: FlagItem, Price: price}, nil
	}
	return PurchaseResult{Purchased: in.Item, Price: price}, nil
}

// Balance returns the spendable balance of an existing account.
func (s *Service) Balance(ctx context.Context, id string) (int64, error) {
	if err := s.requireAccount(ctx, id); err != nil {
		return 0, err
	}
	return s.store.Field(ctx, userKey(id), fieldBalance)
}

// Total returns the lifetime transferred counter of an existing account.
func (s *Service) Total(ctx context.Context, id string) (int64, error) {
	if err := s.requireAccount(ctx, id); err != nil {
		return 0, err
	}
	return s.store.Field(ctx, userKey(id), fieldTotalTransferred)
}

// Inventory lists the owned items in sorted order. An unknown account
// reads as an empty inventory rather than failing.
func (s *Service) Inventory(ctx context.Context, id string) ([]string, error) {
	if id == "" {
		return nil, ErrInvalidUser
	}
	members, err := s.store.Members(ctx, invKey(id))
	if err != nil {
		return nil, err
	}
	items := make([]string, 0, len(members))
	items = append(items, members...)
	sort.Strings(items)
	return items, nil
}

// Progress reports how close an existing account is to the terminal item.
func (s *Service) Progress(ctx context.Context, id string) (ProgressResult, error) {
	var out ProgressResult
	if err := s.requireAccount(ctx, id); err != nil {
		return out, err
	}
	balance, err := s.store.Field(ctx, userKey(id), fieldBalance)
	if err != nil {
		return out, err
	}
	owned, err := s.store.Contains(ctx, invKey(id), FlagItem)
	if err != nil {
		return out, err
	}
	ready := balance >= FlagThreshold
	return ProgressResult{
		Balance:       balance,
		Remaining:     remaining(balance),
		FlagReady:     ready,
		CanAffordFlag: ready,
		FlagOwned:     owned,
	}, nil
}

// Flag returns the reward payload for an account that owns the terminal
// item.
func (s *Service) Flag(ctx context.Context, id string) (string, error) {
	if err := s.requireAccount(ctx, id); err != nil {
		return "", err
	}
	owned, err := s.store.Contains(ctx, invKey(id), FlagItem)
	if err != nil {
		return "", err
	}
	if !owned {
		return "", ErrFlagNotOwned
	}
	return s.flag, nil
}

// requireAccount rejects queries against identifiers that do not resolve
// to a record. Queries never lazily create.
func (s *Service) requireAccount(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidUser
	}
	ok, err := s.store.Exists(ctx, userKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidUser
	}
	return nil
}

func remaining(balance int64) int64 {
	if balance >= FlagThreshold {
		return 0
	}
	return FlagThreshold - balance
}

package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hypehub/task-escrow/catalog"
	"github.com/hypehub/task-escrow/metrics"
)

const (
	MaxUserIDLength     = 128
	DefaultEntriesLimit = 50
)

// PurchaseResult is the outcome of Purchase. Duplicate is set when the
// payment reference was already credited; nothing is credited again.
type PurchaseResult struct {
	Package   catalog.Package
	Credited  int64
	Balance   int64
	Duplicate bool
}

func validateUser(id UserID) error {
	if strings.TrimSpace(string(id)) == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if len(id) > MaxUserIDLength {
		return &ValidationError{Field: "user_id", Message: fmt.Sprintf("must be at most %d characters", MaxUserIDLength)}
	}
	return nil
}

// EnsureAccount provisions a points account for an identity issued by the
// auth collaborator. The first call credits the signup bonus, if any.
func (e *Engine) EnsureAccount(ctx context.Context, id UserID) (User, bool, error) {
	if err := validateUser(id); err != nil {
		return User{}, false, err
	}
	if id == SystemUser {
		return User{}, false, &ValidationError{Field: "user_id", Message: "is reserved"}
	}

	var created bool
	err := e.inTx(ctx, "ensure_account", func(ctx context.Context, tx Tx) error {
		now := e.now()
		var err error
		created, err = tx.CreateUser(ctx, User{ID: id, CreatedAt: now})
		if err != nil || !created || e.signupPoints <= 0 {
			return err
		}
		balance, err := tx.Credit(ctx, id, e.signupPoints)
		if err != nil {
			return err
		}
		return tx.AppendEntry(ctx, Entry{
			ID:             e.newID(),
			UserID:         id,
			Kind:           EntrySignupBonus,
			Amount:         e.signupPoints,
			IdempotencyKey: "signup:" + string(id),
			BalanceAfter:   balance,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return User{}, false, err
	}
	if created {
		e.log.Info("account provisioned", slogUser(id), slogPoints(e.signupPoints))
	}

	u, err := e.store.GetUser(ctx, id)
	return u, created, Unavailable("get_user", err)
}

// Account returns the user's points account.
func (e *Engine) Account(ctx context.Context, id UserID) (User, error) {
	u, err := e.store.GetUser(ctx, id)
	return u, Unavailable("get_user", err)
}

// Entries returns the user's ledger history, newest first.
func (e *Engine) Entries(ctx context.Context, id UserID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultEntriesLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	entries, err := e.store.ListEntries(ctx, id, limit)
	return entries, Unavailable("list_entries", err)
}

// Purchase credits a point package paid for through the wallet flow.
// reference is the payment reference; it deduplicates retries.
func (e *Engine) Purchase(ctx context.Context, id UserID, packageID, reference string) (PurchaseResult, error) {
	if err := validateUser(id); err != nil {
		return PurchaseResult{}, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return PurchaseResult{}, &ValidationError{Field: "reference", Message: "is required"}
	}
	if len(reference) > MaxKeyLength {
		return PurchaseResult{}, &ValidationError{Field: "reference", Message: fmt.Sprintf("must be at most %d characters", MaxKeyLength)}
	}
	pkg, ok := e.catalog.Package(packageID)
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: %q", ErrUnknownPackage, packageID)
	}

	res := PurchaseResult{Package: pkg, Credited: pkg.Total()}
	err := e.inTx(ctx, "purchase", func(ctx context.Context, tx Tx) error {
		balance, err := tx.Credit(ctx, id, pkg.Total())
		if err != nil {
			return err
		}
		res.Balance = balance
		return tx.AppendEntry(ctx, Entry{
			ID:             e.newID(),
			UserID:         id,
			Kind:           EntryPurchase,
			Amount:         pkg.Total(),
			IdempotencyKey: fmt.Sprintf("purchase:%s:%s", id, reference),
			BalanceAfter:   balance,
			CreatedAt:      e.now(),
		})
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		u, err := e.store.GetUser(ctx, id)
		if err != nil {
			return PurchaseResult{}, Unavailable("get_user", err)
		}
		e.log.Info("purchase already credited", slogUser(id), "reference", reference)
		return PurchaseResult{Package: pkg, Balance: u.Points, Duplicate: true}, nil
	}
	if err != nil {
		return PurchaseResult{}, err
	}

	metrics.PointsPurchased.Add(float64(res.Credited))
	e.log.Info("purchase credited", slogUser(id), "package", pkg.ID, slogPoints(res.Credited), slogBalance(res.Balance))
	e.notify(ctx, Event{
		Kind:      EventPointsPurchased,
		Recipient: id,
		Actor:     id,
		Title:     "Points purchased",
		Message:   fmt.Sprintf("You received %d points from the %s.", res.Credited, pkg.Name),
		Points:    res.Credited,
	})
	return res, nil
}

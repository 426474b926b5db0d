// Package domain defines the quota ledger contract: per-identity daily call
// budgets with tier-based limits.
package domain

import (
	"context"
	"errors"
	"time"

	identitydomain "github.com/jeffconboy/statedge/internal/identity/domain"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type Service interface {
	// Admit performs the day-rollover check, the limit check and the counter
	// increment as one atomic store operation. The ledger is not mutated when
	// admission is denied.
	Admit(ctx context.Context, apiKey string, cost int) (Decision, error)

	// Lookup resolves an identity by API key without touching the ledger.
	Lookup(ctx context.Context, apiKey string) (*identitydomain.Identity, error)
}

var (
	ErrIdentityNotFound = errors.New("identity_not_found")
	ErrInvalidCost      = errors.New("invalid_cost")

	// ErrLedgerUnavailable means the backing store could not answer. Admission
	// fails closed on it.
	ErrLedgerUnavailable = errors.New("ledger_unavailable")
)

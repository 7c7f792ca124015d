// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the stores from
// concrete transport and storage implementations.
package port

import (
	"context"
	"time"

	"github.com/maletapp/malet-client-go/internal/domain"
)

// AuthAPI is the backend collaborator for the primary session.
type AuthAPI interface {
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthPayload, error)
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error)
	LoginWithGoogle(ctx context.Context, idToken string) (*domain.AuthPayload, error)
	VerifySession(ctx context.Context, token string) (*domain.User, error)
}

// BankAPI retrieves the user's accounts and per-account transactions.
// The bearer token is passed explicitly; only the session store owns it.
type BankAPI interface {
	ListAccounts(ctx context.Context, token string) ([]domain.Account, error)
	ListTransactions(ctx context.Context, token, accountID string) ([]domain.Transaction, error)
}

// GarzonAPI is the backend collaborator for the operational session.
type GarzonAPI interface {
	Login(ctx context.Context, req *domain.GarzonLoginRequest) (*domain.GarzonLoginResponse, error)
	Dashboard(ctx context.Context, token string) (*domain.GarzonDashboard, error)
}

// SecureStore is the device's secure key-value capability used to
// persist the session token across process restarts.
type SecureStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// LedgerSnapshots persists successful ledger fetches so a previously
// fetched history is visible before the first refresh of a new process.
type LedgerSnapshots interface {
	Save(ctx context.Context, accountID string, items []domain.Transaction, fetchedAt time.Time) error
	Load(ctx context.Context) (map[string]domain.LedgerSnapshot, error)
	Purge(ctx context.Context) error
}

// Alerter is the user-facing error channel: a blocking alert dialog on
// mobile, a stderr line in the terminal client.
type Alerter interface {
	Alert(title, message string)
}

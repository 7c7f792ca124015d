// Package domain defines the core entities of the Malet client.
// These models are independent of transport and storage and are the
// canonical data structures shared by every store.
package domain

import "time"

// ============================================================
// Users
// ============================================================

// User is the authenticated identity of the primary session.
// Identity fields are immutable after registration; profile fields
// (name, avatars) may be updated out-of-band by the backend.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
	BannerURL string `json:"banner_url,omitempty"`
}

// ============================================================
// Accounts
// ============================================================

// Account is a financial account owned by the user. Balance is
// authoritative only as of the last fetch and is never mutated locally.
type Account struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// ============================================================
// Transactions
// ============================================================

// Transaction is a single ledger entry, scoped to one account and
// immutable once fetched.
type Transaction struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Amount    float64   `json:"amount"`
	Type      string    `json:"type"` // credit, debit
	AccountID string    `json:"account_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

// LedgerSnapshot is a persisted ledger cache entry: the transactions of
// one account together with the time they were fetched.
type LedgerSnapshot struct {
	Items     []Transaction `json:"items"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// ============================================================
// Garzon (operational session)
// ============================================================

// GarzonDashboard is the dashboard payload for the waiter-facing role.
type GarzonDashboard struct {
	Venue         string             `json:"venue"`
	OpenTables    int                `json:"open_tables"`
	PendingOrders int                `json:"pending_orders"`
	TotalSales    float64            `json:"total_sales"`
	Currency      string             `json:"currency"`
	Tables        []GarzonTableState `json:"tables,omitempty"`
}

// GarzonTableState is the per-table line of the dashboard.
type GarzonTableState struct {
	Table   string  `json:"table"`
	Status  string  `json:"status"`
	Total   float64 `json:"total"`
	Courses int     `json:"courses"`
}

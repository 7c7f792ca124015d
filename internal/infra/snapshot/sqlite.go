// Package snapshot persists successful ledger fetches to a local SQLite
// database so previously fetched history is visible before the first
// refresh of a new process.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maletapp/malet-client-go/internal/domain"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// Store wraps a sql.DB connection.
type Store struct {
	conn *sql.DB
}

// New opens the snapshot database and runs migrations.
func New(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			account_id TEXT PRIMARY KEY,
			fetched_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_transactions (
			id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			name TEXT NOT NULL,
			amount REAL NOT NULL,
			tx_type TEXT NOT NULL,
			issued_at DATETIME NOT NULL,
			position INTEGER NOT NULL,
			FOREIGN KEY (account_id) REFERENCES ledger_entries(account_id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Save replaces the persisted entry for accountID.
func (s *Store) Save(ctx context.Context, accountID string, items []domain.Transaction, fetchedAt time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_transactions WHERE account_id = ?`, accountID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, fetched_at) VALUES (?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET fetched_at = excluded.fetched_at`,
		accountID, fetchedAt.UTC(),
	); err != nil {
		return err
	}

	for i, item := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_transactions (id, account_id, name, amount, tx_type, issued_at, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, accountID, item.Name, item.Amount, item.Type, item.IssuedAt.UTC(), i,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Load returns all persisted entries keyed by account id, each with its
// transactions in stored order (newest first).
func (s *Store) Load(ctx context.Context) (map[string]domain.LedgerSnapshot, error) {
	out := map[string]domain.LedgerSnapshot{}

	rows, err := s.conn.QueryContext(ctx, `SELECT account_id, fetched_at FROM ledger_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var accountID string
		var fetchedAt time.Time
		if err := rows.Scan(&accountID, &fetchedAt); err != nil {
			return nil, err
		}
		out[accountID] = domain.LedgerSnapshot{FetchedAt: fetchedAt}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	txRows, err := s.conn.QueryContext(ctx,
		`SELECT id, account_id, name, amount, tx_type, issued_at
		 FROM ledger_transactions ORDER BY account_id, position`)
	if err != nil {
		return nil, err
	}
	defer txRows.Close()

	for txRows.Next() {
		var item domain.Transaction
		if err := txRows.Scan(&item.ID, &item.AccountID, &item.Name, &item.Amount, &item.Type, &item.IssuedAt); err != nil {
			return nil, err
		}
		entry, ok := out[item.AccountID]
		if !ok {
			return nil, fmt.Errorf("orphan transaction row for account %s", item.AccountID)
		}
		entry.Items = append(entry.Items, item)
		out[item.AccountID] = entry
	}
	return out, txRows.Err()
}

// Purge removes every persisted entry. Called on logout so one user's
// history never leaks into the next session on the same device.
func (s *Store) Purge(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM ledger_transactions`); err != nil {
		return err
	}
	_, err := s.conn.ExecContext(ctx, `DELETE FROM ledger_entries`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

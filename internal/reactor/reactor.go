// Package reactor wires the stores together with named, declarative
// rules. All cross-store effects in the client go through these
// subscriptions; no store ever calls into another store's internals.
package reactor

import (
	"context"
	"sync"

	"github.com/maletapp/malet-client-go/internal/infra/observability"
	"github.com/maletapp/malet-client-go/internal/port"
	"github.com/maletapp/malet-client-go/internal/store"

	"go.uber.org/zap"
)

// AlertTitle is the fixed application label on every user-facing alert.
const AlertTitle = "Malet"

// Synchronizer binds the reactive rules:
//
//  1. on Start, verify the persisted session exactly once;
//  2. selection change to a non-empty id → forced ledger fetch;
//  3. any store error appearing ("" → non-"") → one user-visible alert;
//  4. main session dropping to Unauthenticated → account registry and
//     ledger cache reset, so no financial data leaks across sessions.
type Synchronizer struct {
	session  *store.Session
	accounts *store.Accounts
	ledger   *store.Ledger
	garzon   *store.Garzon
	alerter  port.Alerter
	metrics  *observability.Metrics
	logger   *zap.Logger

	startOnce sync.Once
	cancels   []func()

	mu           sync.Mutex
	prevSelected string
	prevStatus   store.Status
	prevSessErr  string
	prevAccErr   string
	prevGarzErr  string
	prevLedErrs  map[string]string
}

// New creates an unstarted synchronizer.
func New(
	session *store.Session,
	accounts *store.Accounts,
	ledger *store.Ledger,
	garzon *store.Garzon,
	alerter port.Alerter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Synchronizer {
	return &Synchronizer{
		session:     session,
		accounts:    accounts,
		ledger:      ledger,
		garzon:      garzon,
		alerter:     alerter,
		metrics:     metrics,
		logger:      logger,
		prevStatus:  store.StatusUnauthenticated,
		prevLedErrs: map[string]string{},
	}
}

// Start binds all rules and runs the cold-start session verification.
// Subsequent calls are no-ops.
func (s *Synchronizer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.bind(ctx)
		s.session.VerifySession(ctx)
	})
}

// Stop cancels every subscription.
func (s *Synchronizer) Stop() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

func (s *Synchronizer) bind(ctx context.Context) {
	// Rule: session transitions drive cache lifecycle and alerts.
	s.cancels = append(s.cancels, s.session.Subscribe(func(st store.SessionState) {
		s.mu.Lock()
		droppedOut := s.prevStatus != store.StatusUnauthenticated && st.Status == store.StatusUnauthenticated
		newErr := s.prevSessErr == "" && st.Err != ""
		s.prevStatus = st.Status
		s.prevSessErr = st.Err
		s.mu.Unlock()

		if newErr {
			s.alert(st.Err)
		}
		if droppedOut {
			s.logger.Info("session ended, clearing dependent caches")
			s.accounts.Reset()
			s.ledger.Reset()
		}
	}))

	// Rule: selecting an account refetches its history.
	s.cancels = append(s.cancels, s.accounts.Subscribe(func(st store.AccountsState) {
		s.mu.Lock()
		changed := st.SelectedID != s.prevSelected && st.SelectedID != ""
		newErr := s.prevAccErr == "" && st.Err != ""
		s.prevSelected = st.SelectedID
		s.prevAccErr = st.Err
		s.mu.Unlock()

		if newErr {
			s.alert(st.Err)
		}
		if changed {
			s.logger.Debug("selection changed, refreshing ledger", zap.String("account_id", st.SelectedID))
			s.ledger.HistoryTransactions(ctx, st.SelectedID, true)
		}
	}))

	// Rule: a ledger entry's error appearing surfaces one alert.
	s.cancels = append(s.cancels, s.ledger.Subscribe(func(st store.LedgerState) {
		var fresh []string
		s.mu.Lock()
		for accountID, entry := range st {
			if entry.Err != "" && s.prevLedErrs[accountID] == "" {
				fresh = append(fresh, entry.Err)
			}
			s.prevLedErrs[accountID] = entry.Err
		}
		for accountID := range s.prevLedErrs {
			if _, ok := st[accountID]; !ok {
				delete(s.prevLedErrs, accountID)
			}
		}
		s.mu.Unlock()

		for _, msg := range fresh {
			s.alert(msg)
		}
	}))

	// Rule: garzon errors alert too; its logout clears only its own
	// state, which the store does itself.
	s.cancels = append(s.cancels, s.garzon.Subscribe(func(st store.GarzonState) {
		s.mu.Lock()
		newErr := s.prevGarzErr == "" && st.Err != ""
		s.prevGarzErr = st.Err
		s.mu.Unlock()

		if newErr {
			s.alert(st.Err)
		}
	}))
}

func (s *Synchronizer) alert(message string) {
	s.metrics.IncrAlertShown()
	s.alerter.Alert(AlertTitle, message)
}

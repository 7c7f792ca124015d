package store

import (
	"context"
	"sync"
	"time"

	"github.com/maletapp/malet-client-go/internal/domain"
	"github.com/maletapp/malet-client-go/internal/infra/observability"
	"github.com/maletapp/malet-client-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var accountsTracer = otel.Tracer("store/accounts")

// AccountsState is the published snapshot of the account registry.
// SelectedID is an id into Accounts, never a copied Account value, so a
// list refresh cannot leave a stale selected snapshot behind.
type AccountsState struct {
	Accounts      []domain.Account
	SelectedID    string
	BalanceHidden bool
	Loading       bool
	Err           string
}

// Accounts owns the list of financial accounts and the current
// selection. It reads authorization state from the session store's
// public snapshot; it never touches the persisted token itself.
type Accounts struct {
	session *Session
	api     port.BankAPI
	metrics *observability.Metrics
	logger  *zap.Logger

	mu    sync.Mutex
	state AccountsState
	feed  feed[AccountsState]
}

// NewAccounts creates the account registry.
func NewAccounts(session *Session, api port.BankAPI, metrics *observability.Metrics, logger *zap.Logger) *Accounts {
	return &Accounts{
		session: session,
		api:     api,
		metrics: metrics,
		logger:  logger,
	}
}

// State returns the current snapshot. The Accounts slice is shared and
// read-only by contract.
func (a *Accounts) State() AccountsState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe registers fn for every state change and returns a cancel
// function.
func (a *Accounts) Subscribe(fn func(AccountsState)) func() {
	return a.feed.subscribe(fn)
}

// Selected returns the currently selected account, looked up by id in
// the current list.
func (a *Accounts) Selected() (domain.Account, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return findAccount(a.state.Accounts, a.state.SelectedID)
}

// LoadAccounts fetches the authenticated user's accounts. Calling it
// without an authenticated session fails with an auth error.
func (a *Accounts) LoadAccounts(ctx context.Context) bool {
	ctx, span := accountsTracer.Start(ctx, "Accounts.LoadAccounts")
	defer span.End()

	sess := a.session.State()
	if sess.Status != StatusAuthenticated {
		a.setError(domain.Message(&domain.ErrUnauthorized{Message: "You must be signed in to load accounts."}))
		return false
	}

	a.setLoading(true)

	start := time.Now()
	accounts, err := a.api.ListAccounts(ctx, sess.Token)
	a.metrics.RecordFetchDuration("accounts", time.Since(start))
	if err != nil {
		a.metrics.IncrFetchError("accounts")
		a.logger.Warn("account load failed", zap.Error(err))
		if a.sessionEnded(sess.Token) {
			return false
		}
		a.setError(domain.Message(err))
		return false
	}

	// Consume-time session check: a list fetched under a session that
	// has since ended must not reappear after the logout cascade reset
	// the registry.
	if a.sessionEnded(sess.Token) {
		a.logger.Debug("dropping accounts response for ended session")
		return false
	}

	a.mu.Lock()
	a.state.Accounts = accounts
	a.state.Loading = false
	a.state.Err = ""
	// A selection whose id vanished from the refreshed list is
	// defaulted to the first account, never left dangling.
	if a.state.SelectedID != "" {
		if _, ok := findAccount(accounts, a.state.SelectedID); !ok {
			if len(accounts) > 0 {
				a.state.SelectedID = accounts[0].ID
			} else {
				a.state.SelectedID = ""
			}
		}
	}
	snap := a.state
	a.mu.Unlock()

	a.logger.Info("accounts loaded", zap.Int("count", len(accounts)))
	a.feed.publish(snap)
	return true
}

// SelectAccount sets the selected account id. Selecting an id absent
// from the current list, or the id already selected, is a no-op.
func (a *Accounts) SelectAccount(id string) {
	a.mu.Lock()
	if id == a.state.SelectedID {
		a.mu.Unlock()
		return
	}
	if _, ok := findAccount(a.state.Accounts, id); !ok {
		a.mu.Unlock()
		a.logger.Debug("ignoring selection of unknown account", zap.String("account_id", id))
		return
	}
	a.state.SelectedID = id
	snap := a.state
	a.mu.Unlock()

	a.feed.publish(snap)
}

// ToggleBalanceVisibility flips the local display flag. It never issues
// a network call and never mutates fetched balances.
func (a *Accounts) ToggleBalanceVisibility() {
	a.mu.Lock()
	a.state.BalanceHidden = !a.state.BalanceHidden
	snap := a.state
	a.mu.Unlock()

	a.feed.publish(snap)
}

// SetError overwrites the displayed error; an empty message dismisses it.
func (a *Accounts) SetError(message string) {
	a.setError(message)
}

// Reset clears the registry. Invoked by the synchronizer on logout so
// one user's accounts never leak into the next session.
func (a *Accounts) Reset() {
	a.mu.Lock()
	a.state = AccountsState{}
	snap := a.state
	a.mu.Unlock()

	a.feed.publish(snap)
}

func (a *Accounts) setLoading(loading bool) {
	a.mu.Lock()
	a.state.Loading = loading
	if loading {
		a.state.Err = ""
	}
	snap := a.state
	a.mu.Unlock()
	a.feed.publish(snap)
}

func (a *Accounts) setError(message string) {
	a.mu.Lock()
	a.state.Loading = false
	a.state.Err = message
	snap := a.state
	a.mu.Unlock()
	a.feed.publish(snap)
}

// sessionEnded reports whether the session a request was issued under
// is no longer the current authenticated one.
func (a *Accounts) sessionEnded(token string) bool {
	sess := a.session.State()
	return sess.Status != StatusAuthenticated || sess.Token != token
}

func findAccount(accounts []domain.Account, id string) (domain.Account, bool) {
	if id == "" {
		return domain.Account{}, false
	}
	for _, acc := range accounts {
		if acc.ID == id {
			return acc, true
		}
	}
	return domain.Account{}, false
}

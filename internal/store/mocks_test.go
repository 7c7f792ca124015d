package store_test

import (
	"context"
	"sync"
	"time"

	"github.com/maletapp/malet-client-go/internal/domain"
	"github.com/maletapp/malet-client-go/internal/infra/keychain"
	"github.com/maletapp/malet-client-go/internal/infra/observability"
	"github.com/maletapp/malet-client-go/internal/store"

	"go.uber.org/zap"
)

// --- Fixtures ---

var (
	testUser = &domain.User{ID: "user-1", Name: "Ana", Username: "ana", Email: "a@b.com"}

	testAccounts = []domain.Account{
		{ID: "acc-1", Name: "Checking", Balance: 1500.50, Currency: "USD"},
		{ID: "acc-2", Name: "Savings", Balance: 9800, Currency: "USD"},
	}
)

func testTransactions(accountID string) []domain.Transaction {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return []domain.Transaction{
		{ID: accountID + "-tx-2", Name: "Groceries", Amount: -42.10, Type: "debit", AccountID: accountID, IssuedAt: base},
		{ID: accountID + "-tx-1", Name: "Salary", Amount: 2500, Type: "credit", AccountID: accountID, IssuedAt: base.Add(-48 * time.Hour)},
	}
}

// --- Fakes ---

type fakeAuthAPI struct {
	mu sync.Mutex

	loginErr    error
	registerErr error
	verifyErr   error

	loginCalls   int
	verifyCalls  int
	lastLogin    *domain.LoginRequest
	lastRegister *domain.RegisterRequest

	token string
	user  *domain.User
}

func newFakeAuthAPI() *fakeAuthAPI {
	return &fakeAuthAPI{token: "tok-1", user: testUser}
}

func (f *fakeAuthAPI) Login(_ context.Context, req *domain.LoginRequest) (*domain.AuthPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	f.lastLogin = req
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &domain.AuthPayload{Token: f.token, User: f.user}, nil
}

func (f *fakeAuthAPI) Register(_ context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRegister = req
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.user, nil
}

func (f *fakeAuthAPI) LoginWithGoogle(_ context.Context, _ string) (*domain.AuthPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &domain.AuthPayload{Token: f.token, User: f.user}, nil
}

func (f *fakeAuthAPI) VerifySession(_ context.Context, _ string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.user, nil
}

func (f *fakeAuthAPI) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

type fakeBankAPI struct {
	mu sync.Mutex

	accounts      []domain.Account
	accountsErr   error
	accountsCalls int
	accountsBlock chan struct{} // optional gate

	txErr     error
	txCalls   map[string]int
	txBlock   map[string]chan struct{} // optional per-account gate
	txResults map[string][]domain.Transaction
}

func newFakeBankAPI() *fakeBankAPI {
	return &fakeBankAPI{
		accounts:  testAccounts,
		txCalls:   map[string]int{},
		txBlock:   map[string]chan struct{}{},
		txResults: map[string][]domain.Transaction{},
	}
}

func (f *fakeBankAPI) ListAccounts(_ context.Context, _ string) ([]domain.Account, error) {
	f.mu.Lock()
	f.accountsCalls++
	gate := f.accountsBlock
	err := f.accountsErr
	accounts := f.accounts
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (f *fakeBankAPI) accountCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountsCalls
}

func (f *fakeBankAPI) ListTransactions(_ context.Context, _ string, accountID string) ([]domain.Transaction, error) {
	f.mu.Lock()
	f.txCalls[accountID]++
	gate := f.txBlock[accountID]
	err := f.txErr
	result, ok := f.txResults[accountID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if ok {
		return result, nil
	}
	return testTransactions(accountID), nil
}

func (f *fakeBankAPI) calls(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCalls[accountID]
}

type fakeGarzonAPI struct {
	mu sync.Mutex

	loginErr error
	dashErr  error

	dashCalls int
	dashBlock chan struct{} // optional gate

	dashboard *domain.GarzonDashboard
}

func newFakeGarzonAPI() *fakeGarzonAPI {
	return &fakeGarzonAPI{
		dashboard: &domain.GarzonDashboard{Venue: "La Terraza", OpenTables: 4, PendingOrders: 7, TotalSales: 310.40, Currency: "USD"},
	}
}

func (f *fakeGarzonAPI) Login(_ context.Context, _ *domain.GarzonLoginRequest) (*domain.GarzonLoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &domain.GarzonLoginResponse{Token: "garzon-tok", Dashboard: f.dashboard}, nil
}

func (f *fakeGarzonAPI) Dashboard(_ context.Context, _ string) (*domain.GarzonDashboard, error) {
	f.mu.Lock()
	f.dashCalls++
	gate := f.dashBlock
	err := f.dashErr
	dash := f.dashboard
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return dash, nil
}

func (f *fakeGarzonAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dashCalls
}

// fakeSnapshots is an in-memory port.LedgerSnapshots.
type fakeSnapshots struct {
	mu    sync.Mutex
	saved map[string]domain.LedgerSnapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{saved: map[string]domain.LedgerSnapshot{}}
}

func (f *fakeSnapshots) Save(_ context.Context, accountID string, items []domain.Transaction, fetchedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[accountID] = domain.LedgerSnapshot{Items: items, FetchedAt: fetchedAt}
	return nil
}

func (f *fakeSnapshots) Load(_ context.Context) (map[string]domain.LedgerSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.LedgerSnapshot, len(f.saved))
	for k, v := range f.saved {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSnapshots) Purge(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = map[string]domain.LedgerSnapshot{}
	return nil
}

// --- Builders ---

func newTestSession(api *fakeAuthAPI, vault *keychain.Memory) *store.Session {
	return store.NewSession(api, vault, observability.NewMetrics(), zap.NewNop())
}

func authedSession(authAPI *fakeAuthAPI) *store.Session {
	session := newTestSession(authAPI, keychain.NewMemory())
	session.Login(context.Background(), "a@b.com", "pw123")
	return session
}

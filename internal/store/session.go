package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/maletapp/malet-client-go/internal/domain"
	"github.com/maletapp/malet-client-go/internal/infra/observability"
	"github.com/maletapp/malet-client-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var sessionTracer = otel.Tracer("store/session")

// TokenVaultKey is the fixed secure-store entry holding the persisted
// session token. Only the session store writes it.
const TokenVaultKey = "malet.session.token"

// Status is the authentication state of a session.
type Status int

const (
	// StatusUnauthenticated means no valid session exists.
	StatusUnauthenticated Status = iota
	// StatusAuthenticating is the transient state while a credential
	// exchange is in flight. Never persisted across restarts.
	StatusAuthenticating
	// StatusAuthenticated means user and token are both present.
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// SessionState is the published snapshot of the session store.
// Invariant: Status == StatusAuthenticated iff User != nil and Token != "".
type SessionState struct {
	User   *domain.User
	Token  string
	Status Status
	Err    string
}

// Session owns the primary authentication state and the persisted
// session token. Public operations never return errors: failures are
// normalized into the Err field and a boolean result.
type Session struct {
	api     port.AuthAPI
	vault   port.SecureStore
	metrics *observability.Metrics
	logger  *zap.Logger

	mu    sync.Mutex
	state SessionState
	feed  feed[SessionState]
}

// NewSession creates the session store.
func NewSession(api port.AuthAPI, vault port.SecureStore, metrics *observability.Metrics, logger *zap.Logger) *Session {
	return &Session{
		api:     api,
		vault:   vault,
		metrics: metrics,
		logger:  logger,
		state:   SessionState{Status: StatusUnauthenticated},
	}
}

// State returns the current snapshot. The User pointer is shared and
// read-only by contract.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every state change and returns a cancel
// function.
func (s *Session) Subscribe(fn func(SessionState)) func() {
	return s.feed.subscribe(fn)
}

// Login exchanges email/password for a session. On failure the session
// is left Unauthenticated with a readable Err.
func (s *Session) Login(ctx context.Context, email, password string) bool {
	ctx, span := sessionTracer.Start(ctx, "Session.Login")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.fail("login", &domain.ErrValidation{Field: "credentials", Message: "Email and password are required."})
		return false
	}

	s.begin()

	start := time.Now()
	payload, err := s.api.Login(ctx, &domain.LoginRequest{Email: email, Password: password})
	s.metrics.RecordFetchDuration("login", time.Since(start))
	if err != nil {
		s.metrics.IncrFetchError("login")
		s.fail("login", err)
		return false
	}

	s.establish(payload.User, payload.Token, true)
	return true
}

// Register creates an account and, because registration does not issue
// a token, immediately logs in with the same credentials. Every string
// field is trimmed before submission, the password included: leading or
// trailing whitespace is never sent to the backend.
func (s *Session) Register(ctx context.Context, req *domain.RegisterRequest) bool {
	ctx, span := sessionTracer.Start(ctx, "Session.Register")
	defer span.End()

	trimmed := &domain.RegisterRequest{
		Name:     strings.TrimSpace(req.Name),
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: strings.TrimSpace(req.Password),
	}
	if trimmed.Name == "" || trimmed.Username == "" || trimmed.Email == "" || trimmed.Password == "" {
		s.fail("register", &domain.ErrValidation{Field: "registration", Message: "All fields are required."})
		return false
	}

	s.begin()

	start := time.Now()
	_, err := s.api.Register(ctx, trimmed)
	s.metrics.RecordFetchDuration("register", time.Since(start))
	if err != nil {
		s.metrics.IncrFetchError("register")
		s.fail("register", err)
		return false
	}

	payload, err := s.api.Login(ctx, &domain.LoginRequest{Email: trimmed.Email, Password: trimmed.Password})
	if err != nil {
		s.metrics.IncrFetchError("login")
		s.fail("register", err)
		return false
	}

	s.establish(payload.User, payload.Token, true)
	return true
}

// LoginWithGoogle exchanges an externally obtained identity token for a
// session. Identical state transitions to Login.
func (s *Session) LoginWithGoogle(ctx context.Context, idToken string) bool {
	ctx, span := sessionTracer.Start(ctx, "Session.LoginWithGoogle")
	defer span.End()

	if strings.TrimSpace(idToken) == "" {
		s.fail("login/google", &domain.ErrValidation{Field: "idToken", Message: "Sign-in was cancelled or returned no identity."})
		return false
	}

	s.begin()

	start := time.Now()
	payload, err := s.api.LoginWithGoogle(ctx, idToken)
	s.metrics.RecordFetchDuration("login", time.Since(start))
	if err != nil {
		s.metrics.IncrFetchError("login")
		s.fail("login/google", err)
		return false
	}

	s.establish(payload.User, payload.Token, true)
	return true
}

// VerifySession is invoked once at application start. With no persisted
// token it performs zero network calls. An unverifiable token is always
// cleared: it must never be left usable.
func (s *Session) VerifySession(ctx context.Context) {
	ctx, span := sessionTracer.Start(ctx, "Session.VerifySession")
	defer span.End()

	token, ok, err := s.vault.Get(TokenVaultKey)
	if err != nil {
		s.logger.Warn("vault read failed", zap.Error(err))
		s.setUnauthenticated("")
		return
	}
	if !ok || token == "" {
		s.setUnauthenticated("")
		return
	}

	// A token that is provably expired does not warrant a round-trip:
	// the backend would answer 401 and we would clear it anyway.
	if tokenExpired(token) {
		s.logger.Info("persisted token expired, clearing")
		s.clearToken()
		s.setUnauthenticated("")
		return
	}

	s.begin()

	start := time.Now()
	user, err := s.api.VerifySession(ctx, token)
	s.metrics.RecordFetchDuration("verify", time.Since(start))
	if err != nil {
		s.metrics.IncrFetchError("verify")
		s.logger.Info("session verification failed, signing out", zap.Error(err))
		s.clearToken()
		// Cold-start verification failure is a silent sign-out, not a
		// user-visible alert.
		s.setUnauthenticated("")
		return
	}

	s.establish(user, token, false)
}

// Logout clears the token (memory and persisted) and the user.
// Idempotent: safe to call when already unauthenticated.
func (s *Session) Logout(ctx context.Context) {
	_, span := sessionTracer.Start(ctx, "Session.Logout")
	defer span.End()

	s.clearToken()

	s.mu.Lock()
	wasAuthenticated := s.state.Status == StatusAuthenticated
	s.state = SessionState{Status: StatusUnauthenticated}
	snap := s.state
	s.mu.Unlock()

	if wasAuthenticated {
		s.logger.Info("user logged out")
	}
	s.metrics.IncrTransition("session", snap.Status.String())
	s.feed.publish(snap)
}

// SetError overwrites the displayed error. Screens use it with an empty
// message to dismiss an alert without triggering a new request.
func (s *Session) SetError(message string) {
	s.mu.Lock()
	s.state.Err = message
	snap := s.state
	s.mu.Unlock()
	s.feed.publish(snap)
}

// ============================================================
// Internal transitions
// ============================================================

func (s *Session) begin() {
	s.mu.Lock()
	s.state.Status = StatusAuthenticating
	s.state.Err = ""
	snap := s.state
	s.mu.Unlock()

	s.metrics.IncrTransition("session", snap.Status.String())
	s.feed.publish(snap)
}

func (s *Session) establish(user *domain.User, token string, persist bool) {
	if persist {
		if err := s.vault.Set(TokenVaultKey, token); err != nil {
			// Session stays usable in memory; it just won't survive a
			// restart.
			s.logger.Warn("vault write failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.state = SessionState{User: user, Token: token, Status: StatusAuthenticated}
	snap := s.state
	s.mu.Unlock()

	s.logger.Info("session established", zap.String("user_id", user.ID))
	s.metrics.IncrTransition("session", snap.Status.String())
	s.feed.publish(snap)
}

func (s *Session) fail(op string, err error) {
	s.logger.Warn("auth request failed", zap.String("operation", op), zap.Error(err))
	s.setUnauthenticated(domain.Message(err))
}

func (s *Session) setUnauthenticated(errMsg string) {
	s.mu.Lock()
	s.state = SessionState{Status: StatusUnauthenticated, Err: errMsg}
	snap := s.state
	s.mu.Unlock()

	s.metrics.IncrTransition("session", snap.Status.String())
	s.feed.publish(snap)
}

func (s *Session) clearToken() {
	if err := s.vault.Delete(TokenVaultKey); err != nil {
		s.logger.Warn("vault delete failed", zap.Error(err))
	}
}

// tokenExpired reports whether the token is a JWT whose exp claim has
// passed. Opaque tokens return false and are left to the backend.
func tokenExpired(token string) bool {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(time.Now())
}

package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/maletapp/malet-client-go/internal/domain"
	"github.com/maletapp/malet-client-go/internal/infra/observability"
	"github.com/maletapp/malet-client-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var garzonTracer = otel.Tracer("store/garzon")

// GarzonState is the published snapshot of the operational session.
type GarzonState struct {
	Username    string
	Status      Status
	Err         string
	Dashboard   *domain.GarzonDashboard
	FetchedAt   time.Time
	AutoRefresh bool
}

// Garzon is the role-scoped operational session for the waiter-facing
// dashboard. It is structurally parallel to Session but strictly
// isolated from it: its token lives in memory only and is never written
// to the device vault.
type Garzon struct {
	api     port.GarzonAPI
	metrics *observability.Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	state     GarzonState
	token     string // memory only, not part of the published snapshot
	stopTimer func()
	feed      feed[GarzonState]

	// refreshing guards against overlapping dashboard fetches: a tick
	// that lands while one is in flight is skipped, never queued.
	refreshing sync.Mutex
	inFlight   bool
}

// NewGarzon creates the operational session store.
func NewGarzon(api port.GarzonAPI, metrics *observability.Metrics, logger *zap.Logger) *Garzon {
	return &Garzon{
		api:     api,
		metrics: metrics,
		logger:  logger,
		state:   GarzonState{Status: StatusUnauthenticated},
	}
}

// State returns the current snapshot.
func (g *Garzon) State() GarzonState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Subscribe registers fn for every state change and returns a cancel
// function.
func (g *Garzon) Subscribe(fn func(GarzonState)) func() {
	return g.feed.subscribe(fn)
}

// Login authenticates the operational role and stores the first
// dashboard payload returned with the token.
func (g *Garzon) Login(ctx context.Context, username, password string) bool {
	ctx, span := garzonTracer.Start(ctx, "Garzon.Login")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		g.fail(&domain.ErrValidation{Field: "credentials", Message: "Username and password are required."})
		return false
	}

	g.mu.Lock()
	g.state.Status = StatusAuthenticating
	g.state.Err = ""
	snap := g.state
	g.mu.Unlock()
	g.metrics.IncrTransition("garzon", snap.Status.String())
	g.feed.publish(snap)

	start := time.Now()
	resp, err := g.api.Login(ctx, &domain.GarzonLoginRequest{Username: username, Password: password})
	g.metrics.RecordFetchDuration("garzon_login", time.Since(start))
	if err != nil {
		g.metrics.IncrFetchError("garzon_login")
		g.fail(err)
		return false
	}

	g.mu.Lock()
	g.token = resp.Token
	g.state = GarzonState{
		Username:  username,
		Status:    StatusAuthenticated,
		Dashboard: resp.Dashboard,
		FetchedAt: time.Now(),
	}
	snap = g.state
	g.mu.Unlock()

	g.logger.Info("garzon session established", zap.String("username", username))
	g.metrics.IncrTransition("garzon", snap.Status.String())
	g.feed.publish(snap)
	return true
}

// RefreshDashboard fetches the dashboard. A call while another refresh
// is in flight is skipped. The result is applied only if the session
// that issued it is still the current one.
func (g *Garzon) RefreshDashboard(ctx context.Context) bool {
	ctx, span := garzonTracer.Start(ctx, "Garzon.RefreshDashboard")
	defer span.End()

	g.mu.Lock()
	if g.state.Status != StatusAuthenticated {
		g.mu.Unlock()
		g.setError(domain.Message(&domain.ErrUnauthorized{Message: "Garzon session required."}))
		return false
	}
	token := g.token
	g.mu.Unlock()

	g.refreshing.Lock()
	if g.inFlight {
		g.refreshing.Unlock()
		return false
	}
	g.inFlight = true
	g.refreshing.Unlock()
	defer func() {
		g.refreshing.Lock()
		g.inFlight = false
		g.refreshing.Unlock()
	}()

	start := time.Now()
	dash, err := g.api.Dashboard(ctx, token)
	g.metrics.RecordFetchDuration("garzon_dashboard", time.Since(start))
	if err != nil {
		g.metrics.IncrFetchError("garzon_dashboard")
		g.logger.Warn("garzon dashboard refresh failed", zap.Error(err))
		// Same staleness check as the success path: a failure from a
		// session that has since ended must not surface on the fresh
		// state.
		g.mu.Lock()
		current := g.state.Status == StatusAuthenticated && g.token == token
		g.mu.Unlock()
		if !current {
			return false
		}
		// Previously fetched dashboard data stays visible.
		g.setError(domain.Message(err))
		return false
	}

	g.mu.Lock()
	// Consume-time staleness check: a response issued under a previous
	// login must not overwrite the current session's view.
	if g.state.Status != StatusAuthenticated || g.token != token {
		g.mu.Unlock()
		return false
	}
	g.state.Dashboard = dash
	g.state.FetchedAt = time.Now()
	g.state.Err = ""
	snap := g.state
	g.mu.Unlock()

	g.feed.publish(snap)
	return true
}

// StartAutoRefresh begins a client-side timer that refreshes the
// dashboard every interval while enabled. Ticks that land during an
// in-flight refresh are skipped by RefreshDashboard.
func (g *Garzon) StartAutoRefresh(interval time.Duration) {
	if interval <= 0 {
		return
	}

	g.mu.Lock()
	if g.stopTimer != nil {
		g.stopTimer()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.stopTimer = cancel
	g.state.AutoRefresh = true
	snap := g.state
	g.mu.Unlock()
	g.feed.publish(snap)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.RefreshDashboard(ctx)
			}
		}
	}()
}

// StopAutoRefresh cancels the timer immediately.
func (g *Garzon) StopAutoRefresh() {
	g.mu.Lock()
	if g.stopTimer != nil {
		g.stopTimer()
		g.stopTimer = nil
	}
	if !g.state.AutoRefresh {
		g.mu.Unlock()
		return
	}
	g.state.AutoRefresh = false
	snap := g.state
	g.mu.Unlock()
	g.feed.publish(snap)
}

// SetError overwrites the displayed error; an empty message dismisses it.
func (g *Garzon) SetError(message string) {
	g.setError(message)
}

// Logout stops the timer and clears the session and dashboard.
// Idempotent.
func (g *Garzon) Logout() {
	g.mu.Lock()
	if g.stopTimer != nil {
		g.stopTimer()
		g.stopTimer = nil
	}
	wasAuthenticated := g.state.Status == StatusAuthenticated
	g.token = ""
	g.state = GarzonState{Status: StatusUnauthenticated}
	snap := g.state
	g.mu.Unlock()

	if wasAuthenticated {
		g.logger.Info("garzon session closed")
	}
	g.metrics.IncrTransition("garzon", snap.Status.String())
	g.feed.publish(snap)
}

func (g *Garzon) fail(err error) {
	g.logger.Warn("garzon login failed", zap.Error(err))
	g.mu.Lock()
	g.token = ""
	g.state = GarzonState{Status: StatusUnauthenticated, Err: domain.Message(err)}
	snap := g.state
	g.mu.Unlock()
	g.metrics.IncrTransition("garzon", snap.Status.String())
	g.feed.publish(snap)
}

func (g *Garzon) setError(message string) {
	g.mu.Lock()
	g.state.Err = message
	snap := g.state
	g.mu.Unlock()
	g.feed.publish(snap)
}

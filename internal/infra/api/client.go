// Package api implements the HTTP backend collaborator used by every
// store. All calls go through a shared circuit breaker; idempotent GETs
// are retried with exponential backoff, credential exchanges never are.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/maletapp/malet-client-go/internal/domain"
	"github.com/maletapp/malet-client-go/internal/infra/resilience"
	"github.com/maletapp/malet-client-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("infra/api")

var (
	_ port.AuthAPI   = (*Client)(nil)
	_ port.BankAPI   = (*Client)(nil)
	_ port.GarzonAPI = (*GarzonClient)(nil)
)

// maxConcurrentRequests caps in-flight backend calls from one client
// process; a burst (e.g. warming every account's ledger) queues instead
// of stampeding a mobile connection.
const maxConcurrentRequests = 4

// Client talks to the Malet backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a backend client.
func NewClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(maxConcurrentRequests),
		cfg:        cfg,
		logger:     logger,
	}
}

// ============================================================
// Auth
// ============================================================

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthPayload, error) {
	ctx, span := tracer.Start(ctx, "Client.Login")
	defer span.End()

	var payload domain.AuthPayload
	if err := c.do(ctx, http.MethodPost, "/login", "", req, &payload, false); err != nil {
		return nil, err
	}
	if payload.Token == "" || payload.User == nil {
		return nil, &domain.ErrNetwork{Op: "login", Err: fmt.Errorf("malformed response: missing token or user")}
	}
	return &payload, nil
}

// Register creates a new user. The backend does not issue a token here;
// the caller follows up with Login.
func (c *Client) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Client.Register")
	defer span.End()

	var resp domain.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/register", "", req, &resp, false); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &domain.ErrNetwork{Op: "register", Err: fmt.Errorf("malformed response: missing user")}
	}
	return resp.User, nil
}

// LoginWithGoogle exchanges an externally obtained identity token for a
// session.
func (c *Client) LoginWithGoogle(ctx context.Context, idToken string) (*domain.AuthPayload, error) {
	ctx, span := tracer.Start(ctx, "Client.LoginWithGoogle")
	defer span.End()

	var payload domain.AuthPayload
	if err := c.do(ctx, http.MethodPost, "/login/google", "", &domain.GoogleLoginRequest{IDToken: idToken}, &payload, false); err != nil {
		return nil, err
	}
	if payload.Token == "" || payload.User == nil {
		return nil, &domain.ErrNetwork{Op: "login/google", Err: fmt.Errorf("malformed response: missing token or user")}
	}
	return &payload, nil
}

// VerifySession validates a persisted token and hydrates the user.
func (c *Client) VerifySession(ctx context.Context, token string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Client.VerifySession")
	defer span.End()

	var resp domain.VerifyResponse
	if err := c.do(ctx, http.MethodGet, "/session/verify", token, nil, &resp, true); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &domain.ErrNetwork{Op: "session/verify", Err: fmt.Errorf("malformed response: missing user")}
	}
	return resp.User, nil
}

// ============================================================
// Accounts & transactions
// ============================================================

// ListAccounts fetches the authenticated user's accounts.
func (c *Client) ListAccounts(ctx context.Context, token string) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Client.ListAccounts")
	defer span.End()

	var accounts []domain.Account
	if err := c.do(ctx, http.MethodGet, "/accounts", token, nil, &accounts, true); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListTransactions fetches the transaction history of one account.
func (c *Client) ListTransactions(ctx context.Context, token, accountID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Client.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var transactions []domain.Transaction
	path := fmt.Sprintf("/accounts/%s/transactions", accountID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &transactions, true); err != nil {
		return nil, err
	}
	return transactions, nil
}

// ============================================================
// Garzon
// ============================================================

// GarzonLogin authenticates the operational role.
func (c *Client) GarzonLogin(ctx context.Context, req *domain.GarzonLoginRequest) (*domain.GarzonLoginResponse, error) {
	ctx, span := tracer.Start(ctx, "Client.GarzonLogin")
	defer span.End()

	var resp domain.GarzonLoginResponse
	if err := c.do(ctx, http.MethodPost, "/garzon/login", "", req, &resp, false); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &domain.ErrNetwork{Op: "garzon/login", Err: fmt.Errorf("malformed response: missing token")}
	}
	return &resp, nil
}

// GarzonDashboard fetches the operational dashboard.
func (c *Client) GarzonDashboard(ctx context.Context, token string) (*domain.GarzonDashboard, error) {
	ctx, span := tracer.Start(ctx, "Client.GarzonDashboard")
	defer span.End()

	var dash domain.GarzonDashboard
	if err := c.do(ctx, http.MethodGet, "/garzon/dashboard", token, nil, &dash, true); err != nil {
		return nil, err
	}
	return &dash, nil
}

// GarzonClient adapts Client to the operational session's port. Client
// itself cannot implement it: Login is already taken by the primary
// auth port.
type GarzonClient struct {
	c *Client
}

// NewGarzonClient wraps a Client for garzon use.
func NewGarzonClient(c *Client) *GarzonClient {
	return &GarzonClient{c: c}
}

// Login authenticates the operational role.
func (g *GarzonClient) Login(ctx context.Context, req *domain.GarzonLoginRequest) (*domain.GarzonLoginResponse, error) {
	return g.c.GarzonLogin(ctx, req)
}

// Dashboard fetches the operational dashboard.
func (g *GarzonClient) Dashboard(ctx context.Context, token string) (*domain.GarzonDashboard, error) {
	return g.c.GarzonDashboard(ctx, token)
}

// ============================================================
// Transport
// ============================================================

type errorBody struct {
	Error string `json:"error"`
}

// do executes one JSON round-trip through the circuit breaker. When
// retry is true the call is retried with backoff; 4xx responses are
// permanent and returned immediately.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any, retry bool) error {
	op := method + " " + path

	call := func() error {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return resilience.Permanent(fmt.Errorf("encode request: %w", err))
			}
			reader = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return resilience.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return resilience.Permanent(c.statusError(op, resp))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resilience.Permanent(&domain.ErrNetwork{Op: op, Err: fmt.Errorf("decode response: %w", err)})
		}
		return nil
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.bulkhead.Execute(ctx, func() error {
			if retry {
				return resilience.RetryWithBackoff(ctx, c.cfg, call)
			}

			// Single attempt, but still honor the Permanent unwrapping
			// so breakers and callers see the same error shape either
			// way.
			cfg := resilience.Config{MaxRetries: 0, InitialBackoff: c.cfg.InitialBackoff}
			return resilience.RetryWithBackoff(ctx, cfg, call)
		})
	})
	if err == nil {
		return nil
	}

	var netErr *domain.ErrNetwork
	var authErr *domain.ErrUnauthorized
	var valErr *domain.ErrValidation
	var nfErr *domain.ErrNotFound
	if errors.As(err, &netErr) || errors.As(err, &authErr) || errors.As(err, &valErr) || errors.As(err, &nfErr) {
		return err
	}

	// Transport failure, timeout, or breaker open.
	c.logger.Warn("backend call failed", zap.String("operation", op), zap.Error(err))
	return &domain.ErrNetwork{Op: op, Err: err}
}

// statusError maps a non-2xx response to the domain error taxonomy.
func (c *Client) statusError(op string, resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		msg := eb.Error
		if msg == "" {
			msg = "Invalid credentials or expired session."
		}
		return &domain.ErrUnauthorized{Message: msg}
	case resp.StatusCode == http.StatusNotFound:
		return &domain.ErrNotFound{Resource: "resource", ID: op}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := eb.Error
		if msg == "" {
			msg = fmt.Sprintf("Request rejected (%d).", resp.StatusCode)
		}
		return &domain.ErrValidation{Field: "request", Message: msg}
	default:
		return &domain.ErrNetwork{Op: op, Err: fmt.Errorf("backend returned status %d", resp.StatusCode)}
	}
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/maletapp/malet-client-go/internal/config"
	"github.com/maletapp/malet-client-go/internal/domain"
	"github.com/maletapp/malet-client-go/internal/infra/api"
	"github.com/maletapp/malet-client-go/internal/infra/keychain"
	"github.com/maletapp/malet-client-go/internal/infra/observability"
	"github.com/maletapp/malet-client-go/internal/infra/resilience"
	"github.com/maletapp/malet-client-go/internal/infra/snapshot"
	"github.com/maletapp/malet-client-go/internal/port"
	"github.com/maletapp/malet-client-go/internal/reactor"
	"github.com/maletapp/malet-client-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// terminalAlerter is the user-facing error channel of the terminal
// client: one stderr line per alert.
type terminalAlerter struct{}

func (terminalAlerter) Alert(title, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", title, message)
}

func main() {
	// --- Load .env file (for local development) ---
	_ = godotenv.Load()

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("api_url", cfg.APIBaseURL),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("garzon_refresh_interval", cfg.GarzonRefreshInterval),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "malet-client")
	if err != nil {
		logger.Warn("tracer init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}
	cb := resilience.NewCircuitBreaker("malet-backend")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	backend := api.NewClient(httpClient, cfg.APIBaseURL, cb, resilienceCfg, logger)

	// --- Local state ---
	vault, err := keychain.NewFileVault(cfg.VaultPath, cfg.VaultPassphrase)
	if err != nil {
		logger.Fatal("failed to open vault", zap.Error(err))
	}

	snapshots, err := snapshot.New(cfg.SnapshotPath)
	if err != nil {
		logger.Warn("ledger snapshots unavailable", zap.Error(err))
		snapshots = nil
	} else {
		defer snapshots.Close()
	}

	// --- Stores ---
	session := store.NewSession(backend, vault, metrics, logger)
	accounts := store.NewAccounts(session, backend, metrics, logger)
	var ledgerSnapshots port.LedgerSnapshots
	if snapshots != nil {
		ledgerSnapshots = snapshots
	}
	ledger := store.NewLedger(session, backend, ledgerSnapshots, metrics, logger)
	garzon := store.NewGarzon(api.NewGarzonClient(backend), metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger.Hydrate(ctx)

	// --- Synchronizer (cold-start verification happens here) ---
	sync := reactor.New(session, accounts, ledger, garzon, terminalAlerter{}, metrics, logger)
	sync.Start(ctx)
	defer sync.Stop()

	// --- Debug server ---
	go serveDebug(cfg.DebugAddr, session, accounts, metrics, logger)

	// --- Signals ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		garzon.StopAutoRefresh()
		cancel()
		fmt.Println()
		os.Exit(0)
	}()

	if session.State().Status == store.StatusAuthenticated {
		fmt.Printf("Welcome back, %s.\n", session.State().User.Name)
		accounts.LoadAccounts(ctx)
	}

	repl(ctx, cfg, session, accounts, ledger, garzon, logger)
}

func serveDebug(addr string, session *store.Session, accounts *store.Accounts, metrics *observability.Metrics, logger *zap.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.ZapLoggerMiddleware(logger))

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
		sess := session.State()
		acc := accounts.State()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_status":   sess.Status.String(),
			"selected_account": acc.SelectedID,
			"account_count":    len(acc.Accounts),
			"metrics":          metrics.Snapshot(),
		})
	})

	logger.Info("debug server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Warn("debug server stopped", zap.Error(err))
	}
}

func repl(ctx context.Context, cfg *config.Config, session *store.Session, accounts *store.Accounts, ledger *store.Ledger, garzon *store.Garzon, logger *zap.Logger) {
	fmt.Println(`Commands: login, register, accounts, select <n>, tx, warm, hide, garzon <login|refresh|auto|stop|logout>, logout, quit`)

	in := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "login":
			email := prompt(in, "Email: ")
			password, err := promptPassword("Password: ")
			if err != nil {
				fmt.Println("could not read password")
				continue
			}
			if session.Login(ctx, email, password) {
				fmt.Printf("Signed in as %s.\n", session.State().User.Name)
				accounts.LoadAccounts(ctx)
			}

		case "register":
			req := &domain.RegisterRequest{
				Name:     prompt(in, "Name: "),
				Username: prompt(in, "Username: "),
				Email:    prompt(in, "Email: "),
			}
			password, err := promptPassword("Password: ")
			if err != nil {
				fmt.Println("could not read password")
				continue
			}
			req.Password = password
			if session.Register(ctx, req) {
				fmt.Printf("Welcome, %s.\n", session.State().User.Name)
				accounts.LoadAccounts(ctx)
			}

		case "accounts":
			if !accounts.LoadAccounts(ctx) {
				continue
			}
			printAccounts(accounts.State())

		case "select":
			if len(fields) < 2 {
				fmt.Println("usage: select <n>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			st := accounts.State()
			if err != nil || n < 1 || n > len(st.Accounts) {
				fmt.Println("no such account")
				continue
			}
			// Triggers the forced ledger fetch through the synchronizer.
			accounts.SelectAccount(st.Accounts[n-1].ID)
			fmt.Printf("Selected %s.\n", st.Accounts[n-1].Name)

		case "tx":
			acc, ok := accounts.Selected()
			if !ok {
				fmt.Println("select an account first")
				continue
			}
			ledger.HistoryTransactions(ctx, acc.ID, false)
			printLedger(ledger, acc)

		case "warm":
			warmLedger(ctx, accounts, ledger, logger)

		case "hide":
			accounts.ToggleBalanceVisibility()
			printAccounts(accounts.State())

		case "garzon":
			if len(fields) < 2 {
				fmt.Println("usage: garzon <login|refresh|auto|stop|logout>")
				continue
			}
			garzonCmd(ctx, in, fields[1], cfg, garzon)

		case "logout":
			garzon.StopAutoRefresh()
			session.Logout(ctx)
			fmt.Println("Signed out.")

		case "quit", "exit":
			return

		default:
			fmt.Println("unknown command")
		}
	}
}

// warmLedger prefetches the history of every loaded account
// concurrently, respecting the per-account warm-cache no-op.
func warmLedger(ctx context.Context, accounts *store.Accounts, ledger *store.Ledger, logger *zap.Logger) {
	st := accounts.State()
	if len(st.Accounts) == 0 {
		fmt.Println("no accounts loaded")
		return
	}

	start := time.Now()
	g, gCtx := errgroup.WithContext(ctx)
	for _, acc := range st.Accounts {
		accountID := acc.ID
		g.Go(func() error {
			ledger.HistoryTransactions(gCtx, accountID, false)
			return nil
		})
	}
	_ = g.Wait()

	logger.Debug("ledger warmed",
		zap.Int("accounts", len(st.Accounts)),
		zap.Duration("took", time.Since(start)),
	)
	fmt.Printf("Warmed %d account(s).\n", len(st.Accounts))
}

func garzonCmd(ctx context.Context, in *bufio.Reader, sub string, cfg *config.Config, garzon *store.Garzon) {
	switch sub {
	case "login":
		username := prompt(in, "Garzon username: ")
		password, err := promptPassword("Garzon password: ")
		if err != nil {
			fmt.Println("could not read password")
			return
		}
		if garzon.Login(ctx, username, password) {
			printDashboard(garzon.State())
		}
	case "refresh":
		if garzon.RefreshDashboard(ctx) {
			printDashboard(garzon.State())
		}
	case "auto":
		garzon.StartAutoRefresh(cfg.GarzonRefreshInterval)
		fmt.Printf("Auto-refresh every %s.\n", cfg.GarzonRefreshInterval)
	case "stop":
		garzon.StopAutoRefresh()
		fmt.Println("Auto-refresh stopped.")
	case "logout":
		garzon.Logout()
		fmt.Println("Garzon signed out.")
	default:
		fmt.Println("usage: garzon <login|refresh|auto|stop|logout>")
	}
}

func printAccounts(st store.AccountsState) {
	for i, acc := range st.Accounts {
		marker := " "
		if acc.ID == st.SelectedID {
			marker = "*"
		}
		balance := fmt.Sprintf("%.2f %s", acc.Balance, acc.Currency)
		if st.BalanceHidden {
			balance = "•••••"
		}
		fmt.Printf("%s %d. %-20s %s\n", marker, i+1, acc.Name, balance)
	}
}

func printLedger(ledger *store.Ledger, acc domain.Account) {
	entry, ok := ledger.Entry(acc.ID)
	if !ok {
		fmt.Println("no history yet")
		return
	}
	if entry.Err != "" {
		fmt.Printf("(last refresh failed: %s)\n", entry.Err)
	}
	for _, tx := range entry.Items {
		fmt.Printf("  %s  %-24s %+.2f (%s)\n", tx.IssuedAt.Format("2006-01-02"), tx.Name, tx.Amount, tx.Type)
	}
	if !entry.FetchedAt.IsZero() {
		fmt.Printf("  as of %s\n", entry.FetchedAt.Format(time.RFC822))
	}
}

func printDashboard(st store.GarzonState) {
	if st.Dashboard == nil {
		fmt.Println("no dashboard data")
		return
	}
	d := st.Dashboard
	fmt.Printf("%s: %d open tables, %d pending orders, %.2f %s total\n",
		d.Venue, d.OpenTables, d.PendingOrders, d.TotalSales, d.Currency)
	for _, t := range d.Tables {
		fmt.Printf("  table %-6s %-10s %.2f (%d courses)\n", t.Table, t.Status, t.Total, t.Courses)
	}
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptPassword(label string) (string, error) {
	fmt.Print(label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

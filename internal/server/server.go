package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/sharepool/internal/auth"
	"github.com/dukerupert/sharepool/internal/backup"
	"github.com/dukerupert/sharepool/internal/email"
	"github.com/dukerupert/sharepool/internal/handler"
	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/metrics"
	"github.com/dukerupert/sharepool/internal/middleware"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/payments"
	"github.com/dukerupert/sharepool/internal/store"
	ws "github.com/dukerupert/sharepool/internal/websocket"
)

// Config carries everything the server needs beyond the database.
type Config struct {
	JWTSecret      string
	JWTTTL         time.Duration
	Vault          ledger.CredentialVault
	Stripe         *payments.Config
	Backup         backup.Config
	SweepInterval  time.Duration
	OriginPatterns []string

	// Receipts are mailed only when a Postmark token is set.
	PostmarkToken string
	MailFrom      string
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	metrics     *metrics.Metrics
	ledger      *ledger.Service
	sweeper     *ledger.Sweeper
	tokens      *auth.TokenManager
	rateLimiter *middleware.RateLimiter
	backups     *backup.Manager
	receipts    *email.ReceiptNotifier

	authH     *handler.AuthHandler
	walletH   *handler.WalletHandler
	listingH  *handler.ListingHandler
	adminH    *handler.AdminHandler
	webhookH  *handler.WebhookHandler
	wsOrigins []string

	logger *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	m := metrics.New()

	accountStore := store.NewAccountStore(db)
	listingStore := store.NewListingStore(db)
	grantStore := store.NewGrantStore(db)
	journalStore := store.NewJournalStore(db)
	settingsStore := store.NewSettingsStore(db)

	observers := ledger.Observers{m, ws.NewLedgerNotifier(hub)}
	var receipts *email.ReceiptNotifier
	if cfg.PostmarkToken != "" {
		mailer := email.NewClient(cfg.PostmarkToken, cfg.MailFrom)
		receipts = email.NewReceiptNotifier(mailer, accountStore, listingStore, logger.With("component", "email"))
		observers = append(observers, receipts)
	}

	ledgerLogger := logger.With("component", "ledger")
	svc := ledger.NewService(db, cfg.Vault, observers, ledgerLogger)

	backupMgr := backup.NewManager(cfg.Backup, db, store.NewBackupStore(db), logger.With("component", "backup"),
		func(s backup.Status) {
			hub.SendToAdmins(ws.NewMessage("backup", string(s.State), 0, map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			}))
		})

	var pay *payments.Client
	if cfg.Stripe != nil && cfg.Stripe.SecretKey != "" {
		pay = payments.NewClient(*cfg.Stripe)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)

	m.RegisterGauge("websocket_clients", "Connected websocket clients.", func() float64 {
		return float64(hub.ClientCount())
	})
	m.RegisterGauge("grants_active", "Grants currently in the active state.", func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		counts, err := grantStore.CountByStatus(ctx)
		if err != nil {
			return 0
		}
		return float64(counts[model.GrantActive])
	})

	return &Server{
		db:          db,
		hub:         hub,
		metrics:     m,
		ledger:      svc,
		sweeper:     ledger.NewSweeper(svc, cfg.SweepInterval, logger.With("component", "sweeper")),
		tokens:      tokens,
		rateLimiter: middleware.NewRateLimiter(),
		backups:     backupMgr,
		receipts:    receipts,
		authH:       handler.NewAuthHandler(auth.NewAuthenticator(accountStore), tokens, accountStore, logger.With("component", "auth")),
		walletH:     handler.NewWalletHandler(svc, accountStore, journalStore, pay, logger.With("component", "wallet")),
		listingH:    handler.NewListingHandler(svc, listingStore, grantStore, logger.With("component", "listing")),
		adminH: handler.NewAdminHandler(db, svc, accountStore, listingStore, settingsStore, backupMgr, hub,
			logger.With("component", "admin")),
		webhookH:  handler.NewWebhookHandler(pay, svc, journalStore, logger.With("component", "webhook")),
		wsOrigins: cfg.OriginPatterns,
		logger:    logger,
	}
}

// Receipts returns the receipt mailer, or nil when mail is not configured.
func (s *Server) Receipts() *email.ReceiptNotifier {
	return s.receipts
}

// Sweeper returns the expiry sweeper for the caller to start and stop.
func (s *Server) Sweeper() *ledger.Sweeper {
	return s.sweeper
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backups
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/register", s.limitByIP(s.authH.Register, 5, time.Minute))
	outerMux.HandleFunc("POST /api/auth/login", s.limitByIP(s.authH.Login, 10, time.Minute))
	outerMux.HandleFunc("POST /webhooks/stripe", s.webhookH.Stripe)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", s.metrics.Handler())

	// Protected routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	protectedMux.Handle("/api/admin/", middleware.RequireAdmin(adminMux))

	outerMux.Handle("/", middleware.RequireAuth(s.tokens)(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status, code = "database unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) limitByIP(h http.HandlerFunc, limit int, per time.Duration) http.HandlerFunc {
	return middleware.RateLimit(s.rateLimiter, middleware.ByIP, limit, per)(h).ServeHTTP
}

func (s *Server) limitByAccount(h http.HandlerFunc, limit int, per time.Duration) http.HandlerFunc {
	return middleware.RateLimit(s.rateLimiter, middleware.ByAccount, limit, per)(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/me", s.authH.Me)
	mux.Handle("GET /ws", ws.HandleWebSocket(s.hub, s.wsOrigins, s.logger.With("component", "websocket")))

	// Wallet
	mux.HandleFunc("GET /api/wallet", s.walletH.Balance)
	mux.HandleFunc("GET /api/wallet/entries", s.walletH.Entries)
	mux.HandleFunc("POST /api/wallet/topups", s.limitByAccount(s.walletH.RequestTopup, 10, time.Hour))
	mux.HandleFunc("POST /api/wallet/topups/checkout", s.limitByAccount(s.walletH.Checkout, 10, time.Hour))
	mux.HandleFunc("POST /api/wallet/topups/{id}/cancel", s.walletH.CancelTopup)

	// Listings
	mux.HandleFunc("GET /api/listings", s.listingH.List)
	mux.HandleFunc("POST /api/listings", s.listingH.Create)
	mux.HandleFunc("GET /api/listings/mine", s.listingH.Mine)
	mux.HandleFunc("GET /api/listings/{id}", s.listingH.Get)
	mux.HandleFunc("POST /api/listings/{id}/deactivate", s.listingH.Deactivate)
	mux.HandleFunc("POST /api/listings/{id}/purchase", s.limitByAccount(s.listingH.Purchase, 30, time.Minute))
	mux.HandleFunc("GET /api/listings/{id}/credentials", s.listingH.Credentials)

	// Grants
	mux.HandleFunc("GET /api/grants", s.listingH.Grants)
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/accounts", s.adminH.Accounts)
	mux.HandleFunc("POST /api/admin/accounts/{id}/adjust", s.adminH.Adjust)
	mux.HandleFunc("GET /api/admin/accounts/{id}/reconcile", s.adminH.Reconcile)

	mux.HandleFunc("GET /api/admin/listings", s.adminH.Listings)
	mux.HandleFunc("POST /api/admin/listings/{id}/verify", s.adminH.VerifyListing)
	mux.HandleFunc("POST /api/admin/listings/{id}/reject", s.adminH.RejectListing)

	mux.HandleFunc("GET /api/admin/topups", s.adminH.PendingTopups)
	mux.HandleFunc("POST /api/admin/topups/{id}/approve", s.adminH.ApproveTopup)
	mux.HandleFunc("POST /api/admin/topups/{id}/reject", s.adminH.RejectTopup)

	mux.HandleFunc("GET /api/admin/settings", s.adminH.GetSettings)
	mux.HandleFunc("PUT /api/admin/settings", s.adminH.UpdateSettings)

	mux.HandleFunc("GET /api/admin/backups", s.adminH.ListBackups)
	mux.HandleFunc("POST /api/admin/backups", s.adminH.RunBackup)
	mux.HandleFunc("GET /api/admin/backups/{id}/download", s.adminH.DownloadBackup)
}

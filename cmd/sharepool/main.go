package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dukerupert/sharepool/internal/auth"
	"github.com/dukerupert/sharepool/internal/backup"
	"github.com/dukerupert/sharepool/internal/database"
	"github.com/dukerupert/sharepool/internal/logging"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/payments"
	"github.com/dukerupert/sharepool/internal/server"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/dukerupert/sharepool/internal/vault"
)

const vaultSaltKey = "vault_salt"

func main() {
	logger := logging.Setup(os.Getenv("SHAREPOOL_LOG_LEVEL"), os.Getenv("SHAREPOOL_LOG_FORMAT"))

	port := envOr("SHAREPOOL_PORT", "8080")
	dbPath := envOr("SHAREPOOL_DB_PATH", "sharepool.db")
	baseURL := envOr("SHAREPOOL_BASE_URL", fmt.Sprintf("http://localhost:%s", port))

	jwtSecret := os.Getenv("SHAREPOOL_JWT_SECRET")
	vaultPassphrase := os.Getenv("SHAREPOOL_VAULT_PASSPHRASE")
	if jwtSecret == "" || vaultPassphrase == "" {
		slog.Error("SHAREPOOL_JWT_SECRET and SHAREPOOL_VAULT_PASSPHRASE are required")
		os.Exit(1)
	}

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("SHAREPOOL_S3_ENDPOINT"),
			Bucket:    os.Getenv("SHAREPOOL_S3_BUCKET"),
			Region:    envOr("SHAREPOOL_S3_REGION", "us-east-1"),
			AccessKey: os.Getenv("SHAREPOOL_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("SHAREPOOL_S3_SECRET_KEY"),
		},
		Passphrase:    os.Getenv("SHAREPOOL_BACKUP_PASSPHRASE"),
		Interval:      envDuration("SHAREPOOL_BACKUP_INTERVAL", 24*time.Hour),
		RetentionDays: envInt("SHAREPOOL_BACKUP_RETENTION_DAYS", 30),
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if len(os.Args) > 1 && os.Args[1] == "restore" {
		code := restore(db, backupCfg, os.Args[2:], logger)
		db.Close()
		os.Exit(code)
	}

	ctx := context.Background()

	sealer, err := openVault(ctx, db, vaultPassphrase)
	if err != nil {
		slog.Error("failed to open credential vault", "error", err)
		os.Exit(1)
	}

	if err := bootstrapAdmin(ctx, store.NewAccountStore(db),
		os.Getenv("SHAREPOOL_ADMIN_EMAIL"), os.Getenv("SHAREPOOL_ADMIN_PASSWORD")); err != nil {
		slog.Error("failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	cfg := server.Config{
		JWTSecret:      jwtSecret,
		JWTTTL:         envDuration("SHAREPOOL_JWT_TTL", 24*time.Hour),
		Vault:          sealer,
		Backup:         backupCfg,
		SweepInterval:  envDuration("SHAREPOOL_SWEEP_INTERVAL", time.Minute),
		OriginPatterns: splitList(os.Getenv("SHAREPOOL_ALLOWED_ORIGINS")),
		PostmarkToken:  os.Getenv("POSTMARK_SERVER_TOKEN"),
		MailFrom:       envOr("SHAREPOOL_MAIL_FROM", "noreply@sharepool.local"),
	}
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		cfg.Stripe = &payments.Config{
			SecretKey:     key,
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Currency:      os.Getenv("STRIPE_CURRENCY"),
			SuccessURL:    baseURL + "/wallet?topup=success",
			CancelURL:     baseURL + "/wallet?topup=cancelled",
		}
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	srv.Sweeper().Start(bgCtx)
	srv.BackupManager().Start(bgCtx)
	srv.RateLimiter().StartCleanup(bgCtx, 10*time.Minute)
	if r := srv.Receipts(); r != nil {
		go r.Run(bgCtx)
	}

	go func() {
		slog.Info("sharepool starting", "addr", ":"+port, "base_url", baseURL, "payments", cfg.Stripe != nil)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	bgCancel()
	srv.Sweeper().Stop()
	srv.BackupManager().Stop()
}

// openVault loads the credential vault salt, creating it on first start.
// Losing the salt makes every stored listing credential unreadable.
func openVault(ctx context.Context, db *sql.DB, passphrase string) (*vault.Sealer, error) {
	settings := store.NewSettingsStore(db)
	all, err := settings.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var salt []byte
	if raw, ok := all[vaultSaltKey]; ok {
		salt, err = hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode vault salt: %w", err)
		}
	} else {
		salt, err = vault.GenerateSalt()
		if err != nil {
			return nil, err
		}
		if err := settings.Set(ctx, vaultSaltKey, hex.EncodeToString(salt)); err != nil {
			return nil, err
		}
		slog.Info("generated credential vault salt")
	}

	return vault.NewSealer(passphrase, salt)
}

// bootstrapAdmin sets the platform account's login. The seeded account has
// no usable password until this runs.
func bootstrapAdmin(ctx context.Context, accounts *store.AccountStore, email, password string) error {
	if email != "" {
		if err := accounts.SetEmail(ctx, model.PlatformAccountID, email); err != nil {
			return err
		}
	}
	if password == "" {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := accounts.SetPassword(ctx, model.PlatformAccountID, hash); err != nil {
		return err
	}
	slog.Info("admin password set", "account", model.PlatformAccountID)
	return nil
}

// restore implements "sharepool restore <backup-id> <output-path>". It writes
// a verified copy of the snapshot; the operator swaps it in with the service
// stopped.
func restore(db *sql.DB, cfg backup.Config, args []string, logger *slog.Logger) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sharepool restore <backup-id> <output-path>")
		return 2
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid backup id %q\n", args[0])
		return 2
	}

	mgr := backup.NewManager(cfg, db, store.NewBackupStore(db), logger.With("component", "backup"), nil)
	if err := mgr.RestoreTo(context.Background(), id, args[1]); err != nil {
		slog.Error("restore failed", "backup", id, "error", err)
		return 1
	}
	fmt.Printf("backup %d restored to %s\n", id, args[1])
	return 0
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

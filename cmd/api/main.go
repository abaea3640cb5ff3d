package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ratedesk.org/internal/audit"
	"ratedesk.org/internal/auth"
	"ratedesk.org/internal/httpapi"
	"ratedesk.org/internal/notify"
	"ratedesk.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("RATEDESK_AUTH_SECRET")
	if secret == "" {
		log.Fatal("RATEDESK_AUTH_SECRET is required")
	}

	dsn := os.Getenv("RATEDESK_PG_DSN")
	if dsn == "" {
		log.Fatal("RATEDESK_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	rdb := redis.NewClient(&redis.Options{
		Addr:     envStr("RATEDESK_REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("RATEDESK_REDIS_PASSWORD"),
		DB:       envInt("RATEDESK_REDIS_DB", 0),
	})

	store := auth.NewPGStore(db)
	tickets := auth.NewRedisTicketStore(rdb, "reset_ticket")
	hasher := auth.NewBcryptHasher(0) // 0 selects the bcrypt default cost
	auditSink := &audit.Sink{}

	validator, err := auth.NewCredentialValidator(store, hasher,
		auth.WithLockoutThreshold(envInt("RATEDESK_LOCKOUT_THRESHOLD", 5)),
		auth.WithLockoutWindow(envDuration("RATEDESK_LOCKOUT_WINDOW", 15*time.Minute)),
		auth.WithAuditSink(auditSink),
	)
	if err != nil {
		log.Fatalf("credential validator: %v", err)
	}

	tokens, err := auth.NewTokenService(store, []byte(secret),
		auth.WithIssuer(envStr("RATEDESK_TOKEN_ISSUER", "ratedesk")),
		auth.WithAccessTTL(envDuration("RATEDESK_ACCESS_TTL", 2*time.Hour)),
		auth.WithRefreshTTL(envDuration("RATEDESK_REFRESH_TTL", 14*24*time.Hour)),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	resolver, err := auth.NewPermissionResolver(store, store, store)
	if err != nil {
		log.Fatalf("permission resolver: %v", err)
	}

	delegations, err := auth.NewDelegationManager(store, resolver,
		auth.WithDelegationAudit(auditSink),
	)
	if err != nil {
		log.Fatalf("delegation manager: %v", err)
	}

	reset, err := auth.NewPasswordResetFlow(store, tickets, hasher, notify.LogSink{},
		auth.WithResetTTL(envDuration("RATEDESK_RESET_TTL", time.Hour)),
		auth.WithResetAudit(auditSink),
	)
	if err != nil {
		log.Fatalf("password reset flow: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Version:            version,
		ReadyProbe:         httpapi.ReadyProbe{DB: db},
		Identities:         store,
		Validator:          validator,
		Tokens:             tokens,
		Resolver:           resolver,
		Delegations:        delegations,
		Reset:              reset,
		RateLimitPerSecond: envInt("RATEDESK_RATE_LIMIT_RPS", 20),
		RateLimitBurst:     envInt("RATEDESK_RATE_LIMIT_BURST", 40),
	})

	srv := &http.Server{
		Addr:              envStr("RATEDESK_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting ratedesk-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = rdb.Close()
	_ = db.Close()
	log.Println("Stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

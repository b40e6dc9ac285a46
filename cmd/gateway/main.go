package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edgegate/gateway-core/internal/audit"
	"github.com/edgegate/gateway-core/internal/auth"
	"github.com/edgegate/gateway-core/internal/cache"
	"github.com/edgegate/gateway-core/internal/certs"
	"github.com/edgegate/gateway-core/internal/config"
	"github.com/edgegate/gateway-core/internal/db"
	"github.com/edgegate/gateway-core/internal/dispatch"
	"github.com/edgegate/gateway-core/internal/httpapi"
	"github.com/edgegate/gateway-core/internal/purge"
	"github.com/edgegate/gateway-core/internal/shared"
	"github.com/edgegate/gateway-core/internal/signing"
	"github.com/edgegate/gateway-core/internal/tenancy"
	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

const version = "0.1.0"

var (
	configPath  = flag.String("config", "", "Path to configuration file (JSON)")
	showVersion = flag.Bool("version", false, "Show version information")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	listenAddr  = flag.String("listen", envOr("GATEWAY_LISTEN_ADDR", ":8443"), "HTTP listen address")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("gateway version %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	log.Info().Str("version", version).Str("listen", *listenAddr).Msg("starting gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("gateway failed")
		os.Exit(1)
	}

	log.Info().Msg("gateway stopped gracefully")
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	if *debug {
		cfg.Debug = true
		if *logLevel == "info" {
			cfg.LogLevel = "debug"
		}
	}
	if *logLevel != "info" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// internalBundleTenant/internalBundleEnv name the reserved credential
// slot the gateway's own FastPurge and CPS backends sign under,
// distinct from any tenant's own bundle (spec §4.2's tenant namespace
// never includes this reserved pair).
const (
	internalBundleTenant = "_gateway"
	internalBundleEnv    = "service"
)

// run wires every subsystem and serves the boundary HTTP surface until
// ctx is cancelled, then drains in-flight requests before returning.
func run(ctx context.Context, cfg *config.Config) error {
	breakers := shared.NewBreakerRegistry()

	store, err := buildCredentialStore(cfg)
	if err != nil {
		return fmt.Errorf("building credential store: %w", err)
	}

	auditSink, closeAudit, err := buildAuditSink(ctx)
	if err != nil {
		return fmt.Errorf("building audit sink: %w", err)
	}
	defer closeAudit()

	authz := buildAuthzPredicate()
	tm := tenancy.NewContextManager(store, authz, auditSink, breakers)

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("building cache: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("failed to flush cache on shutdown")
		}
	}()

	purgeQueue := purge.NewQueue()
	purgeLimiter := purge.NewDualLimiter()

	signingClient := signing.NewClient(breakers)
	serviceBundle, err := store.Get(internalBundleTenant, internalBundleEnv)
	if err != nil {
		log.Warn().Err(err).Msg("no service credential bundle configured; purge tracking and certificate deployment are disabled")
	}

	var tracker *purge.Tracker
	var coordinator *certs.Coordinator
	eventBus := certs.NewBus()
	if serviceBundle != nil {
		fastPurge := purge.NewFastPurgeBackend(signingClient, serviceBundle)
		tracker = purge.NewTracker(fastPurge.Poll, nil)

		cps := certs.NewCPSBackend(signingClient, serviceBundle)
		coordinator = certs.NewCoordinator(cps, eventBus, log.Logger)
	}

	subsystems := &dispatch.Subsystems{
		Tenancy: tm,
		Cache:   c,
		Purge:   purgeQueue,
		Limiter: purgeLimiter,
		Tracker: tracker,
		Certs:   coordinator,
		Events:  eventBus,
	}

	registry := dispatch.NewRegistry()
	dispatch.RegisterAllTools(registry)

	identity := buildIdentityProvider()
	dispatcher := dispatch.NewDispatcher(registry, identity, tm, subsystems, log.Logger)

	srv := &httpapi.Server{
		Dispatcher:      dispatcher,
		Registry:        registry,
		RateLimitConfig: httpapi.DefaultRateLimitConfig,
	}

	httpServer := &http.Server{
		Addr:         *listenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *listenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildCredentialStore builds the (tenant, env) -> signing.Bundle
// resolver, wrapping it in SecureStore when CREDENTIAL_MASTER_KEY is
// configured (spec §4.2, §6).
func buildCredentialStore(cfg *config.Config) (tenancy.CredentialStore, error) {
	inner, err := tenancy.NewIniStore(cfg.Credential.FilePath)
	if err != nil {
		return nil, err
	}
	if len(cfg.Credential.MasterKey) == 0 {
		return inner, nil
	}
	return tenancy.NewSecureStore(inner, cfg.Credential.MasterKey)
}

// buildAuditSink wires a PostgresSink when DATABASE_URL is set,
// otherwise an in-memory ring buffer suitable for local development.
func buildAuditSink(ctx context.Context) (tenancy.AuditSink, func(), error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Warn().Msg("DATABASE_URL not set; audit events are kept in memory only")
		return audit.NewMemorySink(1000), func() {}, nil
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return audit.NewPostgresSink(pool), pool.Close, nil
}

// buildAuthzPredicate selects WorkOS-backed authorization when
// WORKOS_API_KEY is configured, otherwise allow-all for local
// development.
func buildAuthzPredicate() tenancy.AuthzPredicate {
	apiKey := os.Getenv("WORKOS_API_KEY")
	if apiKey == "" {
		log.Warn().Msg("WORKOS_API_KEY not set; every tenant switch/credential-use request is allowed")
		return tenancy.AllowAllPredicate{}
	}
	client := usermanagement.NewClient(apiKey)
	return tenancy.NewWorkOSPredicate(client, os.Getenv("WORKOS_DEFAULT_TENANT_ID"))
}

// buildIdentityProvider selects JWT bearer-token validation when
// GATEWAY_JWT_ISSUER or GATEWAY_JWT_HS256_SECRET is configured,
// otherwise allow-all for local development (spec §6's injected
// identity abstraction).
func buildIdentityProvider() dispatch.IdentityProvider {
	jwtCfg := auth.JWTCfg{
		HS256Secret: os.Getenv("GATEWAY_JWT_HS256_SECRET"),
		Issuer:      os.Getenv("GATEWAY_JWT_ISSUER"),
		JWKSURL:     os.Getenv("GATEWAY_JWT_JWKS_URL"),
		Audience:    os.Getenv("GATEWAY_JWT_AUDIENCE"),
	}
	if jwtCfg.HS256Secret == "" && jwtCfg.Issuer == "" {
		log.Warn().Msg("no JWT configuration found; every session token is accepted as-is")
		return dispatch.AllowAllIdentity{}
	}
	// InitJWKSCache is a no-op without a JWKS URL; a failed pre-fetch is
	// logged inside it and retried on first use.
	_ = auth.InitJWKSCache(jwtCfg)
	return dispatch.NewJWTIdentity(jwtCfg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

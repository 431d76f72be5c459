/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command host-api is the public-facing binary: it terminates TLS at
// the load balancer in front of it, authenticates callers, provisions
// users, enforces sensitive-endpoint rate limits, and forwards every
// assistant query to the enclave runtime over the signed RPC
// transport without ever looking inside the encrypted payload.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/altairalabs/assistant-core/internal/apihandlers"
	"github.com/altairalabs/assistant-core/internal/audit"
	"github.com/altairalabs/assistant-core/internal/automation"
	"github.com/altairalabs/assistant-core/internal/config"
	"github.com/altairalabs/assistant-core/internal/connector"
	"github.com/altairalabs/assistant-core/internal/devices"
	"github.com/altairalabs/assistant-core/internal/enclaverpc"
	"github.com/altairalabs/assistant-core/internal/identity"
	"github.com/altairalabs/assistant-core/internal/jobs"
	"github.com/altairalabs/assistant-core/internal/preferences"
	"github.com/altairalabs/assistant-core/internal/privacy"
	"github.com/altairalabs/assistant-core/internal/ratelimit"
	"github.com/altairalabs/assistant-core/internal/session"
	storepostgres "github.com/altairalabs/assistant-core/internal/store/postgres"
	"github.com/altairalabs/assistant-core/internal/users"
	"github.com/altairalabs/assistant-core/pkg/logging"
)

// flags groups host-api's CLI flags on top of the ones every binary
// shares.
type flags struct {
	common *config.Common

	apiAddr string

	jwtPublicKeyPath string
	jwtIssuer        string

	enclaveBaseURL          string
	enclaveSharedSecretPath string

	googleClientID        string
	googleClientSecret    string
	connectorRedirectBase string

	privacySLAHours int
}

func parseFlags() *flags {
	f := &flags{}
	fs := flag.CommandLine
	f.common = config.BindCommon(fs)

	fs.StringVar(&f.apiAddr, "api-addr", ":8080", "API server listen address")
	fs.StringVar(&f.jwtPublicKeyPath, "jwt-public-key-path", "", "Path to the PEM-encoded JWT verification public key")
	fs.StringVar(&f.jwtIssuer, "jwt-issuer", "", "Expected JWT issuer")
	fs.StringVar(&f.enclaveBaseURL, "enclave-base-url", "", "Base URL of the enclave runtime")
	fs.StringVar(&f.enclaveSharedSecretPath, "enclave-shared-secret-path", "", "Path to the host<->enclave HMAC shared secret")
	fs.StringVar(&f.googleClientID, "google-client-id", "", "Google OAuth2 client ID")
	fs.StringVar(&f.googleClientSecret, "google-client-secret", "", "Google OAuth2 client secret")
	fs.StringVar(&f.connectorRedirectBase, "connector-redirect-base", "", "Externally reachable origin for OAuth2 redirects")
	fs.IntVar(&f.privacySLAHours, "privacy-sla-hours", 72, "Hours a privacy-deletion request has to complete before its SLA is breached")
	fs.Parse(os.Args[1:])

	f.common.ApplyEnvFallbacks()
	config.EnvFallback(&f.apiAddr, ":8080", "API_ADDR")
	config.EnvFallback(&f.jwtPublicKeyPath, "", "JWT_PUBLIC_KEY_PATH")
	config.EnvFallback(&f.jwtIssuer, "", "JWT_ISSUER")
	config.EnvFallback(&f.enclaveBaseURL, "", "ENCLAVE_BASE_URL")
	config.EnvFallback(&f.enclaveSharedSecretPath, "", "ENCLAVE_SHARED_SECRET_PATH")
	config.EnvFallback(&f.googleClientID, "", "GOOGLE_CLIENT_ID")
	config.EnvFallback(&f.googleClientSecret, "", "GOOGLE_CLIENT_SECRET")
	config.EnvFallback(&f.connectorRedirectBase, "", "CONNECTOR_REDIRECT_BASE")
	config.EnvIntFallback(&f.privacySLAHours, 72, "PRIVACY_SLA_HOURS")

	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()

	if f.common.PostgresConn == "" {
		return fmt.Errorf("--postgres-conn or POSTGRES_CONN is required")
	}
	if f.jwtPublicKeyPath == "" {
		return fmt.Errorf("--jwt-public-key-path or JWT_PUBLIC_KEY_PATH is required")
	}
	if f.enclaveBaseURL == "" {
		return fmt.Errorf("--enclave-base-url or ENCLAVE_BASE_URL is required")
	}
	if f.enclaveSharedSecretPath == "" {
		return fmt.Errorf("--enclave-shared-secret-path or ENCLAVE_SHARED_SECRET_PATH is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := initPool(ctx, f.common.PostgresConn)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := runMigrations(f.common.PostgresConn, log); err != nil {
		return err
	}
	log.V(1).Info("migrations complete")

	apiMux, auditLogger, err := buildAPIHandler(f, pool, log)
	if err != nil {
		return err
	}
	defer func() { _ = auditLogger.Close() }()

	healthSrv := newHealthServer(f.common.HealthAddr, pool)
	metricsSrv := newMetricsServer(f.common.MetricsAddr)
	apiSrv := &http.Server{Addr: f.apiAddr, Handler: apiMux}

	startHTTPServer(log, "health", f.common.HealthAddr, healthSrv)
	startHTTPServer(log, "metrics", f.common.MetricsAddr, metricsSrv)
	startHTTPServer(log, "host API", f.apiAddr, apiSrv)

	log.Info("host-api ready", "api", f.apiAddr, "health", f.common.HealthAddr, "metrics", f.common.MetricsAddr)

	<-ctx.Done()
	log.Info("shutting down")
	shutdownServers(log, apiSrv, healthSrv, metricsSrv)
	return nil
}

// buildAPIHandler wires every service the host API depends on and
// returns the composed router along with the audit logger, whose
// background workers the caller must stop on shutdown.
func buildAPIHandler(f *flags, pool *pgxpool.Pool, log logr.Logger) (http.Handler, *audit.Logger, error) {
	jwtPublicKeyPEM, err := os.ReadFile(f.jwtPublicKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading JWT public key: %w", err)
	}
	verifier, err := identity.NewVerifier(jwtPublicKeyPEM, f.jwtIssuer)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing identity verifier: %w", err)
	}

	sharedSecret, err := os.ReadFile(f.enclaveSharedSecretPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading enclave shared secret: %w", err)
	}
	signer := enclaverpc.NewSigner(sharedSecret)
	rpcClient := enclaverpc.NewClient(http.DefaultClient, f.enclaveBaseURL, signer)

	userStore := users.NewStore(pool)
	preferencesStore := preferences.NewStore(pool)
	deviceStore := devices.NewStore(pool)

	providers := map[string]connector.ProviderConfig{}
	if f.googleClientID != "" {
		providers[connector.ProviderGoogle] = connector.NewGoogleConfig(f.googleClientID, f.googleClientSecret, f.connectorRedirectBase)
	}
	connectorStore := connector.NewPostgresStore(pool)
	connectorService := connector.NewService(connectorStore, rpcClient, providers, log)

	jobStore := jobs.NewStore(pool)
	automationStore := automation.NewStore(pool, jobStore)

	auditLogger := audit.NewLogger(pool, log, audit.LoggerConfig{})
	auditQuery := func(ctx context.Context, userID, cursor string, limit int) (audit.Page, error) {
		return audit.Query(ctx, pool, userID, cursor, limit)
	}

	purger := session.NewPurger(pool)
	privacyStore := privacy.NewPostgresStore(pool)
	privacyService := privacy.NewService(
		privacyStore,
		connectorService,
		purger,
		userStore,
		auditLogger,
		time.Duration(f.privacySLAHours)*time.Hour,
		log,
	)

	limiter := ratelimit.New(ratelimit.DefaultPolicies())

	router := apihandlers.NewRouter(apihandlers.RouterConfig{
		Verifier:       verifier,
		Users:          userStore,
		RateLimiter:    limiter,
		TrustedProxies: map[string]struct{}{},

		AssistantRPC: rpcClient,
		Connectors:   connectorService,
		Preferences:  preferencesStore,
		AuditQuery:   auditQuery,
		Privacy:      privacyService,
		Automations:  automationStore,
		Devices:      deviceStore,

		Log: log,
	})
	return router, auditLogger, nil
}

// startHTTPServer starts an HTTP server in a background goroutine.
func startHTTPServer(log logr.Logger, name, addr string, srv *http.Server) {
	go func() {
		log.Info("starting server", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error", "server", name)
		}
	}()
}

// shutdownServers gracefully stops all servers with a 30-second timeout.
func shutdownServers(log logr.Logger, srvs ...*http.Server) {
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()

	for _, srv := range srvs {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error(err, "server shutdown error", "addr", srv.Addr)
		}
	}
}

// Pool configuration defaults.
const (
	defaultMaxConns        = 25
	defaultMinConns        = 5
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 30 * time.Minute
)

// initPool creates a pgxpool connection pool with configured limits.
//
//	PG_MAX_CONNS (default 25), PG_MIN_CONNS (default 5),
//	PG_MAX_CONN_LIFETIME (default 1h), PG_MAX_CONN_IDLE_TIME (default 30m).
func initPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres connection string: %w", err)
	}

	poolCfg.MaxConns = envInt32("PG_MAX_CONNS", defaultMaxConns)
	poolCfg.MinConns = envInt32("PG_MIN_CONNS", defaultMinConns)
	poolCfg.MaxConnLifetime = envDuration("PG_MAX_CONN_LIFETIME", defaultMaxConnLifetime)
	poolCfg.MaxConnIdleTime = envDuration("PG_MAX_CONN_IDLE_TIME", defaultMaxConnIdleTime)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	return pool, nil
}

func envInt32(key string, def int32) int32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// runMigrations applies database schema migrations.
func runMigrations(connStr string, log logr.Logger) error {
	migrator, err := storepostgres.NewMigrator(connStr, log)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()
	return nil
}

// newMetricsServer creates a dedicated HTTP server for Prometheus metrics.
func newMetricsServer(addr string) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: metricsMux}
}

// newHealthServer creates an HTTP server for health and readiness probes.
func newHealthServer(addr string, pool *pgxpool.Pool) *http.Server {
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	healthMux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("postgres unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: healthMux}
}

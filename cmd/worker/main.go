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

// Command worker is the binary untrusted for content: it claims due
// jobs under a lease, asks the enclave runtime to render the sensitive
// portion of each action, fans the result out to a user's registered
// devices, materializes due automation rules into jobs, and drives the
// privacy-deletion state machine to completion. It never decrypts a
// sealed payload itself.
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

	"github.com/altairalabs/assistant-core/internal/audit"
	"github.com/altairalabs/assistant-core/internal/automation"
	"github.com/altairalabs/assistant-core/internal/config"
	"github.com/altairalabs/assistant-core/internal/connector"
	"github.com/altairalabs/assistant-core/internal/devices"
	"github.com/altairalabs/assistant-core/internal/enclaverpc"
	"github.com/altairalabs/assistant-core/internal/jobs"
	"github.com/altairalabs/assistant-core/internal/preferences"
	"github.com/altairalabs/assistant-core/internal/privacy"
	"github.com/altairalabs/assistant-core/internal/session"
	storepostgres "github.com/altairalabs/assistant-core/internal/store/postgres"
	"github.com/altairalabs/assistant-core/internal/users"
	"github.com/altairalabs/assistant-core/pkg/logging"
)

// flags groups worker's CLI flags on top of the ones every binary
// shares.
type flags struct {
	common *config.Common

	workerID string

	enclaveBaseURL          string
	enclaveSharedSecretPath string

	jobsEncryptionPassphrase string

	pollInterval            time.Duration
	maxJobsPerPoll          int
	leaseSeconds            int
	perUserConcurrencyLimit int

	automationPollInterval   time.Duration
	automationMaxRulesPerPoll int

	privacyPollInterval       time.Duration
	privacyWarnInterval       time.Duration
	privacyLeaseSeconds       int
	privacyMaxRequestsPerPoll int
	privacySLAHours           int

	googleClientID        string
	googleClientSecret    string
	connectorRedirectBase string
}

func parseFlags() *flags {
	f := &flags{}
	fs := flag.CommandLine
	f.common = config.BindCommon(fs)

	hostname, _ := os.Hostname()
	fs.StringVar(&f.workerID, "worker-id", hostname, "Identifier this worker leases jobs under")
	fs.StringVar(&f.enclaveBaseURL, "enclave-base-url", "", "Base URL of the enclave runtime")
	fs.StringVar(&f.enclaveSharedSecretPath, "enclave-shared-secret-path", "", "Path to the host<->enclave HMAC shared secret")
	fs.StringVar(&f.jobsEncryptionPassphrase, "jobs-encryption-passphrase", "", "Symmetric passphrase protecting job payloads at rest")

	fs.DurationVar(&f.pollInterval, "poll-interval", 2*time.Second, "Delay between job-claim polls")
	fs.IntVar(&f.maxJobsPerPoll, "max-jobs-per-poll", 20, "Maximum jobs claimed per poll")
	fs.IntVar(&f.leaseSeconds, "lease-seconds", 60, "Job lease duration in seconds")
	fs.IntVar(&f.perUserConcurrencyLimit, "per-user-concurrency-limit", 3, "Maximum jobs running at once per user")

	fs.DurationVar(&f.automationPollInterval, "automation-poll-interval", 15*time.Second, "Delay between automation-rule materialization polls")
	fs.IntVar(&f.automationMaxRulesPerPoll, "automation-max-rules-per-poll", 50, "Maximum automation rules materialized per poll")

	fs.DurationVar(&f.privacyPollInterval, "privacy-poll-interval", 30*time.Second, "Delay between privacy-deletion claim polls")
	fs.DurationVar(&f.privacyWarnInterval, "privacy-warn-interval", time.Hour, "Delay between overdue privacy-deletion SLA warnings")
	fs.IntVar(&f.privacyLeaseSeconds, "privacy-lease-seconds", 300, "Privacy-deletion request lease duration in seconds")
	fs.IntVar(&f.privacyMaxRequestsPerPoll, "privacy-max-requests-per-poll", 5, "Maximum privacy-deletion requests claimed per poll")
	fs.IntVar(&f.privacySLAHours, "privacy-sla-hours", 72, "Hours a privacy-deletion request has to complete before its SLA is breached")

	fs.StringVar(&f.googleClientID, "google-client-id", "", "Google OAuth2 client ID")
	fs.StringVar(&f.googleClientSecret, "google-client-secret", "", "Google OAuth2 client secret")
	fs.StringVar(&f.connectorRedirectBase, "connector-redirect-base", "", "Externally reachable origin for OAuth2 redirects")
	fs.Parse(os.Args[1:])

	f.common.ApplyEnvFallbacks()
	config.EnvFallback(&f.workerID, hostname, "WORKER_ID")
	config.EnvFallback(&f.enclaveBaseURL, "", "ENCLAVE_BASE_URL")
	config.EnvFallback(&f.enclaveSharedSecretPath, "", "ENCLAVE_SHARED_SECRET_PATH")
	config.EnvFallback(&f.jobsEncryptionPassphrase, "", "JOBS_ENCRYPTION_PASSPHRASE")
	config.EnvIntFallback(&f.maxJobsPerPoll, 20, "WORKER_MAX_JOBS_PER_POLL")
	config.EnvIntFallback(&f.leaseSeconds, 60, "WORKER_LEASE_SECONDS")
	config.EnvIntFallback(&f.perUserConcurrencyLimit, 3, "WORKER_PER_USER_CONCURRENCY_LIMIT")
	config.EnvIntFallback(&f.automationMaxRulesPerPoll, 50, "AUTOMATION_MAX_RULES_PER_POLL")
	config.EnvIntFallback(&f.privacyLeaseSeconds, 300, "PRIVACY_LEASE_SECONDS")
	config.EnvIntFallback(&f.privacyMaxRequestsPerPoll, 5, "PRIVACY_MAX_REQUESTS_PER_POLL")
	config.EnvIntFallback(&f.privacySLAHours, 72, "PRIVACY_SLA_HOURS")
	config.EnvFallback(&f.googleClientID, "", "GOOGLE_CLIENT_ID")
	config.EnvFallback(&f.googleClientSecret, "", "GOOGLE_CLIENT_SECRET")
	config.EnvFallback(&f.connectorRedirectBase, "", "CONNECTOR_REDIRECT_BASE")

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
	if f.enclaveBaseURL == "" {
		return fmt.Errorf("--enclave-base-url or ENCLAVE_BASE_URL is required")
	}
	if f.enclaveSharedSecretPath == "" {
		return fmt.Errorf("--enclave-shared-secret-path or ENCLAVE_SHARED_SECRET_PATH is required")
	}
	if f.jobsEncryptionPassphrase == "" {
		return fmt.Errorf("--jobs-encryption-passphrase or JOBS_ENCRYPTION_PASSPHRASE is required")
	}
	if f.workerID == "" {
		f.workerID = "worker"
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

	w, auditLogger, err := buildWorker(f, pool, log)
	if err != nil {
		return err
	}
	defer func() { _ = auditLogger.Close() }()

	healthSrv := newHealthServer(f.common.HealthAddr, pool)
	metricsSrv := newMetricsServer(f.common.MetricsAddr)

	startHTTPServer(log, "health", f.common.HealthAddr, healthSrv)
	startHTTPServer(log, "metrics", f.common.MetricsAddr, metricsSrv)

	log.Info("worker ready", "workerID", f.workerID, "health", f.common.HealthAddr, "metrics", f.common.MetricsAddr)

	w.Run(ctx)

	log.Info("shutting down")
	shutdownServers(log, healthSrv, metricsSrv)
	return nil
}

// buildWorker wires every service the worker depends on and returns
// the composed Worker along with the audit logger, whose background
// flush worker the caller must stop on shutdown.
func buildWorker(f *flags, pool *pgxpool.Pool, log logr.Logger) (*Worker, *audit.Logger, error) {
	sharedSecret, err := os.ReadFile(f.enclaveSharedSecretPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading enclave shared secret: %w", err)
	}
	signer := enclaverpc.NewSigner(sharedSecret)
	enclaveClient := enclaverpc.NewClient(http.DefaultClient, f.enclaveBaseURL, signer)

	jobStore := jobs.NewStore(pool)
	automationStore := automation.NewStore(pool, jobStore)
	deviceStore := devices.NewStore(pool)
	preferencesStore := preferences.NewStore(pool)

	providers := map[string]connector.ProviderConfig{}
	if f.googleClientID != "" {
		providers[connector.ProviderGoogle] = connector.NewGoogleConfig(f.googleClientID, f.googleClientSecret, f.connectorRedirectBase)
	}
	connectorStore := connector.NewPostgresStore(pool)
	connectorService := connector.NewService(connectorStore, enclaveClient, providers, log)

	userStore := users.NewStore(pool)
	auditLogger := audit.NewLogger(pool, log, audit.LoggerConfig{})
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

	w := NewWorker(WorkerConfig{
		WorkerID: f.workerID,

		Jobs:        jobStore,
		Automations: automationStore,
		Devices:     deviceStore,
		Preferences: preferencesStore,
		Privacy:     privacyService,
		RPC:         enclaveClient,
		Push:        newLogPushDeliverer(log),

		JobsEncryptionPassphrase: f.jobsEncryptionPassphrase,

		PollInterval:            f.pollInterval,
		MaxJobsPerPoll:          f.maxJobsPerPoll,
		LeaseSeconds:            f.leaseSeconds,
		PerUserConcurrencyLimit: f.perUserConcurrencyLimit,

		AutomationPollInterval:    f.automationPollInterval,
		AutomationMaxRulesPerPoll: f.automationMaxRulesPerPoll,

		PrivacyPollInterval:       f.privacyPollInterval,
		PrivacyWarnInterval:       f.privacyWarnInterval,
		PrivacyLeaseSeconds:       f.privacyLeaseSeconds,
		PrivacyMaxRequestsPerPoll: f.privacyMaxRequestsPerPoll,

		Log: log,
	})

	return w, auditLogger, nil
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

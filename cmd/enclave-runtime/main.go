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

// Command enclave-runtime is the trusted component: it holds the
// ingress X25519 key material, the Ed25519 attestation signing key,
// and the only code path that ever sees a plaintext OAuth refresh
// token or a plaintext assistant turn. Every route it serves is
// reachable only through the signed host<->enclave RPC transport.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/altairalabs/assistant-core/internal/assistant"
	"github.com/altairalabs/assistant-core/internal/attestation"
	"github.com/altairalabs/assistant-core/internal/config"
	"github.com/altairalabs/assistant-core/internal/connector"
	"github.com/altairalabs/assistant-core/internal/enclaverpc"
	"github.com/altairalabs/assistant-core/internal/envelope"
	"github.com/altairalabs/assistant-core/internal/kmsbroker"
	"github.com/altairalabs/assistant-core/pkg/logging"
)

// flags groups enclave-runtime's CLI flags on top of the ones every
// binary shares.
type flags struct {
	common *config.Common

	rpcAddr              string
	sharedSecretPath     string
	rpcMaxSkew           time.Duration

	ingressKeyID         string
	ingressPrivateKeyB64 string
	ingressKeyTTL        time.Duration

	attestationRuntime            string
	attestationMeasurement        string
	attestationSigningKeyPath     string
	attestationAllowedMeasurements string
	attestationMaxAge             time.Duration
	attestationAllowInsecureDev   bool

	kmsProvider            string
	kmsKeyID               string
	kmsKeyVersion          int
	kmsRegion              string
	kmsAccessKeyID         string
	kmsSecretKey           string
	kmsGCPCredentialsJSON  string
	kmsAllowedMeasurements string

	googleClientID     string
	googleClientSecret string
	connectorRedirectBase string
}

func parseFlags() *flags {
	f := &flags{}
	fs := flag.CommandLine
	f.common = config.BindCommon(fs)

	fs.StringVar(&f.rpcAddr, "rpc-addr", ":8443", "Enclave RPC server listen address")
	fs.StringVar(&f.sharedSecretPath, "shared-secret-path", "", "Path to the host<->enclave HMAC shared secret")
	fs.DurationVar(&f.rpcMaxSkew, "rpc-max-skew", 5*time.Minute, "Maximum accepted clock skew for signed RPC requests")

	fs.StringVar(&f.ingressKeyID, "ingress-key-id", "", "Identifier for the active ingress X25519 key generation")
	fs.StringVar(&f.ingressPrivateKeyB64, "ingress-private-key-b64", "", "Base64-encoded 32-byte active ingress X25519 private scalar")
	fs.DurationVar(&f.ingressKeyTTL, "ingress-key-ttl", 24*time.Hour, "Validity window advertised for the active ingress key")

	fs.StringVar(&f.attestationRuntime, "attestation-runtime", "tee-sim", "Runtime identifier this enclave attests as")
	fs.StringVar(&f.attestationMeasurement, "attestation-measurement", "", "Measurement hash this enclave attests as")
	fs.StringVar(&f.attestationSigningKeyPath, "attestation-signing-key-path", "", "Path to the base64-encoded Ed25519 private key used to sign attestation evidence")
	fs.StringVar(&f.attestationAllowedMeasurements, "attestation-allowed-measurements", "", "Comma-separated measurements the ingress policy allows (defaults to attestation-measurement alone)")
	fs.DurationVar(&f.attestationMaxAge, "attestation-max-age", 5*time.Minute, "Maximum age of attestation evidence the verifier accepts")
	fs.BoolVar(&f.attestationAllowInsecureDev, "attestation-allow-insecure-dev-mode", false, "Skip signature verification (local development only)")

	fs.StringVar(&f.kmsProvider, "kms-provider", "aws", "KMS backend wrapping/unwrapping refresh tokens: aws or gcp")
	fs.StringVar(&f.kmsKeyID, "kms-key-id", "", "KMS key identifier (AWS key id, or GCP key resource name) used to wrap/unwrap refresh tokens")
	fs.IntVar(&f.kmsKeyVersion, "kms-key-version", 1, "KMS key generation this broker is pinned to")
	fs.StringVar(&f.kmsRegion, "kms-region", "", "AWS region for the KMS key (aws provider only)")
	fs.StringVar(&f.kmsAccessKeyID, "kms-access-key-id", "", "Static AWS access key id (falls back to default credential chain if empty)")
	fs.StringVar(&f.kmsSecretKey, "kms-secret-access-key", "", "Static AWS secret access key")
	fs.StringVar(&f.kmsGCPCredentialsJSON, "kms-gcp-credentials-json", "", "GCP service account credentials JSON (falls back to application default credentials if empty; gcp provider only)")
	fs.StringVar(&f.kmsAllowedMeasurements, "kms-allowed-measurements", "", "Comma-separated measurements the KMS policy allows (defaults to attestation-measurement alone)")

	fs.StringVar(&f.googleClientID, "google-client-id", "", "Google OAuth2 client ID")
	fs.StringVar(&f.googleClientSecret, "google-client-secret", "", "Google OAuth2 client secret")
	fs.StringVar(&f.connectorRedirectBase, "connector-redirect-base", "", "Externally reachable origin for OAuth2 redirects")
	fs.Parse(os.Args[1:])

	f.common.ApplyEnvFallbacks()
	config.EnvFallback(&f.rpcAddr, ":8443", "RPC_ADDR")
	config.EnvFallback(&f.sharedSecretPath, "", "SHARED_SECRET_PATH")
	config.EnvFallback(&f.ingressKeyID, "", "INGRESS_KEY_ID")
	config.EnvFallback(&f.ingressPrivateKeyB64, "", "INGRESS_PRIVATE_KEY_B64")
	config.EnvFallback(&f.attestationRuntime, "tee-sim", "ATTESTATION_RUNTIME")
	config.EnvFallback(&f.attestationMeasurement, "", "ATTESTATION_MEASUREMENT")
	config.EnvFallback(&f.attestationSigningKeyPath, "", "ATTESTATION_SIGNING_KEY_PATH")
	config.EnvFallback(&f.attestationAllowedMeasurements, "", "ATTESTATION_ALLOWED_MEASUREMENTS")
	config.EnvBoolFallback(&f.attestationAllowInsecureDev, "ATTESTATION_ALLOW_INSECURE_DEV_MODE")
	config.EnvFallback(&f.kmsProvider, "aws", "KMS_PROVIDER")
	config.EnvFallback(&f.kmsKeyID, "", "KMS_KEY_ID")
	config.EnvIntFallback(&f.kmsKeyVersion, 1, "KMS_KEY_VERSION")
	config.EnvFallback(&f.kmsRegion, "", "KMS_REGION")
	config.EnvFallback(&f.kmsAccessKeyID, "", "KMS_ACCESS_KEY_ID")
	config.EnvFallback(&f.kmsSecretKey, "", "KMS_SECRET_ACCESS_KEY")
	config.EnvFallback(&f.kmsGCPCredentialsJSON, "", "KMS_GCP_CREDENTIALS_JSON")
	config.EnvFallback(&f.kmsAllowedMeasurements, "", "KMS_ALLOWED_MEASUREMENTS")
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

	if f.sharedSecretPath == "" {
		return fmt.Errorf("--shared-secret-path or SHARED_SECRET_PATH is required")
	}
	if f.ingressKeyID == "" || f.ingressPrivateKeyB64 == "" {
		return fmt.Errorf("--ingress-key-id and --ingress-private-key-b64 (or their env equivalents) are required")
	}
	if f.attestationMeasurement == "" {
		return fmt.Errorf("--attestation-measurement or ATTESTATION_MEASUREMENT is required")
	}
	if f.kmsKeyID == "" {
		return fmt.Errorf("--kms-key-id or KMS_KEY_ID is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux, err := buildEnclaveMux(ctx, f, log)
	if err != nil {
		return err
	}

	healthSrv := newHealthServer(f.common.HealthAddr)
	metricsSrv := newMetricsServer(f.common.MetricsAddr)
	rpcSrv := &http.Server{Addr: f.rpcAddr, Handler: mux}

	startHTTPServer(log, "health", f.common.HealthAddr, healthSrv)
	startHTTPServer(log, "metrics", f.common.MetricsAddr, metricsSrv)
	startHTTPServer(log, "enclave RPC", f.rpcAddr, rpcSrv)

	log.Info("enclave-runtime ready", "rpc", f.rpcAddr, "health", f.common.HealthAddr, "metrics", f.common.MetricsAddr)

	<-ctx.Done()
	log.Info("shutting down")
	shutdownServers(log, rpcSrv, healthSrv, metricsSrv)
	return nil
}

// kmsUnwrapper is the common shape of kmsbroker.AWSUnwrapper and
// kmsbroker.GCPUnwrapper: enough to satisfy both kmsbroker.Unwrapper
// and connector.Sealer without picking a backend at compile time.
type kmsUnwrapper interface {
	Unwrap(ctx context.Context, userID, connectorID string, ciphertext []byte) ([]byte, error)
	Wrap(ctx context.Context, plaintext []byte) ([]byte, error)
	KeyID() string
}

// newKMSUnwrapper constructs the configured KMS backend. aws is the
// default; gcp is selected via --kms-provider/KMS_PROVIDER for
// deployments whose refresh-token envelopes are wrapped by Cloud KMS
// instead of AWS KMS.
func newKMSUnwrapper(ctx context.Context, f *flags) (kmsUnwrapper, error) {
	switch f.kmsProvider {
	case "", "aws":
		return kmsbroker.NewAWSUnwrapper(ctx, f.kmsKeyID, f.kmsRegion, f.kmsAccessKeyID, f.kmsSecretKey)
	case "gcp":
		return kmsbroker.NewGCPUnwrapper(ctx, f.kmsKeyID, f.kmsGCPCredentialsJSON)
	default:
		return nil, fmt.Errorf("unknown kms provider %q (expected aws or gcp)", f.kmsProvider)
	}
}

// buildEnclaveMux wires every trusted-side dependency and returns the
// RPC-authenticated mux: ingress keyring, attestation verifier and
// self-signer, KMS broker, and the connector/assistant handlers that
// sit behind them.
func buildEnclaveMux(ctx context.Context, f *flags, log logr.Logger) (http.Handler, error) {
	sharedSecret, err := os.ReadFile(f.sharedSecretPath)
	if err != nil {
		return nil, fmt.Errorf("reading rpc shared secret: %w", err)
	}
	signer := enclaverpc.NewSigner(sharedSecret)
	rpcReplayGuard := enclaverpc.NewReplayGuard()

	keyring, err := buildKeyring(f)
	if err != nil {
		return nil, err
	}

	attestationSigningKey, err := loadEd25519PrivateKey(f.attestationSigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading attestation signing key: %w", err)
	}
	attestationPublicKeyB64 := base64.StdEncoding.EncodeToString(attestationSigningKey.Public().(ed25519.PublicKey))

	attestationReplayGuard := attestation.NewReplayGuard()

	kmsAllowed := splitCSV(f.kmsAllowedMeasurements)
	if len(kmsAllowed) == 0 {
		kmsAllowed = []string{f.attestationMeasurement}
	}
	kmsVerifier := attestation.NewVerifier(attestation.Policy{
		Required:             true,
		ExpectedRuntime:       f.attestationRuntime,
		AllowedMeasurements:   kmsAllowed,
		PublicKeyB64:          attestationPublicKeyB64,
		MaxAttestationAge:     f.attestationMaxAge,
		AllowInsecureDevMode:  f.attestationAllowInsecureDev,
	}, attestationReplayGuard)

	selfSigner := newSelfAttester(f.attestationRuntime, f.attestationMeasurement, attestationSigningKey, f.attestationAllowInsecureDev, time.Now)

	unwrapper, err := newKMSUnwrapper(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("constructing kms unwrapper: %w", err)
	}

	broker := kmsbroker.NewBroker(
		kmsbroker.Policy{KeyID: f.kmsKeyID, KeyVersion: f.kmsKeyVersion, AllowedMeasurements: kmsAllowed},
		kmsVerifier,
		unwrapper,
		selfSigner,
		log,
		newUUIDString,
		newUUIDString,
		time.Now,
		f.attestationMaxAge,
	)

	providers := map[string]connector.ProviderConfig{}
	if f.googleClientID != "" {
		providers[connector.ProviderGoogle] = connector.NewGoogleConfig(f.googleClientID, f.googleClientSecret, f.connectorRedirectBase)
	}
	connectorHandler := connector.NewEnclaveHandler(providers, connector.NewExchanger(nil), unwrapper, f.kmsKeyVersion)

	composer := assistant.NewComposer(assistant.NewNoFetcher(), assistant.NewPassthroughProcessor())

	enclave := &enclaveHandlers{
		keyring:    keyring,
		selfSigner: selfSigner,
		connector:  connectorHandler,
		broker:     broker,
		composer:   composer,
		processor:  assistant.NewPassthroughProcessor(),
		log:        log.WithName("enclave-handlers"),
	}

	mux := http.NewServeMux()
	enclave.registerRoutes(mux)
	return enclaverpc.VerifyMiddleware(signer, rpcReplayGuard, f.rpcMaxSkew, mux), nil
}

func buildKeyring(f *flags) (envelope.Keyring, error) {
	privBytes, err := base64.StdEncoding.DecodeString(f.ingressPrivateKeyB64)
	if err != nil || len(privBytes) != 32 {
		return envelope.Keyring{}, fmt.Errorf("ingress private key must be base64-encoded 32 bytes")
	}
	var priv [32]byte
	copy(priv[:], privBytes)

	pubB64, err := envelope.DerivePublicKeyB64(priv)
	if err != nil {
		return envelope.Keyring{}, fmt.Errorf("deriving ingress public key: %w", err)
	}

	return envelope.Keyring{
		Active: envelope.KeyMaterial{
			KeyID:        f.ingressKeyID,
			PrivateKey:   priv,
			PublicKeyB64: pubB64,
			ExpiresAt:    time.Now().Add(f.ingressKeyTTL),
		},
	}, nil
}

func loadEd25519PrivateKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("attestation signing key path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("attestation signing key must be base64-encoded %d bytes", ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(keyBytes), nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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

// newMetricsServer serves Prometheus scrape traffic.
func newMetricsServer(addr string) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: metricsMux}
}

// newHealthServer serves liveness probes. enclave-runtime has no
// database of its own to ping for readiness, so /readyz is the same
// check as /healthz: the process accepting connections is the signal.
func newHealthServer(addr string) *http.Server {
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	healthMux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: healthMux}
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

// Command attestor_demo serves a WebSocket echo endpoint over TLS, using
// an attested self-signed certificate as its presented identity. It runs
// over TCP by default and over vsock when started inside an enclave.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/mdlayher/vsock"
	"go.uber.org/zap"

	"tee-identity/shared"
)

func main() {
	// .env is optional; real deployments configure through the environment
	_ = godotenv.Load()

	logger, err := shared.NewLoggerFromEnv("attestor_demo")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	evidence, err := buildEvidenceProvider(ctx, logger)
	if err != nil {
		logger.Critical("Failed to initialize evidence provider", zap.Error(err))
		os.Exit(1)
	}

	manager, err := shared.NewIdentityManager(ctx, &shared.IdentityConfig{
		IssuerName:  shared.GetEnvOrDefault("ISSUER_NAME", "enclave-issuer"),
		SubjectName: shared.GetEnvOrDefault("SUBJECT_NAME", "enclave-subject"),
		Evidence:    evidence,
		Storage:     shared.NewMemoryIdentityStorage(),
		Logger:      logger,
	})
	if err != nil {
		logger.Critical("Failed to build attested identity", zap.Error(err))
		os.Exit(1)
	}
	checkEvery := time.Duration(shared.GetEnvIntOrDefault("RENEWAL_CHECK_HOURS", 12)) * time.Hour
	manager.StartRenewalChecker(ctx, checkEvery)

	listener, err := buildListener(logger)
	if err != nil {
		logger.Critical("Failed to listen", zap.Error(err))
		os.Exit(1)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		sessionID := uuid.New().String()
		sessionLogger := logger.WithSession(sessionID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sessionLogger.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		sessionLogger.Info("Echo session started", zap.String("remote_addr", conn.RemoteAddr().String()))
		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				sessionLogger.Info("Echo session closed", zap.Error(err))
				return
			}
			if err := conn.WriteMessage(msgType, payload); err != nil {
				sessionLogger.Warn("Failed to echo message", zap.Error(err))
				return
			}
		}
	})

	server := &http.Server{
		Handler:   mux,
		TLSConfig: manager.TLSConfig(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		server.Close()
	}()

	logger.Info("Serving attested TLS echo endpoint", zap.String("addr", listener.Addr().String()))
	if err := server.ServeTLS(listener, "", ""); err != http.ErrServerClosed {
		logger.Critical("Server failed", zap.Error(err))
		os.Exit(1)
	}
}

func buildEvidenceProvider(ctx context.Context, logger *shared.Logger) (shared.EvidenceProvider, error) {
	switch provider := shared.GetEnvOrDefault("EVIDENCE_PROVIDER", "static"); provider {
	case "nitro":
		return shared.NewNitroEvidenceProvider()
	case "gcp":
		audience := shared.GetEnvOrDefault("GCP_AUDIENCE", "https://tee-identity.local")
		return shared.NewGCPEvidenceProvider(audience), nil
	case "static":
		logger.Warn("Using static evidence provider; certificates carry no real attestation")
		return &shared.StaticEvidenceProvider{Payload: []byte(shared.GetEnvOrDefault("STATIC_EVIDENCE", "dev-evidence"))}, nil
	default:
		return nil, fmt.Errorf("unknown evidence provider %q", provider)
	}
}

func buildListener(logger *shared.Logger) (net.Listener, error) {
	if shared.GetEnvOrDefault("LISTEN_MODE", "tcp") == "vsock" {
		port := shared.GetEnvUint32OrDefault("VSOCK_PORT", 8443)
		logger.Info("Listening on vsock", zap.Uint32("port", port))
		return vsock.Listen(port, nil)
	}
	addr := shared.GetEnvOrDefault("LISTEN_ADDR", ":8443")
	return net.Listen("tcp", addr)
}

package shared

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Certificates are rebuilt once they are within this window of expiry,
// unless the config overrides it.
const defaultRenewBefore = 7 * 24 * time.Hour

// IdentityConfig configures an IdentityManager.
type IdentityConfig struct {
	IssuerName  string
	SubjectName string

	// Evidence supplies the attestation payload for each certificate.
	Evidence EvidenceProvider

	// Storage, when set, persists the identity bundle and is consulted
	// for a still-valid identity on startup.
	Storage IdentityStorage

	// RenewBefore is how long before expiry a certificate is rebuilt.
	RenewBefore time.Duration

	Logger *Logger
}

// IdentityManager owns a P-256 key pair and keeps a fresh attested
// certificate built over it. It plugs into crypto/tls via GetCertificate
// and is safe for concurrent use.
type IdentityManager struct {
	config *IdentityConfig
	logger *Logger

	mu       sync.RWMutex
	keyPair  *NistP256KeyPair
	certDER  []byte
	tlsCert  *tls.Certificate
	notAfter time.Time
}

// NewIdentityManager restores a persisted identity if one is available
// and still comfortably valid, otherwise generates a key pair and builds
// a fresh attested certificate.
func NewIdentityManager(ctx context.Context, config *IdentityConfig) (*IdentityManager, error) {
	if config.Evidence == nil {
		return nil, fmt.Errorf("identity config requires an evidence provider")
	}
	if config.RenewBefore <= 0 {
		config.RenewBefore = defaultRenewBefore
	}
	logger := config.Logger
	if logger == nil {
		var err error
		if logger, err = NewLoggerFromEnv("identity"); err != nil {
			return nil, err
		}
	}

	m := &IdentityManager{config: config, logger: logger}

	if config.Storage != nil {
		if err := m.restore(ctx); err == nil {
			logger.Info("Restored attested identity from storage",
				zap.String("subject", config.SubjectName),
				zap.Time("not_after", m.notAfter))
			return m, nil
		} else {
			logger.Info("No usable stored identity, building a fresh one",
				zap.String("subject", config.SubjectName),
				zap.Error(err))
		}
	}

	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	m.keyPair = keyPair

	if err := m.rebuild(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// KeyPair returns the identity's key pair.
func (m *IdentityManager) KeyPair() *NistP256KeyPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keyPair
}

// CertificateDER returns the current attested certificate bytes,
// rebuilding first if the certificate is inside the renewal window.
func (m *IdentityManager) CertificateDER(ctx context.Context) ([]byte, error) {
	if needs, _ := m.needsRenewal(); needs {
		if err := m.rebuild(ctx); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.certDER, nil
}

// GetCertificate implements the tls.Config.GetCertificate hook.
func (m *IdentityManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if needs, _ := m.needsRenewal(); needs {
		ctx := context.Background()
		if hello != nil && hello.Context() != nil {
			ctx = hello.Context()
		}
		if err := m.rebuild(ctx); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tlsCert, nil
}

// TLSConfig returns a server TLS configuration presenting the attested
// certificate.
func (m *IdentityManager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// StartRenewalChecker starts a background goroutine that periodically
// rebuilds the certificate before it expires.
func (m *IdentityManager) StartRenewalChecker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Certificate renewal checker stopped")
				return
			case <-ticker.C:
				needs, daysRemaining := m.needsRenewal()
				if !needs {
					m.logger.DebugIf("Attested certificate still valid",
						zap.Float64("days_remaining", daysRemaining))
					continue
				}
				m.logger.Info("Attested certificate expires soon, rebuilding",
					zap.Float64("days_remaining", daysRemaining))
				if err := m.rebuild(ctx); err != nil {
					m.logger.Critical("Failed to rebuild attested certificate", zap.Error(err))
				}
			}
		}
	}()
}

// restore loads a persisted identity bundle and adopts it if its
// certificate is still outside the renewal window.
func (m *IdentityManager) restore(ctx context.Context) error {
	bundle, err := m.config.Storage.RetrieveIdentity(ctx, m.config.SubjectName)
	if err != nil {
		return err
	}
	certDER, key, err := DecodeIdentityBundle(bundle)
	if err != nil {
		return err
	}
	cert, err := ParseAttestedCertificate(certDER)
	if err != nil {
		return fmt.Errorf("stored certificate is malformed: %v", err)
	}
	if err := cert.VerifySignature(); err != nil {
		return fmt.Errorf("stored certificate is invalid: %v", err)
	}
	notAfter := m.effectiveNotAfter(cert.NotAfter, cert.Payload)
	if time.Until(notAfter) <= m.config.RenewBefore {
		return fmt.Errorf("stored certificate expires at %v, inside the renewal window", notAfter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyPair = &NistP256KeyPair{inner: key}
	m.certDER = certDER
	m.tlsCert = &tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: key}
	m.notAfter = notAfter
	return nil
}

// effectiveNotAfter returns the earlier of the certificate expiry and
// the evidence payload's own expiry, when the provider reports one.
func (m *IdentityManager) effectiveNotAfter(certNotAfter time.Time, evidence []byte) time.Time {
	expirer, ok := m.config.Evidence.(EvidenceExpirer)
	if !ok {
		return certNotAfter
	}
	exp, err := expirer.EvidenceExpiry(evidence)
	if err != nil || !exp.Before(certNotAfter) {
		return certNotAfter
	}
	return exp
}

// rebuild fetches fresh evidence, mints a certificate over it, and swaps
// the served identity.
func (m *IdentityManager) rebuild(ctx context.Context) error {
	m.mu.RLock()
	keyPair := m.keyPair
	m.mu.RUnlock()

	publicKeyDER, err := x509.MarshalPKIXPublicKey(keyPair.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %v", err)
	}

	evidence, err := m.config.Evidence.Evidence(ctx, publicKeyDER)
	if err != nil {
		return fmt.Errorf("failed to obtain attestation evidence: %v", err)
	}

	certDER := CreateCertificateWithExtension(keyPair, m.config.IssuerName, m.config.SubjectName, evidence)
	keyDER := ExportPrivateKeyDER(keyPair)

	// Round-trip the exported key so the served identity uses exactly the
	// bytes a TLS stack would be handed.
	parsedKey, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return fmt.Errorf("exported private key failed to parse: %v", err)
	}

	cert, err := ParseAttestedCertificate(certDER)
	if err != nil {
		return fmt.Errorf("built certificate failed to parse: %v", err)
	}
	notAfter := m.effectiveNotAfter(cert.NotAfter, evidence)

	m.mu.Lock()
	m.certDER = certDER
	m.tlsCert = &tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: parsedKey}
	m.notAfter = notAfter
	m.mu.Unlock()

	m.logger.Info("Built attested certificate",
		zap.String("issuer", m.config.IssuerName),
		zap.String("subject", m.config.SubjectName),
		zap.Int("evidence_bytes", len(evidence)),
		zap.Time("not_after", notAfter))

	if m.config.Storage != nil {
		bundle := EncodeIdentityBundle(certDER, keyDER)
		if err := m.config.Storage.StoreIdentity(ctx, m.config.SubjectName, bundle); err != nil {
			m.logger.Warn("Failed to persist identity bundle", zap.Error(err))
		}
	}
	return nil
}

// needsRenewal reports whether the certificate is inside the renewal
// window, and how many days of validity remain.
func (m *IdentityManager) needsRenewal() (bool, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.certDER == nil {
		return true, 0
	}
	remaining := time.Until(m.notAfter)
	return remaining <= m.config.RenewBefore, remaining.Hours() / 24
}

package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
)

// Nitro attestation documents embed a timestamp; peers reject stale ones,
// so cache slightly under the 5 minute acceptance window.
const nitroEvidenceTTL = 4*time.Minute + 50*time.Second

// NitroEvidenceProvider requests attestation documents from the AWS
// Nitro Security Module. Documents are cached per public key for a short
// TTL to avoid hammering the NSM device on concurrent certificate
// builds.
type NitroEvidenceProvider struct {
	session *nsm.Session

	mu        sync.RWMutex
	cachedDoc []byte
	cachedKey string
	cachedAt  time.Time
}

// NewNitroEvidenceProvider opens the default NSM session. It fails
// outside a Nitro enclave.
func NewNitroEvidenceProvider() (*NitroEvidenceProvider, error) {
	session, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open NSM session: %v", err)
	}
	return &NitroEvidenceProvider{session: session}, nil
}

// Evidence returns a Nitro attestation document binding publicKeyDER.
func (p *NitroEvidenceProvider) Evidence(ctx context.Context, publicKeyDER []byte) ([]byte, error) {
	cacheKey := string(publicKeyDER)

	p.mu.RLock()
	if p.cachedDoc != nil && p.cachedKey == cacheKey && time.Since(p.cachedAt) < nitroEvidenceTTL {
		doc := p.cachedDoc
		p.mu.RUnlock()
		return doc, nil
	}
	p.mu.RUnlock()

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %v", err)
	}

	res, err := p.session.Send(&request.Attestation{
		Nonce:     []byte(hex.EncodeToString(nonce)),
		PublicKey: publicKeyDER,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request attestation: %v", err)
	}
	if res.Error != "" {
		return nil, errors.New(string(res.Error))
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, errors.New("attestation response missing attestation document")
	}

	p.mu.Lock()
	p.cachedDoc = res.Attestation.Document
	p.cachedKey = cacheKey
	p.cachedAt = time.Now()
	p.mu.Unlock()

	return res.Attestation.Document, nil
}

// Close releases the NSM session.
func (p *NitroEvidenceProvider) Close() error {
	return p.session.Close()
}

package shared

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	gcpLauncherSocket = "/run/container_launcher/teeserver.sock"
	gcpTokenEndpoint  = "http://localhost/v1/token"

	// GCP accepts attestation nonces of 8 to 88 bytes.
	gcpNonceMinLen = 8
	gcpNonceMaxLen = 88
)

// GCPEvidenceProvider fetches Confidential Space attestation tokens from
// the container launcher's unix socket. The token (a signed JWT) is the
// opaque evidence payload; this provider never verifies it.
type GCPEvidenceProvider struct {
	Audience string
	client   *http.Client
}

// NewGCPEvidenceProvider builds a provider talking to the launcher
// socket. audience is placed in the token's aud claim.
func NewGCPEvidenceProvider(audience string) *GCPEvidenceProvider {
	return &GCPEvidenceProvider{
		Audience: audience,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return net.Dial("unix", gcpLauncherSocket)
				},
			},
			Timeout: 10 * time.Second,
		},
	}
}

// Evidence requests a PKI-type attestation token whose nonce commits to
// publicKeyDER, binding the certificate key to the attested workload.
func (p *GCPEvidenceProvider) Evidence(ctx context.Context, publicKeyDER []byte) ([]byte, error) {
	keyDigest := sha256.Sum256(publicKeyDER)
	nonce := clampGCPNonce(hex.EncodeToString(keyDigest[:]))

	requestBody := map[string]interface{}{
		"audience":   p.Audience,
		"token_type": "PKI",
		"nonces":     []string{nonce},
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", gcpTokenEndpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call launcher socket: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("launcher returned %d: %s", resp.StatusCode, string(body))
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %v", err)
	}
	return token, nil
}

// EvidenceExpiry implements EvidenceExpirer. Attestation tokens expire
// well inside the certificate window, so renewal follows the token.
func (p *GCPEvidenceProvider) EvidenceExpiry(evidence []byte) (time.Time, error) {
	return GCPTokenExpiry(evidence)
}

// GCPTokenExpiry reads the exp claim of an attestation token without
// verifying it, for renewal scheduling. Verification of the token is the
// relying party's job, not ours.
func GCPTokenExpiry(token []byte) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(string(token), jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse attestation token: %v", err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("attestation token has no expiry claim")
	}
	return exp.Time, nil
}

func clampGCPNonce(nonce string) string {
	if len(nonce) < gcpNonceMinLen {
		return (nonce + "        ")[:gcpNonceMinLen]
	}
	if len(nonce) > gcpNonceMaxLen {
		return nonce[:gcpNonceMaxLen]
	}
	return nonce
}

package shared

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretspb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// IdentityStorage abstracts where identity bundles (certificate plus
// private key, as a combined PEM) are persisted between restarts.
type IdentityStorage interface {
	StoreIdentity(ctx context.Context, subject string, bundle []byte) error
	RetrieveIdentity(ctx context.Context, subject string) ([]byte, error)
}

// EncodeIdentityBundle renders a certificate DER and the matching
// PrivateKeyInfo DER as a combined PEM bundle, certificate first.
func EncodeIdentityBundle(certDER, keyDER []byte) []byte {
	bundle := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	bundle = append(bundle, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})...)
	return bundle
}

// DecodeIdentityBundle splits a combined PEM bundle back into the
// certificate DER and the parsed P-256 private key.
func DecodeIdentityBundle(bundle []byte) (certDER []byte, key *ecdsa.PrivateKey, err error) {
	for rest := bundle; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certDER = block.Bytes
		case "PRIVATE KEY":
			parsed, perr := x509.ParsePKCS8PrivateKey(block.Bytes)
			if perr != nil {
				return nil, nil, fmt.Errorf("failed to parse private key: %v", perr)
			}
			ecKey, ok := parsed.(*ecdsa.PrivateKey)
			if !ok {
				return nil, nil, fmt.Errorf("unexpected private key type %T", parsed)
			}
			key = ecKey
		}
	}
	if certDER == nil || key == nil {
		return nil, nil, fmt.Errorf("identity bundle missing certificate or key")
	}
	return certDER, key, nil
}

// MemoryIdentityStorage keeps bundles in process memory. Suitable for
// tests and for enclaves that deliberately never persist identities.
type MemoryIdentityStorage struct {
	mu      sync.RWMutex
	bundles map[string][]byte
}

func NewMemoryIdentityStorage() *MemoryIdentityStorage {
	return &MemoryIdentityStorage{bundles: make(map[string][]byte)}
}

func (s *MemoryIdentityStorage) StoreIdentity(ctx context.Context, subject string, bundle []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(bundle))
	copy(copied, bundle)
	s.bundles[subject] = copied
	return nil
}

func (s *MemoryIdentityStorage) RetrieveIdentity(ctx context.Context, subject string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bundle, ok := s.bundles[subject]
	if !ok {
		return nil, fmt.Errorf("no identity stored for subject %q", subject)
	}
	return bundle, nil
}

// SecretManagerIdentityStorage persists bundles in Google Secret Manager,
// one secret per subject.
type SecretManagerIdentityStorage struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerIdentityStorage(ctx context.Context, projectID string) (*SecretManagerIdentityStorage, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %v", err)
	}
	return &SecretManagerIdentityStorage{client: client, projectID: projectID}, nil
}

func (s *SecretManagerIdentityStorage) secretIDForSubject(subject string) string {
	// Keep it simple and deterministic
	return fmt.Sprintf("tee-identity-%s", subject)
}

func (s *SecretManagerIdentityStorage) StoreIdentity(ctx context.Context, subject string, bundle []byte) error {
	secretID := s.secretIDForSubject(subject)

	// Best-effort create; AddSecretVersion fails if the secret is truly
	// missing and creation failed for a real reason.
	_, _ = s.client.CreateSecret(ctx, &secretspb.CreateSecretRequest{
		Parent:   fmt.Sprintf("projects/%s", s.projectID),
		SecretId: secretID,
		Secret: &secretspb.Secret{
			Replication: &secretspb.Replication{
				Replication: &secretspb.Replication_Automatic_{
					Automatic: &secretspb.Replication_Automatic{},
				},
			},
		},
	})

	_, err := s.client.AddSecretVersion(ctx, &secretspb.AddSecretVersionRequest{
		Parent:  fmt.Sprintf("projects/%s/secrets/%s", s.projectID, secretID),
		Payload: &secretspb.SecretPayload{Data: bundle},
	})
	if err != nil {
		return fmt.Errorf("failed to store identity bundle: %v", err)
	}
	return nil
}

func (s *SecretManagerIdentityStorage) RetrieveIdentity(ctx context.Context, subject string) ([]byte, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretspb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, s.secretIDForSubject(subject)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access identity bundle: %v", err)
	}
	return resp.Payload.GetData(), nil
}

// Close releases the underlying Secret Manager client.
func (s *SecretManagerIdentityStorage) Close() error {
	return s.client.Close()
}

package shared

import (
	"context"
	"time"
)

// EvidenceProvider supplies the opaque attestation payload embedded in
// identity certificates. publicKeyDER is the DER encoding of the key the
// evidence should be bound to; providers are free to ignore it. The
// returned bytes are never interpreted by this package.
type EvidenceProvider interface {
	Evidence(ctx context.Context, publicKeyDER []byte) ([]byte, error)
}

// EvidenceExpirer is implemented by providers whose payloads stop being
// acceptable before the certificate built over them would expire. The
// identity manager renews at whichever comes first.
type EvidenceExpirer interface {
	EvidenceExpiry(evidence []byte) (time.Time, error)
}

// StaticEvidenceProvider returns a fixed payload. Intended for
// development and tests, where no attestation hardware is available.
type StaticEvidenceProvider struct {
	Payload []byte
}

func (p *StaticEvidenceProvider) Evidence(ctx context.Context, publicKeyDER []byte) ([]byte, error) {
	return p.Payload, nil
}

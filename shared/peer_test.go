package shared

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"testing"
)

func TestParseAttestedCertificateRejectsMalformedInput(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	valid := CreateCertificateWithExtension(kp, "issuer", "subject", []byte("evidence"))

	t.Run("Empty", func(t *testing.T) {
		if _, err := ParseAttestedCertificate(nil); err == nil {
			t.Errorf("Expected an error for empty input")
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		if _, err := ParseAttestedCertificate(valid[:len(valid)/2]); err == nil {
			t.Errorf("Expected an error for truncated input")
		}
	})

	t.Run("TrailingGarbage", func(t *testing.T) {
		if _, err := ParseAttestedCertificate(append(append([]byte{}, valid...), 0x00)); err == nil {
			t.Errorf("Expected an error for trailing data")
		}
	})

	t.Run("NotASequence", func(t *testing.T) {
		mutated := append([]byte{}, valid...)
		mutated[0] = 0x04
		if _, err := ParseAttestedCertificate(mutated); err == nil {
			t.Errorf("Expected an error for a non-SEQUENCE outer element")
		}
	})
}

func TestParseAttestedCertificateDetectsTampering(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	valid := CreateCertificateWithExtension(kp, "issuer", "subject", []byte{0xDE, 0xAD, 0xBE, 0xEF})

	// Flip a byte inside the embedded payload; the structure still
	// parses, but the signature no longer covers the TBS bytes.
	cert, err := ParseAttestedCertificate(valid)
	if err != nil {
		t.Fatalf("Certificate failed to parse: %v", err)
	}
	idx := bytes.Index(valid, cert.Payload)
	if idx < 0 {
		t.Fatalf("Payload bytes not found in certificate")
	}
	tamperedDER := append([]byte{}, valid...)
	tamperedDER[idx] ^= 0xFF

	tampered, err := ParseAttestedCertificate(tamperedDER)
	if err != nil {
		t.Fatalf("Tampered certificate failed structural parse: %v", err)
	}
	if err := tampered.VerifySignature(); err == nil {
		t.Errorf("Tampered certificate passed signature verification")
	}
}

func TestExtractAttestationFromTLS(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	payload := []byte("nitro attestation document bytes")
	der := CreateCertificateWithExtension(kp, "enclave-issuer", "enclave-subject", payload)

	t.Run("ValidPeerCertificate", func(t *testing.T) {
		state := tls.ConnectionState{
			PeerCertificates: []*x509.Certificate{{Raw: der}},
		}
		cert, err := ExtractAttestationFromTLS(state)
		if err != nil {
			t.Fatalf("Extraction failed: %v", err)
		}
		if !bytes.Equal(cert.Payload, payload) {
			t.Errorf("Extracted payload differs from embedded evidence")
		}
		if cert.Subject != "enclave-subject" {
			t.Errorf("Expected subject %q, got %q", "enclave-subject", cert.Subject)
		}
	})

	t.Run("NoPeerCertificates", func(t *testing.T) {
		if _, err := ExtractAttestationFromTLS(tls.ConnectionState{}); err == nil {
			t.Errorf("Expected an error when no peer certificates are present")
		}
	})
}

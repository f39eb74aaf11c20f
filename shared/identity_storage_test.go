package shared

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryIdentityStorage(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryIdentityStorage()

	t.Run("MissingSubject", func(t *testing.T) {
		if _, err := storage.RetrieveIdentity(ctx, "absent"); err == nil {
			t.Errorf("Expected an error for a missing subject")
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		bundle := []byte("-----BEGIN CERTIFICATE-----\n...")
		if err := storage.StoreIdentity(ctx, "svc", bundle); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		got, err := storage.RetrieveIdentity(ctx, "svc")
		if err != nil {
			t.Fatalf("Retrieve failed: %v", err)
		}
		if !bytes.Equal(got, bundle) {
			t.Errorf("Retrieved bundle differs from stored bundle")
		}
	})

	t.Run("StoreCopiesInput", func(t *testing.T) {
		bundle := []byte("mutable")
		if err := storage.StoreIdentity(ctx, "copy", bundle); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		bundle[0] = 'X'
		got, err := storage.RetrieveIdentity(ctx, "copy")
		if err != nil {
			t.Fatalf("Retrieve failed: %v", err)
		}
		if got[0] != 'm' {
			t.Errorf("Stored bundle aliased the caller's buffer")
		}
	})
}

func TestIdentityBundleRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	certDER := CreateCertificateWithExtension(kp, "issuer", "subject", []byte("evidence"))
	keyDER := ExportPrivateKeyDER(kp)

	bundle := EncodeIdentityBundle(certDER, keyDER)
	gotCert, gotKey, err := DecodeIdentityBundle(bundle)
	if err != nil {
		t.Fatalf("Bundle failed to decode: %v", err)
	}
	if !bytes.Equal(gotCert, certDER) {
		t.Errorf("Decoded certificate differs from input")
	}
	if gotKey.D.Cmp(kp.inner.D) != 0 {
		t.Errorf("Decoded private key differs from source key pair")
	}

	t.Run("RejectsEmptyBundle", func(t *testing.T) {
		if _, _, err := DecodeIdentityBundle(nil); err == nil {
			t.Errorf("Expected an error for an empty bundle")
		}
	})

	t.Run("RejectsNonPEMBundle", func(t *testing.T) {
		if _, _, err := DecodeIdentityBundle([]byte("not pem at all")); err == nil {
			t.Errorf("Expected an error for a non-PEM bundle")
		}
	})
}

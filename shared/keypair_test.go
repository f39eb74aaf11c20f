package shared

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	t.Run("ScalarMatchesKey", func(t *testing.T) {
		scalar := kp.PrivateScalar()
		got := new(big.Int).SetBytes(reverseBytes(scalar[:]))
		if got.Cmp(kp.inner.D) != 0 {
			t.Errorf("Little-endian scalar does not round-trip to the private key")
		}
	})

	t.Run("CoordinatesMatchKey", func(t *testing.T) {
		x, y := kp.PublicCoordinates()
		gotX := new(big.Int).SetBytes(reverseBytes(x[:]))
		gotY := new(big.Int).SetBytes(reverseBytes(y[:]))
		if gotX.Cmp(kp.inner.X) != 0 || gotY.Cmp(kp.inner.Y) != 0 {
			t.Errorf("Little-endian coordinates do not round-trip to the public point")
		}
	})

	t.Run("UncompressedPointEncoding", func(t *testing.T) {
		point := kp.publicKeyBytes()
		if len(point) != 1+2*CurveCoordinateSize {
			t.Fatalf("Expected %d point bytes, got %d", 1+2*CurveCoordinateSize, len(point))
		}
		if point[0] != 0x04 {
			t.Errorf("Expected uncompressed point tag 0x04, got 0x%02x", point[0])
		}
		wantX := make([]byte, CurveCoordinateSize)
		kp.inner.X.FillBytes(wantX)
		if !bytes.Equal(point[1:1+CurveCoordinateSize], wantX) {
			t.Errorf("X coordinate is not big-endian full-width")
		}
	})
}

func TestByteOrderAdapter(t *testing.T) {
	t.Run("ReverseIsInvolution", func(t *testing.T) {
		in := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
		if !bytes.Equal(reverseBytes(reverseBytes(in)), in) {
			t.Errorf("Double reversal changed the input")
		}
	})

	t.Run("ReverseAllocatesFreshBuffer", func(t *testing.T) {
		in := []byte{0xAA, 0xBB}
		out := reverseBytes(in)
		out[0] = 0x00
		if in[1] != 0xBB {
			t.Errorf("Reversal aliased the input buffer")
		}
	})

	t.Run("FixedWidthLittleEndian", func(t *testing.T) {
		word := littleEndianWord(big.NewInt(0x0102))
		if word[0] != 0x02 || word[1] != 0x01 {
			t.Errorf("Expected little-endian low bytes 0x02 0x01, got 0x%02x 0x%02x", word[0], word[1])
		}
		for i := 2; i < CurveCoordinateSize; i++ {
			if word[i] != 0 {
				t.Errorf("Expected zero padding at index %d", i)
			}
		}
	})
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	message := []byte("attested identity handshake transcript")
	sig, err := kp.Sign(message)
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	t.Run("VerifiesOwnSignature", func(t *testing.T) {
		if !kp.Verify(message, sig) {
			t.Errorf("Signature did not verify")
		}
	})

	t.Run("VerifiesThroughStdlib", func(t *testing.T) {
		digest := sha256.Sum256(message)
		r := new(big.Int).SetBytes(reverseBytes(sig.R[:]))
		s := new(big.Int).SetBytes(reverseBytes(sig.S[:]))
		if !ecdsa.Verify(kp.PublicKey(), digest[:], r, s) {
			t.Errorf("Little-endian signature components did not verify after reversal")
		}
	})

	t.Run("RejectsTamperedMessage", func(t *testing.T) {
		tampered := append([]byte{}, message...)
		tampered[0] ^= 0xFF
		if kp.Verify(tampered, sig) {
			t.Errorf("Signature verified over a tampered message")
		}
	})
}

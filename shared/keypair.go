package shared

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
)

// CurveCoordinateSize is the fixed width, in bytes, of every P-256 scalar
// and coordinate handled by this package. The key provider always returns
// full-width values; shorter inputs are not defended against.
const CurveCoordinateSize = 32

// NistP256KeyPair holds an ECDSA (private, public) key pair on the NIST
// P-256 curve (a.k.a. secp256r1/prime256v1). It is immutable after
// creation and safe for concurrent use.
//
// Scalar, coordinate and signature words cross this type's boundary in
// little-endian order, matching the hardware key provider's native limb
// storage. DER emission reverses them to big-endian.
type NistP256KeyPair struct {
	inner *ecdsa.PrivateKey
}

// Signature is a raw ECDSA signature. R and S are little-endian unsigned
// words in the provider's native order. Produced fresh per signing call.
type Signature struct {
	R [CurveCoordinateSize]byte
	S [CurveCoordinateSize]byte
}

// GenerateKeyPair generates a new P-256 key pair. It fails only on
// catastrophic randomness failure.
func GenerateKeyPair() (*NistP256KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key pair: %v", err)
	}
	return &NistP256KeyPair{inner: key}, nil
}

// PrivateScalar returns the private scalar as a little-endian fixed-width
// word.
func (kp *NistP256KeyPair) PrivateScalar() [CurveCoordinateSize]byte {
	return littleEndianWord(kp.inner.D)
}

// PublicCoordinates returns the public point's affine X and Y coordinates
// as little-endian fixed-width words.
func (kp *NistP256KeyPair) PublicCoordinates() (x, y [CurveCoordinateSize]byte) {
	return littleEndianWord(kp.inner.X), littleEndianWord(kp.inner.Y)
}

// Sign signs message with ECDSA over P-256, hashing it with SHA-256
// internally. The returned (r, s) components are little-endian.
func (kp *NistP256KeyPair) Sign(message []byte) (Signature, error) {
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, kp.inner, digest[:])
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign with P-256 key: %v", err)
	}
	return Signature{R: littleEndianWord(r), S: littleEndianWord(s)}, nil
}

// Verify reports whether sig is a valid signature of message under this
// key pair's public key.
func (kp *NistP256KeyPair) Verify(message []byte, sig Signature) bool {
	digest := sha256.Sum256(message)
	r := new(big.Int).SetBytes(reverseBytes(sig.R[:]))
	s := new(big.Int).SetBytes(reverseBytes(sig.S[:]))
	return ecdsa.Verify(&kp.inner.PublicKey, digest[:], r, s)
}

// PublicKey returns the public half as a stdlib key for interoperability
// with crypto/tls and crypto/x509.
func (kp *NistP256KeyPair) PublicKey() *ecdsa.PublicKey {
	return &kp.inner.PublicKey
}

// publicKeyBytes serializes the public point in the uncompressed encoding:
// a leading 0x04 tag followed by the X and Y coordinates, each exactly 32
// bytes big-endian.
func (kp *NistP256KeyPair) publicKeyBytes() []byte {
	x, y := kp.PublicCoordinates()
	out := make([]byte, 0, 1+2*CurveCoordinateSize)
	out = append(out, 0x04)
	out = append(out, reverseBytes(x[:])...)
	out = append(out, reverseBytes(y[:])...)
	return out
}

// privateKeyBytes serializes the private scalar as a big-endian 32-byte
// unsigned integer.
func (kp *NistP256KeyPair) privateKeyBytes() []byte {
	d := kp.PrivateScalar()
	return reverseBytes(d[:])
}

// littleEndianWord converts a non-negative big integer into the provider's
// fixed-width little-endian word form.
func littleEndianWord(v *big.Int) [CurveCoordinateSize]byte {
	var word [CurveCoordinateSize]byte
	v.FillBytes(word[:])
	for i, j := 0, len(word)-1; i < j; i, j = i+1, j-1 {
		word[i], word[j] = word[j], word[i]
	}
	return word
}

// reverseBytes returns a freshly allocated copy of b with the byte order
// reversed. It is the bridge between the provider's little-endian words
// and DER's big-endian unsigned integers.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

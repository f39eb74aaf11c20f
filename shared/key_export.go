package shared

import (
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ExportPrivateKeyDER serializes the key pair's private half as a DER
// PrivateKeyInfo structure suitable for handing to a TLS stack:
//
//	SEQUENCE {
//	  INTEGER 0
//	  SEQUENCE { OID id-ecPublicKey, OID prime256v1 }
//	  OCTET STRING {
//	    SEQUENCE {                      -- ECPrivateKey
//	      INTEGER 1
//	      OCTET STRING privateScalar    -- 32 bytes, big-endian
//	      [1] { BIT STRING uncompressedPoint }
//	    }
//	  }
//	}
//
// The output is a deterministic function of the key pair; no randomness
// is introduced at export time. All inputs are fixed-width and well
// formed by construction, so an encoder failure panics instead of
// returning an error.
func ExportPrivateKeyDER(kp *NistP256KeyPair) []byte {
	pubKeyBytes := kp.publicKeyBytes()
	prvKeyBytes := kp.privateKeyBytes()

	var inner cryptobyte.Builder
	inner.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(1)
		b.AddASN1OctetString(prvKeyBytes)
		b.AddASN1(cryptobyte_asn1.Tag(1).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1BitString(pubKeyBytes)
		})
	})
	innerDER := inner.BytesOrPanic()

	var outer cryptobyte.Builder
	outer.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(0)
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			addOID(b, oidECPublicKey)
			addOID(b, oidPrime256V1)
		})
		b.AddASN1OctetString(innerDER)
	})
	return outer.BytesOrPanic()
}

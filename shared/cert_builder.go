package shared

import (
	encasn1 "encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// CertValidDays is the validity window of generated certificates. The
// not-after timestamp is always exactly this many days past not-before.
const CertValidDays = 90

// OIDs used across certificate and key serialization.
var (
	oidECPublicKey     = encasn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidPrime256V1      = encasn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidECDSAWithSHA256 = encasn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidCommonName      = encasn1.ObjectIdentifier{2, 5, 4, 3}

	// OIDAttestationExtension identifies the single certificate extension
	// carrying the attestation payload (the netscape-comment OID).
	OIDAttestationExtension = encasn1.ObjectIdentifier{2, 16, 840, 1, 113730, 1, 13}
)

// utcTimeLayout is the DER UTCTime wire format (YYMMDDHHMMSSZ).
const utcTimeLayout = "060102150405Z"

// CreateCertificateWithExtension builds a self-signed certificate for the
// key pair, embedding payload unmodified in a single extension under
// OIDAttestationExtension. issuer and subject are used verbatim as the
// sole Common-Name attribute of the issuer and subject names; the caller
// is responsible for their content.
//
// The extension is deliberately emitted without the X.509v3 extensions
// wrapper (context tag 3) and without a criticality flag. Verifiers of
// these certificates must parse that exact shape (see
// ParseAttestedCertificate).
//
// A signing failure or a host clock before the Unix epoch panics: a
// broken signing path or clock means the execution environment cannot be
// trusted to mint identity proofs, and a silently degraded certificate is
// worse than none.
func CreateCertificateWithExtension(kp *NistP256KeyPair, issuer, subject string, payload []byte) []byte {
	notBefore := time.Now().UTC().Truncate(time.Second)
	if notBefore.Unix() < 0 {
		panic(fmt.Sprintf("host clock before the Unix epoch: %v", notBefore))
	}
	notAfter := notBefore.Add(CertValidDays * 24 * time.Hour)

	pubKeyBytes := kp.publicKeyBytes()

	var tb cryptobyte.Builder
	tb.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		// version [0] EXPLICIT INTEGER 2 (v3)
		b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1Int64(2)
		})
		// serialNumber, fixed
		b.AddASN1Int64(1)
		addAlgorithmIdentifier(b)
		addCommonName(b, issuer)
		// validity
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			addUTCTime(b, notBefore)
			addUTCTime(b, notAfter)
		})
		addCommonName(b, subject)
		// subjectPublicKeyInfo
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				addOID(b, oidECPublicKey)
				addOID(b, oidPrime256V1)
			})
			b.AddASN1BitString(pubKeyBytes)
		})
		// attestation payload extension, bare SEQUENCE shape
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				addOID(b, OIDAttestationExtension)
				b.AddASN1OctetString(payload)
			})
		})
	})
	tbsDER := tb.BytesOrPanic()

	sig, err := kp.Sign(tbsDER)
	if err != nil {
		// There will be serious problems if this call fails.
		panic(fmt.Sprintf("certificate signing failed: %v", err))
	}

	var sb cryptobyte.Builder
	sb.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(new(big.Int).SetBytes(reverseBytes(sig.R[:])))
		b.AddASN1BigInt(new(big.Int).SetBytes(reverseBytes(sig.S[:])))
	})
	sigDER := sb.BytesOrPanic()

	var cb cryptobyte.Builder
	cb.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		// TBS bytes embedded verbatim, not re-wrapped
		b.AddBytes(tbsDER)
		addAlgorithmIdentifier(b)
		b.AddASN1BitString(sigDER)
	})
	return cb.BytesOrPanic()
}

// addAlgorithmIdentifier writes the ECDSA-with-SHA256 algorithm
// identifier SEQUENCE.
func addAlgorithmIdentifier(b *cryptobyte.Builder) {
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		addOID(b, oidECDSAWithSHA256)
	})
}

// addCommonName writes an X.501 Name holding a single Common-Name
// attribute with the given UTF-8 value.
func addCommonName(b *cryptobyte.Builder, name string) {
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cryptobyte_asn1.SET, func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				addOID(b, oidCommonName)
				b.AddASN1(cryptobyte_asn1.UTF8String, func(b *cryptobyte.Builder) {
					b.AddBytes([]byte(name))
				})
			})
		})
	})
}

// addUTCTime writes t as a DER UTCTime with one-second resolution.
func addUTCTime(b *cryptobyte.Builder, t time.Time) {
	b.AddASN1(cryptobyte_asn1.UTCTime, func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(t.UTC().Format(utcTimeLayout)))
	})
}

// addOID writes an OBJECT IDENTIFIER. The structure of every value built
// here is fixed at compile time, so a marshal failure is an invariant
// violation, consistent with the builder's fatal error policy.
func addOID(b *cryptobyte.Builder, oid encasn1.ObjectIdentifier) {
	der, err := encasn1.Marshal(oid)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal OID %v: %v", oid, err))
	}
	b.AddBytes(der)
}

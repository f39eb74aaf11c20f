package shared

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/tls"
	encasn1 "encoding/asn1"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// AttestedCertificate is the decoded form of a certificate produced by
// CreateCertificateWithExtension.
type AttestedCertificate struct {
	Raw    []byte // complete certificate DER
	RawTBS []byte // to-be-signed element, as signed

	Issuer    string
	Subject   string
	NotBefore time.Time
	NotAfter  time.Time

	PublicKey      *ecdsa.PublicKey
	PublicKeyBytes []byte // uncompressed point, 0x04 || X || Y

	ExtensionOID encasn1.ObjectIdentifier
	Payload      []byte // attestation evidence, byte-for-byte as embedded

	signature []byte // DER SEQUENCE of two INTEGERs
}

// ParseAttestedCertificate decodes der, which must follow the exact shape
// emitted by CreateCertificateWithExtension, including the bare
// (non-X.509v3) attestation extension encoding. It performs a structural
// parse only; call VerifySignature to check the certificate's own
// signature.
func ParseAttestedCertificate(der []byte) (*AttestedCertificate, error) {
	cert := &AttestedCertificate{Raw: der}

	input := cryptobyte.String(der)
	var outer cryptobyte.String
	if !input.ReadASN1(&outer, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("malformed certificate: not a single SEQUENCE")
	}

	var tbs cryptobyte.String
	if !outer.ReadASN1Element(&tbs, cryptobyte_asn1.SEQUENCE) {
		return nil, fmt.Errorf("malformed certificate: missing tbsCertificate")
	}
	cert.RawTBS = []byte(tbs)

	if err := cert.parseTBS(tbs); err != nil {
		return nil, err
	}

	if err := readAlgorithmIdentifier(&outer); err != nil {
		return nil, fmt.Errorf("malformed signatureAlgorithm: %v", err)
	}

	var sig encasn1.BitString
	if !outer.ReadASN1BitString(&sig) {
		return nil, fmt.Errorf("malformed certificate: missing signatureValue")
	}
	if sig.BitLength%8 != 0 {
		return nil, fmt.Errorf("malformed signatureValue: not byte-aligned")
	}
	cert.signature = sig.Bytes
	if !outer.Empty() {
		return nil, fmt.Errorf("malformed certificate: trailing data")
	}
	return cert, nil
}

func (c *AttestedCertificate) parseTBS(raw cryptobyte.String) error {
	var tbs cryptobyte.String
	if !raw.ReadASN1(&tbs, cryptobyte_asn1.SEQUENCE) {
		return fmt.Errorf("malformed tbsCertificate")
	}

	var versionWrap cryptobyte.String
	if !tbs.ReadASN1(&versionWrap, cryptobyte_asn1.Tag(0).ContextSpecific().Constructed()) {
		return fmt.Errorf("malformed tbsCertificate: missing version")
	}
	var version int
	if !versionWrap.ReadASN1Integer(&version) || version != 2 {
		return fmt.Errorf("unsupported certificate version %d", version)
	}

	var serial int
	if !tbs.ReadASN1Integer(&serial) {
		return fmt.Errorf("malformed tbsCertificate: missing serial")
	}

	if err := readAlgorithmIdentifier(&tbs); err != nil {
		return fmt.Errorf("malformed tbsCertificate signature algorithm: %v", err)
	}

	var err error
	if c.Issuer, err = readCommonName(&tbs); err != nil {
		return fmt.Errorf("malformed issuer: %v", err)
	}

	var validity cryptobyte.String
	if !tbs.ReadASN1(&validity, cryptobyte_asn1.SEQUENCE) {
		return fmt.Errorf("malformed tbsCertificate: missing validity")
	}
	if c.NotBefore, err = readUTCTime(&validity); err != nil {
		return fmt.Errorf("malformed notBefore: %v", err)
	}
	if c.NotAfter, err = readUTCTime(&validity); err != nil {
		return fmt.Errorf("malformed notAfter: %v", err)
	}

	if c.Subject, err = readCommonName(&tbs); err != nil {
		return fmt.Errorf("malformed subject: %v", err)
	}

	var spki cryptobyte.String
	if !tbs.ReadASN1(&spki, cryptobyte_asn1.SEQUENCE) {
		return fmt.Errorf("malformed tbsCertificate: missing subjectPublicKeyInfo")
	}
	var spkiAlgo cryptobyte.String
	var keyOID, curveOID encasn1.ObjectIdentifier
	if !spki.ReadASN1(&spkiAlgo, cryptobyte_asn1.SEQUENCE) ||
		!spkiAlgo.ReadASN1ObjectIdentifier(&keyOID) ||
		!spkiAlgo.ReadASN1ObjectIdentifier(&curveOID) {
		return fmt.Errorf("malformed subjectPublicKeyInfo algorithm")
	}
	if !keyOID.Equal(oidECPublicKey) || !curveOID.Equal(oidPrime256V1) {
		return fmt.Errorf("unsupported public key algorithm %v / %v", keyOID, curveOID)
	}
	var point encasn1.BitString
	if !spki.ReadASN1BitString(&point) {
		return fmt.Errorf("malformed subjectPublicKeyInfo key")
	}
	c.PublicKeyBytes = point.Bytes
	x, y := elliptic.Unmarshal(elliptic.P256(), c.PublicKeyBytes)
	if x == nil {
		return fmt.Errorf("invalid P-256 public point")
	}
	c.PublicKey = &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	// Attestation extension: SEQUENCE { SEQUENCE { OID, OCTET STRING } },
	// no context-3 wrapper, no criticality flag.
	var extWrap, ext cryptobyte.String
	if !tbs.ReadASN1(&extWrap, cryptobyte_asn1.SEQUENCE) ||
		!extWrap.ReadASN1(&ext, cryptobyte_asn1.SEQUENCE) {
		return fmt.Errorf("malformed attestation extension")
	}
	if !ext.ReadASN1ObjectIdentifier(&c.ExtensionOID) {
		return fmt.Errorf("malformed attestation extension OID")
	}
	var payload []byte
	if !ext.ReadASN1Bytes(&payload, cryptobyte_asn1.OCTET_STRING) {
		return fmt.Errorf("malformed attestation extension payload")
	}
	c.Payload = payload

	if !tbs.Empty() {
		return fmt.Errorf("malformed tbsCertificate: trailing data")
	}
	return nil
}

// VerifySignature checks the certificate's ECDSA/SHA-256 signature over
// the embedded TBS bytes against the embedded public key.
func (c *AttestedCertificate) VerifySignature() error {
	digest := sha256.Sum256(c.RawTBS)
	if !ecdsa.VerifyASN1(c.PublicKey, digest[:], c.signature) {
		return fmt.Errorf("certificate signature verification failed")
	}
	return nil
}

// ExtractAttestationFromTLS parses and signature-checks the peer's leaf
// certificate from a completed TLS handshake and returns its decoded
// form, including the attestation payload.
func ExtractAttestationFromTLS(state tls.ConnectionState) (*AttestedCertificate, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificates")
	}
	cert, err := ParseAttestedCertificate(state.PeerCertificates[0].Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse peer certificate: %v", err)
	}
	if err := cert.VerifySignature(); err != nil {
		return nil, err
	}
	return cert, nil
}

// ExtractAttestationFromWebSocket extracts the attested peer certificate
// from a WebSocket connection running over TLS.
func ExtractAttestationFromWebSocket(conn *websocket.Conn) (*AttestedCertificate, error) {
	underlying := conn.NetConn()

	tlsConn, ok := underlying.(*tls.Conn)
	if !ok {
		return nil, fmt.Errorf("not a TLS connection")
	}

	return ExtractAttestationFromTLS(tlsConn.ConnectionState())
}

func readAlgorithmIdentifier(s *cryptobyte.String) error {
	var algo cryptobyte.String
	var oid encasn1.ObjectIdentifier
	if !s.ReadASN1(&algo, cryptobyte_asn1.SEQUENCE) || !algo.ReadASN1ObjectIdentifier(&oid) {
		return fmt.Errorf("missing algorithm identifier")
	}
	if !oid.Equal(oidECDSAWithSHA256) {
		return fmt.Errorf("unsupported signature algorithm %v", oid)
	}
	return nil
}

func readCommonName(s *cryptobyte.String) (string, error) {
	var name, rdn, attr cryptobyte.String
	var oid encasn1.ObjectIdentifier
	if !s.ReadASN1(&name, cryptobyte_asn1.SEQUENCE) ||
		!name.ReadASN1(&rdn, cryptobyte_asn1.SET) ||
		!rdn.ReadASN1(&attr, cryptobyte_asn1.SEQUENCE) ||
		!attr.ReadASN1ObjectIdentifier(&oid) {
		return "", fmt.Errorf("missing name attribute")
	}
	if !oid.Equal(oidCommonName) {
		return "", fmt.Errorf("unexpected attribute type %v", oid)
	}
	var value []byte
	if !attr.ReadASN1Bytes(&value, cryptobyte_asn1.UTF8String) {
		return "", fmt.Errorf("missing common name value")
	}
	return string(value), nil
}

func readUTCTime(s *cryptobyte.String) (time.Time, error) {
	var raw []byte
	if !s.ReadASN1Bytes(&raw, cryptobyte_asn1.UTCTime) {
		return time.Time{}, fmt.Errorf("missing UTCTime")
	}
	t, err := time.Parse(utcTimeLayout, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid UTCTime %q: %v", raw, err)
	}
	return t, nil
}

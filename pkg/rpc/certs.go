package rpc

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"kitties/pkg/types"
)

// ALPN identifies this protocol during the TLS handshake.
const ALPN = "kitties/1"

var oidKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}

// AlternativeNameEncoding is the base32 alphabet used for certificate names.
const AlternativeNameEncoding = "abcdefghijklmnopqrstuvwxyz234567"

// AccountFromKey returns the account identified by an ed25519 public key.
func AccountFromKey(pub ed25519.PublicKey) types.AccountID {
	var account types.AccountID
	copy(account[:], pub)
	return account
}

func serverTLSConfig(key ed25519.PrivateKey) (*tls.Config, error) {
	cert, err := generateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		MinVersion:            tls.VersionTLS13,
		NextProtos:            []string{ALPN},
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: verifyPeerCertificate,
	}, nil
}

func clientTLSConfig(key ed25519.PrivateKey) (*tls.Config, error) {
	cert, err := generateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{ALPN},
		// Certificates are self-signed; verifyPeerCertificate checks the name binding instead.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeerCertificate,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return &cert, nil
		},
	}, nil
}

// generateCertificate creates a self-signed certificate whose only DNS name
// is derived from the key.
func generateCertificate(privateKey ed25519.PrivateKey) (tls.Certificate, error) {
	publicKey := privateKey.Public().(ed25519.PublicKey)
	altName, err := GenerateAlternativeName(publicKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate alternative name: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	// KeyUsage is a BIT STRING with only digitalSignature (bit 0) set, added
	// as a non-critical extension so peers do not reject it as unhandled.
	keyUsageBytes, err := asn1.Marshal(asn1.BitString{Bytes: []byte{0x80}, BitLength: 1})
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to marshal key usage: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: altName},
		DNSNames:              []string{altName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		ExtraExtensions: []pkix.Extension{{
			Id:       oidKeyUsage,
			Critical: false,
			Value:    keyUsageBytes,
		}},
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, publicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certBytes},
		PrivateKey:  privateKey,
	}, nil
}

// GenerateAlternativeName encodes the key, read as a little-endian integer,
// as "e" followed by 52 base32 digits.
func GenerateAlternativeName(pubKey ed25519.PublicKey) (string, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid public key size: %d", len(pubKey))
	}

	revBytes := make([]byte, len(pubKey))
	for i, b := range pubKey {
		revBytes[len(pubKey)-1-i] = b
	}
	n := new(big.Int).SetBytes(revBytes)

	result := make([]byte, 0, 53)
	result = append(result, 'e')
	thirtytwo := big.NewInt(32)
	mod := new(big.Int)
	for i := 0; i < 52; i++ {
		n.DivMod(n, thirtytwo, mod)
		result = append(result, AlternativeNameEncoding[mod.Int64()])
	}
	return string(result), nil
}

// verifyPeerCertificate checks that the peer presents an ed25519 certificate
// named after its own key.
func verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("no certificate provided by peer")
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse peer certificate: %w", err)
	}

	publicKey, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("peer certificate does not use Ed25519 key")
	}

	if len(cert.DNSNames) != 1 {
		return fmt.Errorf("peer certificate must have exactly one DNS name, has %d", len(cert.DNSNames))
	}

	expectedName, err := GenerateAlternativeName(publicKey)
	if err != nil {
		return fmt.Errorf("failed to generate expected name: %w", err)
	}
	if cert.DNSNames[0] != expectedName {
		return fmt.Errorf("peer certificate DNS name does not match expected name: %s vs %s",
			cert.DNSNames[0], expectedName)
	}
	return nil
}

// peerAccount extracts the account of the peer from its verified certificate chain.
func peerAccount(state tls.ConnectionState) (types.AccountID, error) {
	if len(state.PeerCertificates) == 0 {
		return types.AccountID{}, fmt.Errorf("no client certificate")
	}
	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return types.AccountID{}, fmt.Errorf("invalid certificate key type")
	}
	return AccountFromKey(pub), nil
}

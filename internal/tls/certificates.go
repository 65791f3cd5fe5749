package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	organization = "restecho test double"
	validFor     = 365 * 24 * time.Hour
)

// CertManager loads or generates a private CA plus a server and a client
// certificate signed by it, all stored as PEM files in certDir.
type CertManager struct {
	certDir    string
	caCert     *x509.Certificate
	caKey      *ecdsa.PrivateKey
	serverCert tls.Certificate
	clientCert tls.Certificate
}

// NewCertManager creates a new certificate manager
func NewCertManager(certDir string) (*CertManager, error) {
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cert directory: %w", err)
	}

	cm := &CertManager{certDir: certDir}

	if err := cm.setupCA(); err != nil {
		return nil, fmt.Errorf("failed to setup CA: %w", err)
	}

	var err error
	cm.serverCert, err = cm.setupLeaf("server", &x509.Certificate{
		Subject:     pkix.Name{Organization: []string{organization}, CommonName: "localhost"},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup server cert: %w", err)
	}

	cm.clientCert, err = cm.setupLeaf("client", &x509.Certificate{
		Subject:     pkix.Name{Organization: []string{organization}, CommonName: "restecho-client"},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup client cert: %w", err)
	}

	return cm, nil
}

func (cm *CertManager) paths(name string) (certPath, keyPath string) {
	return filepath.Join(cm.certDir, name+"-cert.pem"), filepath.Join(cm.certDir, name+"-key.pem")
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// setupCA loads or generates the CA certificate
func (cm *CertManager) setupCA() error {
	certPath, keyPath := cm.paths("ca")
	if exists(certPath, keyPath) {
		return cm.loadCA(certPath, keyPath)
	}
	return cm.generateCA(certPath, keyPath)
}

func (cm *CertManager) loadCA(certPath, keyPath string) error {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return err
	}
	key, ok := pair.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("CA key in %s is not an ECDSA key", keyPath)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return err
	}
	cm.caCert, cm.caKey = cert, key
	return nil
}

func (cm *CertManager) generateCA(certPath, keyPath string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	serial, err := serialNumber()
	if err != nil {
		return err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{organization}, CommonName: "restecho CA"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}
	if err := writePair(certPath, keyPath, der, key); err != nil {
		return err
	}

	cm.caKey = key
	cm.caCert, err = x509.ParseCertificate(der)
	return err
}

// setupLeaf loads name-cert.pem/name-key.pem, issuing a fresh pair from the CA
// when they are missing or no longer chain to it.
func (cm *CertManager) setupLeaf(name string, template *x509.Certificate) (tls.Certificate, error) {
	certPath, keyPath := cm.paths(name)
	if exists(certPath, keyPath) {
		if pair, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil && cm.signedByCA(pair) {
			return pair, nil
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := serialNumber()
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	template.SerialNumber = serial
	template.NotBefore = now.Add(-time.Minute)
	template.NotAfter = now.Add(validFor)
	template.KeyUsage = x509.KeyUsageDigitalSignature

	der, err := x509.CreateCertificate(rand.Reader, template, cm.caCert, &key.PublicKey, cm.caKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	if err := writePair(certPath, keyPath, der, key); err != nil {
		return tls.Certificate{}, err
	}
	return tls.LoadX509KeyPair(certPath, keyPath)
}

func (cm *CertManager) signedByCA(pair tls.Certificate) bool {
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return false
	}
	return leaf.CheckSignatureFrom(cm.caCert) == nil
}

func serialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

func writePair(certPath, keyPath string, der []byte, key *ecdsa.PrivateKey) error {
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0o600); err != nil {
		return err
	}
	return writePEM(certPath, "CERTIFICATE", der, 0o644)
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (cm *CertManager) caPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(cm.caCert)
	return pool
}

// ServerTLSConfig returns the listener TLS config. With requireClientCert the
// server demands a client certificate issued by the CA.
func (cm *CertManager) ServerTLSConfig(requireClientCert bool) *tls.Config {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cm.serverCert},
		MinVersion:   tls.VersionTLS12,
	}
	if requireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = cm.caPool()
	}
	return cfg
}

// ClientTLSConfig returns a config trusting the CA and presenting the client certificate
func (cm *CertManager) ClientTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cm.clientCert},
		RootCAs:      cm.caPool(),
		MinVersion:   tls.VersionTLS12,
		ServerName:   "localhost",
	}
}

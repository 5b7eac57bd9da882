package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateSelfSignedCert_Defaults(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "localhost" {
		t.Errorf("DNS SANs: got %v, want [localhost]", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 1 || leaf.IPAddresses[0].String() != "127.0.0.1" {
		t.Errorf("IP SANs: got %v, want [127.0.0.1]", leaf.IPAddresses)
	}

	validFor := leaf.NotAfter.Sub(leaf.NotBefore)
	if want := 365 * 24 * time.Hour; validFor < want-time.Hour || validFor > want+time.Hour {
		t.Errorf("validity: got %v, want about %v", validFor, want)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if ecKey.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
	}
}

func TestGenerateSelfSignedCert_CustomHosts(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert("relay.test", "10.0.0.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if leaf.Subject.CommonName != "relay.test" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "relay.test")
	}
	if err := leaf.VerifyHostname("relay.test"); err != nil {
		t.Errorf("VerifyHostname(relay.test): %v", err)
	}
	if err := leaf.VerifyHostname("10.0.0.7"); err != nil {
		t.Errorf("VerifyHostname(10.0.0.7): %v", err)
	}
}

func writePair(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	certPEM, keyPEM, err := GenerateSelfSignedPEM()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestServerConfig_Disabled(t *testing.T) {
	t.Parallel()

	cfg, err := ServerConfig("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("got %+v, want nil config", cfg)
	}
}

func TestServerConfig_LoadsPair(t *testing.T) {
	t.Parallel()

	certFile, keyFile := writePair(t)

	cfg, err := ServerConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates: got %d, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", cfg.MinVersion, standardtls.VersionTLS12)
	}
}

func TestServerConfig_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		certFile string
		keyFile  string
	}{
		{"missing key path", "cert.pem", ""},
		{"missing cert path", "", "key.pem"},
		{"nonexistent files", "/nonexistent/cert.pem", "/nonexistent/key.pem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ServerConfig(tt.certFile, tt.keyFile); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestClientConfig_SystemRoots(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig("mail.example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "mail.example.com" {
		t.Errorf("ServerName: got %q, want %q", cfg.ServerName, "mail.example.com")
	}
	if cfg.RootCAs != nil {
		t.Error("RootCAs: expected system roots (nil)")
	}
}

func TestClientConfig_CustomCA(t *testing.T) {
	t.Parallel()

	certFile, _ := writePair(t)

	cfg, err := ClientConfig("localhost", certFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("RootCAs: got nil, want custom pool")
	}
}

func TestClientConfig_BadCAFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.pem")
	if err := os.WriteFile(empty, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ClientConfig("localhost", empty); err == nil {
		t.Error("expected error for file without certificates")
	}
	if _, err := ClientConfig("localhost", filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("expected error for missing file")
	}
}

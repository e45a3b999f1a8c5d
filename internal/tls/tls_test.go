package tls

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerateCertReusesValidCertificate(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"auth.local", "127.0.0.1"})
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	leaf, err := x509.ParseCertificate(first.Certificate[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "auth.local" {
		t.Errorf("DNSNames = %v", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 1 {
		t.Errorf("IPAddresses = %v", leaf.IPAddresses)
	}

	second, err := gen.GenerateCert([]string{"auth.local"})
	if err != nil {
		t.Fatalf("GenerateCert again: %v", err)
	}
	if string(second.Certificate[0]) != string(first.Certificate[0]) {
		t.Error("expected the stored certificate to be reused")
	}

	gen.now = func() time.Time { return time.Now().Add(2 * devCertValidity) }
	if gen.isCertificateValid(dir + "/dev-cert.pem") {
		t.Error("certificate should be expired")
	}
}

func TestGetCertificateFallsBackToDevCert(t *testing.T) {
	m := NewTLSManager(&TLSConfig{
		EnableTLS:   true,
		Domain:      "localhost",
		AutoCertDir: t.TempDir(),
		Environment: "development",
	})
	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	again, _ := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if cert != again {
		t.Error("expected the certificate to be cached")
	}
}

func TestGetCertificateProductionRequiresRealCert(t *testing.T) {
	m := NewTLSManager(&TLSConfig{
		EnableTLS:   true,
		Domain:      "auth.example.com",
		AutoCertDir: t.TempDir(),
		Environment: "production",
	})
	if _, err := m.GetCertificate(&tls.ClientHelloInfo{}); err == nil {
		t.Fatal("expected an error without a certificate in production")
	}
	if m.GetTLSConfig().MinVersion != tls.VersionTLS12 {
		t.Error("expected TLS 1.2 minimum")
	}
}

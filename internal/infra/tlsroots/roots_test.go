package tlsroots

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/shardkv/internal/infra/confloader"
)

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

// writeKeypair writes a self-signed certificate for cn and returns its DER.
func writeKeypair(t *testing.T, certFile, keyFile, cn string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		DNSNames:              []string{cn},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return der
}

func TestLoadPoolFromFileAndDir(t *testing.T) {
	dir := t.TempDir()
	writeKeypair(t, filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key"), "a.local")
	writeKeypair(t, filepath.Join(dir, "b.pem"), filepath.Join(dir, "b.key"), "b.local")

	if _, err := LoadPool(filepath.Join(dir, "a.crt")); err != nil {
		t.Fatalf("LoadPool(file) error = %v", err)
	}
	if _, err := LoadPool(dir); err != nil {
		t.Fatalf("LoadPool(dir) error = %v", err)
	}
	if pool, err := LoadPool(); err != nil || pool == nil {
		t.Fatalf("LoadPool() = %v, %v", pool, err)
	}
}

func TestLoadPoolErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadPool(filepath.Join(dir, "missing.pem")); err == nil {
		t.Fatal("LoadPool() succeeded for a missing file")
	}
	if _, err := LoadPool(dir); !errors.Is(err, ErrNoCertsFound) {
		t.Fatalf("LoadPool(empty dir) = %v, want ErrNoCertsFound", err)
	}
	junk := filepath.Join(dir, "junk.pem")
	if err := os.WriteFile(junk, []byte("not pem"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPool(junk); !errors.Is(err, ErrNoCertsFound) {
		t.Fatalf("LoadPool(junk) = %v, want ErrNoCertsFound", err)
	}
}

func TestAddPEMRejectsBadCertificate(t *testing.T) {
	bad := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("garbage")})
	if err := AddPEM(x509.NewCertPool(), bad); err == nil {
		t.Fatal("AddPEM() accepted a corrupt certificate")
	}
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	writeKeypair(t, certFile, keyFile, "admin.local")

	kp, err := LoadKeypair(certFile, keyFile, quiet())
	if err != nil {
		t.Fatalf("LoadKeypair() error = %v", err)
	}

	cfg := ServerConfig(kp, nil)
	if cfg.ClientAuth != tls.NoClientCert {
		t.Fatalf("ClientAuth = %v, want none", cfg.ClientAuth)
	}
	cert, err := cfg.GetCertificate(nil)
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate() = %v, %v", cert, err)
	}

	pool, err := LoadPool(certFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg := ServerConfig(kp, pool); cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Fatalf("ClientAuth = %v, want RequireAndVerifyClientCert", cfg.ClientAuth)
	}
	if cfg := ClientConfig(pool, kp); cfg.GetClientCertificate == nil || cfg.RootCAs != pool {
		t.Fatal("ClientConfig() did not carry roots and keypair")
	}
}

func TestLoadKeypairMissingFiles(t *testing.T) {
	if _, err := LoadKeypair("/nonexistent/tls.crt", "/nonexistent/tls.key", quiet()); err == nil {
		t.Fatal("LoadKeypair() succeeded for missing files")
	}
}

func TestKeypairReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	first := writeKeypair(t, certFile, keyFile, "one.local")

	kp, err := LoadKeypair(certFile, keyFile, quiet())
	if err != nil {
		t.Fatalf("LoadKeypair() error = %v", err)
	}
	w, err := confloader.NewWatcher(
		confloader.WithWatcherLogger(quiet()),
		confloader.WithDebounce(50*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := kp.Watch(w); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	second := writeKeypair(t, certFile, keyFile, "two.local")
	if string(first) == string(second) {
		t.Fatal("test certificates are identical")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cert, _ := kp.GetCertificate(nil)
		if string(cert.Certificate[0]) == string(second) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("keypair not reloaded after rotation")
}

func TestReloadKeepsOldCertOnFailure(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	der := writeKeypair(t, certFile, keyFile, "keep.local")

	kp, err := LoadKeypair(certFile, keyFile, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, []byte("broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := kp.Reload(); err == nil {
		t.Fatal("Reload() succeeded with a broken key")
	}
	cert, _ := kp.GetClientCertificate(nil)
	if string(cert.Certificate[0]) != string(der) {
		t.Fatal("certificate replaced after failed reload")
	}
}

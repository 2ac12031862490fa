package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/yndnr/shardkv/internal/infra/confloader"
)

// Keypair is a certificate and key loaded from disk.
type Keypair struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate
}

// LoadKeypair reads certFile and keyFile.
func LoadKeypair(certFile, keyFile string, logger *slog.Logger) (*Keypair, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kp := &Keypair{certFile: certFile, keyFile: keyFile, logger: logger}
	if err := kp.Reload(); err != nil {
		return nil, err
	}
	return kp, nil
}

// Reload rereads the files. On failure the previous certificate stays in
// use.
func (k *Keypair) Reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	k.mu.Lock()
	k.cert = &cert
	k.mu.Unlock()
	k.logger.Info("certificate loaded", "cert_file", k.certFile)
	return nil
}

// Watch reloads the keypair whenever w reports a change to either file.
func (k *Keypair) Watch(w *confloader.Watcher) error {
	if err := w.Watch(k.certFile); err != nil {
		return err
	}
	if err := w.Watch(k.keyFile); err != nil {
		return err
	}
	certAbs, _ := filepath.Abs(k.certFile)
	keyAbs, _ := filepath.Abs(k.keyFile)
	w.OnChange(func(path string) {
		if path != certAbs && path != keyAbs {
			return
		}
		if err := k.Reload(); err != nil {
			k.logger.Error("certificate reload failed", "cert_file", k.certFile, "error", err)
		}
	})
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (k *Keypair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert, nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (k *Keypair) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert, nil
}

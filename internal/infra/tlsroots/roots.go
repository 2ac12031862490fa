package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCertsFound is returned when PEM input holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found")

// LoadPool builds a pool from PEM files or directories of .pem, .crt and
// .cer files. With no paths it returns the system pool.
func LoadPool(paths ...string) (*x509.CertPool, error) {
	if len(paths) == 0 {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return x509.NewCertPool(), nil
		}
		return pool, nil
	}

	pool := x509.NewCertPool()
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: %w", err)
		}
		if !fi.IsDir() {
			if err := addFile(pool, p); err != nil {
				return nil, err
			}
			continue
		}
		if err := addDir(pool, p); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func addDir(pool *x509.CertPool, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("tlsroots: read dir %s: %w", dir, err)
	}
	added := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pem", ".crt", ".cer":
			if err := addFile(pool, filepath.Join(dir, e.Name())); err != nil {
				return err
			}
			added++
		}
	}
	if added == 0 {
		return fmt.Errorf("tlsroots: %s: %w", dir, ErrNoCertsFound)
	}
	return nil
}

func addFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	if err := AddPEM(pool, data); err != nil {
		return fmt.Errorf("tlsroots: %s: %w", path, err)
	}
	return nil
}

// AddPEM adds every CERTIFICATE block in data to pool.
func AddPEM(pool *x509.CertPool, data []byte) error {
	added := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("parse certificate: %w", err)
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	return nil
}

// ServerConfig returns a config serving kp. A non-nil clientCAs requires
// and verifies client certificates.
func ServerConfig(kp *Keypair, clientCAs *x509.CertPool) *tls.Config {
	cfg := &tls.Config{
		GetCertificate: kp.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// ClientConfig returns a config trusting roots and, when kp is non-nil,
// presenting its certificate.
func ClientConfig(roots *x509.CertPool, kp *Keypair) *tls.Config {
	cfg := &tls.Config{
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}
	if kp != nil {
		cfg.GetClientCertificate = kp.GetClientCertificate
	}
	return cfg
}

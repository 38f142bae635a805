package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
)

// Signer produces the RSA-SHA256 signature of a V4 signed URL.
type Signer interface {
	// Email is used as the GoogleAccessID of signed URLs.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs with the private key of a service account JSON key.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

var _ Signer = (*ServiceAccountSigner)(nil)

// NewServiceAccountSigner accepts the key JSON inline (as resolved from Secret Manager) or a path to it.
func NewServiceAccountSigner(keyOrPath string) (*ServiceAccountSigner, error) {
	material, err := readKeyMaterial(strings.TrimSpace(keyOrPath))
	if err != nil {
		return nil, err
	}
	jwt, err := google.JWTConfigFromJSON(material)
	if err != nil {
		return nil, fmt.Errorf("storage: parse service account key: %w", err)
	}
	if jwt.Email == "" {
		return nil, errors.New("storage: service account key has no client_email")
	}
	key, err := rsaKeyFromPEM(jwt.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: jwt.Email, key: key}, nil
}

func readKeyMaterial(keyOrPath string) ([]byte, error) {
	switch {
	case keyOrPath == "":
		return nil, errors.New("storage: service account key is empty")
	case strings.HasPrefix(keyOrPath, "{"):
		return []byte(keyOrPath), nil
	}
	data, err := os.ReadFile(keyOrPath)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account key: %w", err)
	}
	return data, nil
}

func (s *ServiceAccountSigner) Email() string { return s.email }

func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
}

// rsaKeyFromPEM accepts PKCS#8 (what service account keys use) and PKCS#1 blocks.
func rsaKeyFromPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("storage: private_key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("storage: private key is %T, want RSA", parsed)
	}
	return key, nil
}

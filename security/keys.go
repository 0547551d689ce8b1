package security

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/go-jose/go-jose/v4"
)

const signingAlgorithm = "EdDSA"

// SigningKey is an Ed25519 token signing key. ID is the RFC 7638 thumbprint
// of the public half and is published as the JWS kid.
type SigningKey struct {
	ID      string
	Private ed25519.PrivateKey
}

func (k SigningKey) Public() ed25519.PublicKey {
	if len(k.Private) != ed25519.PrivateKeySize {
		return nil
	}
	return k.Private.Public().(ed25519.PublicKey)
}

func GenerateSigningKey(random io.Reader) (SigningKey, error) {
	if random == nil {
		random = rand.Reader
	}
	_, private, err := ed25519.GenerateKey(random)
	if err != nil {
		return SigningKey{}, fmt.Errorf("security: generate signing key: %w", err)
	}
	return newSigningKey(private)
}

// ParseSigningKeyPEM reads a PKCS#8 "PRIVATE KEY" block holding an Ed25519 key.
func ParseSigningKeyPEM(data []byte) (SigningKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return SigningKey{}, fmt.Errorf("security: no PEM block found")
	}
	if block.Type != "PRIVATE KEY" {
		return SigningKey{}, fmt.Errorf("security: unexpected PEM block %q", block.Type)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return SigningKey{}, fmt.Errorf("security: parse signing key: %w", err)
	}
	private, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return SigningKey{}, fmt.Errorf("security: signing key must be ed25519, got %T", parsed)
	}
	return newSigningKey(private)
}

func EncodeSigningKeyPEM(key SigningKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key.Private)
	if err != nil {
		return nil, fmt.Errorf("security: encode signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublishJWKS returns the public JWK set for the given keys. Private material
// is never included.
func PublishJWKS(keys ...SigningKey) jose.JSONWebKeySet {
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, key := range keys {
		public := key.Public()
		if public == nil {
			continue
		}
		set.Keys = append(set.Keys, publicJWK(key.ID, public))
	}
	return set
}

func publicJWK(kid string, public ed25519.PublicKey) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       public,
		KeyID:     kid,
		Algorithm: signingAlgorithm,
		Use:       "sig",
	}
}

func newSigningKey(private ed25519.PrivateKey) (SigningKey, error) {
	jwk := jose.JSONWebKey{Key: private.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return SigningKey{}, fmt.Errorf("security: key thumbprint: %w", err)
	}
	return SigningKey{
		ID:      base64.RawURLEncoding.EncodeToString(thumbprint),
		Private: private,
	}, nil
}

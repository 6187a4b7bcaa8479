package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// KeyStore holds the issuer's RSA keys. KeySet carries private keys for
// signing; PublicSet is what tokens are verified against and what the JWKS
// endpoint publishes.
type KeyStore struct {
	ActiveKid string
	KeySet    jwk.Set
	PublicSet jwk.Set
}

// KeyID returns the JWK key id for a bare kid
func KeyID(kid string) string {
	if strings.HasPrefix(kid, "key-") {
		return kid
	}
	return "key-" + kid
}

// LoadKeys reads every private-<kid>.pem / public-<kid>.pem pair in path
func LoadKeys(path, activeKid string) (*KeyStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ErrKeysDirectoryNotAccessible{Path: path, Err: err}
	}
	if !info.IsDir() {
		return nil, &ErrKeysPathNotDirectory{Path: path}
	}

	files, err := os.ReadDir(path)
	if err != nil {
		return nil, &ErrKeysDirectoryNotAccessible{Path: path, Err: err}
	}

	keySet := jwk.NewSet()
	for _, file := range files {
		fileName := file.Name()
		if file.IsDir() || !strings.HasPrefix(fileName, "private-") || filepath.Ext(fileName) != ".pem" {
			continue
		}

		kid := strings.TrimSuffix(strings.TrimPrefix(fileName, "private-"), ".pem")
		if kid == "" {
			continue
		}

		priv, err := readPrivateKey(filepath.Join(path, fileName))
		if err != nil {
			return nil, &ErrKeyFile{FileName: fileName, Reason: "invalid private key", Err: err}
		}

		pubFileName := fmt.Sprintf("public-%s.pem", kid)
		pub, err := readPublicKey(filepath.Join(path, pubFileName))
		if err != nil {
			return nil, &ErrKeyFile{FileName: pubFileName, Reason: "invalid public key", Err: err}
		}
		if !pub.Equal(&priv.PublicKey) {
			return nil, &ErrKeyFile{FileName: pubFileName, Reason: "does not match " + fileName}
		}

		jwkKey, err := jwk.Import(priv)
		if err != nil {
			return nil, fmt.Errorf("failed to convert private key to JWK: %w", err)
		}
		if err := jwkKey.Set(jwk.KeyIDKey, KeyID(kid)); err != nil {
			return nil, fmt.Errorf("failed to set key ID: %w", err)
		}
		if err := jwkKey.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
			return nil, fmt.Errorf("failed to set algorithm: %w", err)
		}
		if err := keySet.AddKey(jwkKey); err != nil {
			return nil, fmt.Errorf("failed to add key to set: %w", err)
		}
	}

	publicSet, err := jwk.PublicSetOf(keySet)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key set: %w", err)
	}

	return &KeyStore{
		ActiveKid: activeKid,
		KeySet:    keySet,
		PublicSet: publicSet,
	}, nil
}

// GetActiveKey returns the private key used for signing
func (ks *KeyStore) GetActiveKey() (jwk.Key, error) {
	key, ok := ks.KeySet.LookupKeyID(KeyID(ks.ActiveKid))
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// JWKS returns the public key set
func (ks *KeyStore) JWKS() jwk.Set {
	if ks.PublicSet == nil {
		return jwk.NewSet()
	}
	return ks.PublicSet
}

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block")
	}

	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA key")
	}
	return priv, nil
}

func readPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA key")
	}
	return pub, nil
}

// WriteKeyPair generates an RSA key pair and writes it to dir as
// private-<kid>.pem (0600) and public-<kid>.pem (0644). Existing files are
// never overwritten.
func WriteKeyPair(dir, kid string, bits int) error {
	if kid == "" || strings.ContainsAny(kid, `/\`) {
		return fmt.Errorf("invalid key id %q", kid)
	}
	if bits != 2048 && bits != 3072 && bits != 4096 {
		return fmt.Errorf("key size must be 2048, 3072, or 4096")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("failed to generate RSA key: %w", err)
	}
	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return err
	}

	privPath := filepath.Join(dir, fmt.Sprintf("private-%s.pem", kid))
	if err := writePEM(privPath, 0o600, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}); err != nil {
		return err
	}
	pubPath := filepath.Join(dir, fmt.Sprintf("public-%s.pem", kid))
	if err := writePEM(pubPath, 0o644, &pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes}); err != nil {
		_ = os.Remove(privPath)
		return err
	}
	return nil
}

func writePEM(path string, perm os.FileMode, block *pem.Block) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, block); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

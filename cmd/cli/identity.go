package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cc "github.com/and161185/inbox-relay/internal/crypto/clientcrypto"
)

// identityFile is the on-disk identity: the Ed25519 seed wrapped under a
// passphrase-derived key, bound to the public key.
type identityFile struct {
	Pubkey      string `json:"pubkey"`
	Salt        string `json:"salt"`
	WrappedSeed string `json:"wrapped_seed"`
}

var errNoIdentity = errors.New("no identity (run keygen first)")

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "inboxctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "inboxctl")
}

func identityPath() string { return filepath.Join(cfgDir(), "identity.json") }

// createIdentity generates a new key pair and stores it wrapped under pass.
// An existing identity is kept unless force is set.
func createIdentity(pass []byte, force bool) (string, error) {
	if len(pass) == 0 {
		return "", errors.New("empty passphrase")
	}
	if _, err := os.Stat(identityPath()); err == nil && !force {
		return "", fmt.Errorf("identity exists at %s (use -force to replace)", identityPath())
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", err
	}
	salt, err := cc.Rand(cc.SaltLen)
	if err != nil {
		return "", err
	}
	wrapped, err := cc.Wrap(cc.DeriveKEK(pass, salt), priv.Seed(), pub)
	if err != nil {
		return "", err
	}
	f := identityFile{
		Pubkey:      base64.StdEncoding.EncodeToString(pub),
		Salt:        base64.StdEncoding.EncodeToString(salt),
		WrappedSeed: base64.StdEncoding.EncodeToString(wrapped),
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(identityPath(), b, 0o600); err != nil {
		return "", err
	}
	return f.Pubkey, nil
}

func readIdentity() (identityFile, error) {
	var f identityFile
	b, err := os.ReadFile(identityPath())
	if errors.Is(err, os.ErrNotExist) {
		return f, errNoIdentity
	}
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("identity file: %w", err)
	}
	return f, nil
}

// loadIdentity unwraps the private key with pass.
func loadIdentity(pass []byte) (ed25519.PrivateKey, error) {
	f, err := readIdentity()
	if err != nil {
		return nil, err
	}
	pub, err1 := base64.StdEncoding.DecodeString(f.Pubkey)
	salt, err2 := base64.StdEncoding.DecodeString(f.Salt)
	wrapped, err3 := base64.StdEncoding.DecodeString(f.WrappedSeed)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("identity file: %w", err)
	}
	seed, err := cc.Unwrap(cc.DeriveKEK(pass, salt), wrapped, pub)
	if err != nil {
		return nil, errors.New("wrong passphrase or corrupted identity")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("corrupted identity")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

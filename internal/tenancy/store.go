package tenancy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/edgegate/gateway-core/internal/signing"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

// fileMaskOwnerOnly is the file mask a credential file should carry;
// anything broader gets a startup warning (spec §6).
const fileMaskOwnerOnly = 0600

// bundleKey identifies one credential bundle slot, spec §3's
// (tenant, environment) pair.
type bundleKey struct {
	tenant string
	env    string
}

// CredentialStore resolves a (tenant, environment) pair to a signing
// bundle and supports atomic rotation, per spec §4.2. The default
// implementation (IniStore) loads a flat INI file; SecureStore wraps any
// store with at-rest encryption using an administrator-supplied master
// key.
type CredentialStore interface {
	Get(tenant, env string) (*signing.Bundle, error)
	Rotate(tenant, env string, bundle *signing.Bundle) error
}

// IniStore loads credential bundles from an INI-shaped file at startup,
// one section per "tenant.environment", e.g.:
//
//	[acme.production]
//	client_token = ct-...
//	access_token = at-...
//	client_secret = base64 or raw opaque bytes
//	host = acme.akamaiapis.net
//	max-body = 131072
//	account-switch-key = 1-ABCDE
//
// Grounded on the teacher's config loader style (internal/mcpserver/
// config/loader.go reads flat key=value settings); INI parsing itself
// uses gopkg.in/ini.v1 since the teacher's own config format is JSON/
// env-var only and has no precedent for a structured credential file.
type IniStore struct {
	mu      sync.RWMutex
	bundles map[bundleKey]*signing.Bundle
}

// NewIniStore loads bundles from path. An empty path yields an empty
// store (useful for tests and for deployments that supply bundles only
// via RotateCredentials at runtime).
func NewIniStore(path string) (*IniStore, error) {
	s := &IniStore{bundles: make(map[bundleKey]*signing.Bundle)}
	if path == "" {
		return s, nil
	}
	if info, err := os.Stat(path); err == nil {
		if info.Mode().Perm()&^fileMaskOwnerOnly != 0 {
			log.Warn().Str("path", path).Str("mode", info.Mode().Perm().String()).
				Msg("credential file permissions are broader than owner-read/write; restrict with chmod 0600")
		}
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "loading credential file: "+err.Error(), nil)
	}
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		tenant, env, ok := splitSection(sec.Name())
		if !ok {
			log.Warn().Str("section", sec.Name()).Msg("skipping credential section, expected tenant.environment")
			continue
		}
		b := &signing.Bundle{
			ClientToken:      sec.Key("client_token").String(),
			AccessToken:      sec.Key("access_token").String(),
			Secret:           []byte(sec.Key("client_secret").String()),
			Host:             sec.Key("host").String(),
			MaxBodyBytes:     sec.Key("max-body").MustInt(0),
			AccountSwitchKey: sec.Key("account-switch-key").String(),
		}
		if err := b.Validate(); err != nil {
			return nil, gwerrors.New(gwerrors.KindInternal, fmt.Sprintf("credential section %q: %v", sec.Name(), err), nil)
		}
		s.bundles[bundleKey{tenant: tenant, env: env}] = b
	}
	return s, nil
}

func splitSection(name string) (tenant, env string, ok bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}

func (s *IniStore) Get(tenant, env string) (*signing.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[bundleKey{tenant: tenant, env: env}]
	if !ok {
		return nil, gwerrors.New(gwerrors.KindNotFound, fmt.Sprintf("no credential bundle for tenant %q environment %q", tenant, env), nil)
	}
	return b, nil
}

// Rotate atomically replaces the bundle for (tenant, env). Readers never
// observe a partially-updated bundle: the map entry is swapped under the
// write lock, and Bundle itself is treated as immutable once stored.
func (s *IniStore) Rotate(tenant, env string, bundle *signing.Bundle) error {
	if err := bundle.Validate(); err != nil {
		return gwerrors.New(gwerrors.KindValidation, err.Error(), nil)
	}
	s.mu.Lock()
	s.bundles[bundleKey{tenant: tenant, env: env}] = bundle
	s.mu.Unlock()
	return nil
}

// SecureStore wraps a CredentialStore with AES-GCM encryption at rest,
// keyed by an administrator-supplied master key, satisfying spec §4.2's
// "injected secure store" extension point. It decrypts transparently on
// Get and encrypts before delegating to the inner store's Rotate, so a
// caller never handles ciphertext directly.
type SecureStore struct {
	inner     CredentialStore
	masterKey []byte // 16, 24, or 32 bytes: AES-128/192/256
}

// NewSecureStore wraps inner with AES-GCM encryption using masterKey.
func NewSecureStore(inner CredentialStore, masterKey []byte) (*SecureStore, error) {
	if _, err := aes.NewCipher(masterKey); err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "invalid master key: "+err.Error(), nil)
	}
	return &SecureStore{inner: inner, masterKey: masterKey}, nil
}

func (s *SecureStore) Get(tenant, env string) (*signing.Bundle, error) {
	b, err := s.inner.Get(tenant, env)
	if err != nil {
		return nil, err
	}
	decrypted, err := s.decryptSecret(b.Secret)
	if err != nil {
		// Per spec §4.2 failure semantics: decrypt failure is an internal
		// error; the caller is responsible for auditing it, the session
		// itself is not touched here.
		return nil, gwerrors.New(gwerrors.KindInternal, "decrypting credential secret: "+err.Error(), nil)
	}
	out := *b
	out.Secret = decrypted
	return &out, nil
}

func (s *SecureStore) Rotate(tenant, env string, bundle *signing.Bundle) error {
	encrypted, err := s.encryptSecret(bundle.Secret)
	if err != nil {
		return gwerrors.New(gwerrors.KindInternal, "encrypting credential secret: "+err.Error(), nil)
	}
	out := *bundle
	out.Secret = encrypted
	return s.inner.Rotate(tenant, env, &out)
}

func (s *SecureStore) encryptSecret(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *SecureStore) decryptSecret(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}

// Package keyring stores management-interface passwords.
// It uses the system keyring when available, falling back to an
// encrypted file in the config directory when not.
package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/mgmt"
)

// credentialsFile is the fallback store inside the config directory.
const credentialsFile = common.CredentialsFileName

// Common errors returned by keyring operations.
var (
	ErrNotFound = common.ErrCredentialsNotFound
	ErrEmpty    = errors.New("account and password cannot be empty")
)

var _ common.CredentialStore = (*Store)(nil)

// Store is a credential store for one keyring service.
type Store struct {
	service string
	dir     string
	log     common.Logger

	once sync.Once

	mu      sync.RWMutex
	local   bool
	entries map[string]string
	file    string
	key     []byte
}

// New returns the store used by the CLI: service common.KeyringService,
// fallback file under ~/.config/ovpn-mgmt.
func New() *Store {
	dir, err := common.GetConfigDir()
	if err != nil {
		dir = filepath.Join(os.TempDir(), common.AppName)
	}
	return NewStore(common.KeyringService, dir)
}

// NewStore returns a store for service whose fallback file lives in dir.
// Nothing is touched until the first call.
func NewStore(service, dir string) *Store {
	return &Store{
		service: service,
		dir:     dir,
		log:     common.Named("keyring"),
	}
}

// AccountFor names the credential for a management address.
func AccountFor(addr mgmt.Address) string {
	return string(addr.Type()) + ":" + addr.String()
}

func (s *Store) init() {
	s.once.Do(func() {
		probe := s.service + "-probe"
		err := keyring.Set(s.service, probe, "probe")
		if err == nil {
			_ = keyring.Delete(s.service, probe)
			return
		}
		s.log.Debug("System keyring unavailable, using encrypted file: %v", err)
		s.useLocal()
	})
}

// useLocal switches to the encrypted file. Callers hold no lock.
func (s *Store) useLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local {
		return
	}
	s.local = true
	s.file = filepath.Join(s.dir, credentialsFile)
	s.key = deriveKey(s.service)
	s.entries = make(map[string]string)

	data, err := os.ReadFile(s.file)
	if err != nil {
		return
	}
	plain, err := decrypt(s.key, data)
	if err != nil {
		s.log.Warn("Ignoring unreadable credentials file %s: %v: %v", s.file, common.ErrDecryption, err)
		return
	}
	if err := json.Unmarshal(plain, &s.entries); err != nil {
		s.log.Warn("Ignoring corrupt credentials file %s: %v", s.file, err)
		s.entries = make(map[string]string)
	}
}

func (s *Store) isLocal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// saveLocked writes the file. s.mu must be held.
func (s *Store) saveLocked() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}
	sealed, err := encrypt(s.key, data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(s.file, sealed, 0600)
}

// Set saves the password for account.
func (s *Store) Set(account, password string) error {
	if account == "" || password == "" {
		return ErrEmpty
	}
	s.init()

	if !s.isLocal() {
		err := keyring.Set(s.service, account, password)
		if err == nil {
			return nil
		}
		s.log.Warn("Keyring write failed, falling back to encrypted file: %v", err)
		s.useLocal()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[account] = password
	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

// Get retrieves the password for account.
func (s *Store) Get(account string) (string, error) {
	if account == "" {
		return "", ErrEmpty
	}
	s.init()

	if !s.isLocal() {
		password, err := keyring.Get(s.service, account)
		if err == nil {
			return password, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keyring: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	password, ok := s.entries[account]
	if !ok {
		return "", ErrNotFound
	}
	return password, nil
}

// Delete removes the password for account. A missing entry is not an
// error.
func (s *Store) Delete(account string) error {
	if account == "" {
		return ErrEmpty
	}
	s.init()

	if !s.isLocal() {
		err := keyring.Delete(s.service, account)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[account]; !ok {
		return nil
	}
	delete(s.entries, account)
	return s.saveLocked()
}

// Exists checks if a credential exists for account.
func (s *Store) Exists(account string) bool {
	_, err := s.Get(account)
	return err == nil
}

// deriveKey binds the file key to this machine and user.
func deriveKey(service string) []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%s-%d", service, hostname, machineID(), os.Getuid())
	salt := sha256.Sum256([]byte(service))

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), salt[:], []byte("management credentials"))
	if _, err := io.ReadFull(r, key); err != nil {
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	return key
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(sealed)), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

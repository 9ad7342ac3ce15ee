package gateway

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// SessionStore persists session material on disk, sealed with a passphrase.
// One blob per account; blobs survive process restarts so accounts can skip
// full re-authentication.
type SessionStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// sealedBlob is the on-disk structure of a session file
type sealedBlob struct {
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
}

// NewSessionStore creates a session store rooted at dir. An empty passphrase
// falls back to a host-derived default so local setups work out of the box.
func NewSessionStore(dir, passphrase string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	if passphrase == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		passphrase = "igcollector-" + hostname
	}

	return &SessionStore{
		dir:        dir,
		passphrase: passphrase,
	}, nil
}

// Path returns the blob path for an account
func (s *SessionStore) Path(username string) string {
	return filepath.Join(s.dir, username+"_session.enc")
}

// Save seals and writes the session blob for an account atomically
func (s *SessionStore) Save(username string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	encrypted, err := s.seal(blob, salt)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	data, err := json.Marshal(&sealedBlob{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(encrypted),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session blob: %w", err)
	}

	path := s.Path(username)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session blob: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename session blob: %w", err)
	}

	return nil
}

// Load reads and unseals the session blob for an account.
// Returns os.ErrNotExist if no blob has been saved.
func (s *SessionStore) Load(username string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(username))
	if err != nil {
		return nil, err
	}

	var sealed sealedBlob
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("failed to parse session blob: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(sealed.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	encrypted, err := base64.StdEncoding.DecodeString(sealed.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}

	blob, err := s.open(encrypted, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal session: %w", err)
	}

	return blob, nil
}

// Delete removes the persisted blob for an account. Missing blobs are not
// an error.
func (s *SessionStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.Path(username))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session blob: %w", err)
	}
	return nil
}

// Exists reports whether a persisted blob exists for an account
func (s *SessionStore) Exists(username string) bool {
	_, err := os.Stat(s.Path(username))
	return err == nil
}

func (s *SessionStore) seal(plaintext, salt []byte) ([]byte, error) {
	gcm, err := s.cipher(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *SessionStore) open(ciphertext, salt []byte) ([]byte, error) {
	gcm, err := s.cipher(salt)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("session blob too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

func (s *SessionStore) cipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(s.passphrase), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return cipher.NewGCM(block)
}

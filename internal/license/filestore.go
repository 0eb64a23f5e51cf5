package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"entitle/internal/security"
)

const fileStoreVersion = 1

var fileStoreAAD = []byte("entitle-state-v1")

// ErrStoreLocked is returned when an encrypted state file is opened without a secret
var ErrStoreLocked = errors.New("state file is encrypted and no store secret is configured")

// FileStoreOptions configures OpenFileStore
type FileStoreOptions struct {
	// Secret enables AES-256-GCM encryption of the state file when non-empty
	Secret     string
	Encryption *security.EncryptionConfig
	Logger     *slog.Logger
}

// FileStore persists fields as a single JSON document. Every write replaces
// the file atomically via rename.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	fields map[Field]string
	sealer *security.Sealer
	logger *slog.Logger
}

type fileEnvelope struct {
	Version    int              `json:"version"`
	Fields     map[Field]string `json:"fields,omitempty"`
	Salt       []byte           `json:"salt,omitempty"`
	Nonce      []byte           `json:"nonce,omitempty"`
	Ciphertext []byte           `json:"ciphertext,omitempty"`
}

// OpenFileStore loads path, creating nothing until the first write. A
// plaintext file opened with a secret is re-encrypted on the next write.
func OpenFileStore(path string, opts FileStoreOptions) (*FileStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &FileStore{
		path:   path,
		fields: make(map[Field]string),
		logger: logger.With(slog.String("component", "license_store")),
	}

	env, err := readEnvelope(path)
	if err != nil {
		return nil, err
	}

	encrypted := env != nil && len(env.Ciphertext) > 0
	if encrypted && opts.Secret == "" {
		return nil, ErrStoreLocked
	}

	if opts.Secret != "" {
		var salt []byte
		if encrypted {
			salt = env.Salt
		} else if salt, err = security.NewSalt(opts.Encryption); err != nil {
			return nil, err
		}
		s.sealer, err = security.NewSealer([]byte(opts.Secret), salt, opts.Encryption)
		if err != nil {
			return nil, fmt.Errorf("initialize state file encryption: %w", err)
		}
	}

	switch {
	case env == nil:
	case encrypted:
		plaintext, err := s.sealer.Open(env.Nonce, env.Ciphertext, fileStoreAAD)
		if err != nil {
			return nil, fmt.Errorf("decrypt state file %s: %w", path, err)
		}
		if err := json.Unmarshal(plaintext, &s.fields); err != nil {
			return nil, fmt.Errorf("decode state file %s: %w", path, err)
		}
	default:
		if env.Fields != nil {
			s.fields = env.Fields
		}
	}

	s.logger.Debug("state file loaded",
		slog.String("path", path),
		slog.Bool("exists", env != nil),
		slog.Bool("encrypted", s.sealer != nil),
		slog.Int("fields", len(s.fields)),
	)
	return s, nil
}

func readEnvelope(path string) (*fileEnvelope, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if env.Version != fileStoreVersion {
		return nil, fmt.Errorf("unsupported state file version %d", env.Version)
	}
	return &env, nil
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(field Field) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fields[field]
	return v, ok
}

func (s *FileStore) Set(field Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.fields[field]; ok && current == value {
		return nil
	}
	next := maps.Clone(s.fields)
	next[field] = value
	return s.replaceLocked(next)
}

func (s *FileStore) Delete(field Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fields[field]; !ok {
		return nil
	}
	next := maps.Clone(s.fields)
	delete(next, field)
	return s.replaceLocked(next)
}

// replaceLocked persists next and only then swaps it in memory
func (s *FileStore) replaceLocked(next map[Field]string) error {
	env := fileEnvelope{Version: fileStoreVersion}
	if s.sealer != nil {
		plaintext, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		nonce, ciphertext, err := s.sealer.Seal(plaintext, fileStoreAAD)
		if err != nil {
			return err
		}
		env.Salt = s.sealer.Salt()
		env.Nonce = nonce
		env.Ciphertext = ciphertext
	} else {
		env.Fields = next
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		s.logger.Error("failed to write state file",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.fields = next
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entitle-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

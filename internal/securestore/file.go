package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"fieldid/internal/security"
)

const fileVersion = 1

// maxFileSize bounds the credential file read from disk.
const maxFileSize = 1 << 20

var (
	// ErrCorrupted is returned when the file cannot be decrypted or decoded.
	ErrCorrupted = errors.New("securestore: file is corrupted or the key changed")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("securestore: store is closed")
)

// envelope is the on-disk form. Data is the sealed JSON object of values.
type envelope struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Data    []byte `json:"data"`
}

// FileStore is an encrypted single-file Store. The AES-256-GCM key is
// derived with HKDF from a master key file and a per-file salt. Each
// mutation rewrites the file atomically while holding an exclusive flock
// on a sidecar lock file, so separate processes do not lose updates.
type FileStore struct {
	path     string
	lockPath string
	master   []byte

	mu     sync.Mutex
	closed bool
}

// OpenFile opens (or prepares) the store at path, creating the master key
// at masterKeyPath on first use. Both paths are cleaned and must not
// contain traversal segments.
func OpenFile(path, masterKeyPath string) (*FileStore, error) {
	validator := security.DefaultPathValidator()
	path, err := validator.ValidatePath(path)
	if err != nil {
		return nil, fmt.Errorf("secure store path: %w", err)
	}
	masterKeyPath, err = validator.ValidatePath(masterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("master key path: %w", err)
	}

	master, err := security.LoadOrCreateKey(masterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	return &FileStore{
		path:     path,
		lockPath: path + ".lock",
		master:   master,
	}, nil
}

// Close wipes the master key from memory. The store is unusable afterwards.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	security.Wipe(f.master)
	return nil
}

func (f *FileStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := f.withLock(ctx, func() error {
		values, _, err := f.read()
		if err != nil {
			return err
		}
		v, ok := values[key]
		if !ok {
			return ErrNotFound
		}
		value = v
		return nil
	})
	return value, err
}

func (f *FileStore) Set(ctx context.Context, key, value string) error {
	return f.withLock(ctx, func() error {
		values, salt, err := f.read()
		if err != nil {
			return err
		}
		values[key] = value
		return f.write(values, salt)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	return f.withLock(ctx, func() error {
		values, salt, err := f.read()
		if err != nil {
			return err
		}
		if _, ok := values[key]; !ok {
			return nil
		}
		delete(values, key)
		return f.write(values, salt)
	})
}

func (f *FileStore) withLock(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	if err := security.EnsureSecureDirFor(f.lockPath); err != nil {
		return err
	}
	lock, err := os.OpenFile(f.lockPath, os.O_CREATE|os.O_RDWR, security.PermSecretFile)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lock.Close()

	if err := security.LockFile(lock); err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	defer security.UnlockFile(lock)

	return fn()
}

// read returns the stored values and the file salt. A missing file yields
// an empty map and a nil salt.
func (f *FileStore) read() (map[string]string, []byte, error) {
	raw, err := security.ReadSecureFile(f.path, maxFileSize)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read store: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != fileVersion {
		return nil, nil, ErrCorrupted
	}

	key, err := f.fileKey(env.Salt)
	if err != nil {
		return nil, nil, err
	}
	defer security.Wipe(key)

	plaintext, err := security.Open(key, env.Data, versionAD())
	if err != nil {
		return nil, nil, ErrCorrupted
	}
	defer security.Wipe(plaintext)

	values := make(map[string]string)
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, nil, ErrCorrupted
	}
	return values, env.Salt, nil
}

func (f *FileStore) write(values map[string]string, salt []byte) error {
	if salt == nil {
		salt = make([]byte, 16)
		if err := security.GenerateSecureRandom(salt); err != nil {
			return err
		}
	}

	key, err := f.fileKey(salt)
	if err != nil {
		return err
	}
	defer security.Wipe(key)

	plaintext, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}
	defer security.Wipe(plaintext)

	sealed, err := security.Seal(key, plaintext, versionAD())
	if err != nil {
		return fmt.Errorf("seal store: %w", err)
	}

	raw, err := json.Marshal(envelope{Version: fileVersion, Salt: salt, Data: sealed})
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	return security.WriteSecretFile(f.path, raw)
}

func (f *FileStore) fileKey(salt []byte) ([]byte, error) {
	return security.DeriveKeyWithLabel(f.master, salt, "secure-store", security.RecommendedKeySize)
}

func versionAD() []byte {
	return []byte(fmt.Sprintf("fieldid-securestore-v%d", fileVersion))
}

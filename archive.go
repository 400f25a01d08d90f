package switchpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/snappy"
)

// ArchiveBackend defines the interface for long-term analysis storage.
// This allows archiving results to the local filesystem, S3, or memory.
type ArchiveBackend interface {
	// Read reads a blob from storage.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write writes a blob to storage.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes a blob from storage.
	Delete(ctx context.Context, key string) error

	// List returns all keys matching a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if a blob exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// Ensure interfaces are implemented
var (
	_ ArchiveBackend = (*MemoryArchive)(nil)
	_ ArchiveBackend = (*FileArchive)(nil)
	_ ArchiveBackend = (*S3Archive)(nil)
)

const (
	archiveMagic         = "SPA1"
	archiveFlagEncrypted = 1 << 0
	analysisPrefix       = "analyses/"
)

// ArchiveConfig configures the analysis archive.
type ArchiveConfig struct {
	// Dir is the base directory for the file backend
	Dir string `yaml:"dir"`
	// S3 selects an S3 backend instead of the local filesystem
	S3 *S3ArchiveConfig `yaml:"s3"`
	// Encryption configures encryption at rest for archived blobs
	Encryption EncryptionConfig `yaml:"encryption"`
}

// DefaultArchiveConfig returns an archive config with sensible defaults.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{Dir: "archive"}
}

// OpenArchive creates an archive over the backend the config selects:
// S3 when configured, the local filesystem otherwise.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	var (
		backend ArchiveBackend
		err     error
	)
	if cfg.S3 != nil {
		backend, err = NewS3Archive(*cfg.S3)
	} else {
		dir := cfg.Dir
		if dir == "" {
			dir = "archive"
		}
		backend, err = NewFileArchive(dir)
	}
	if err != nil {
		return nil, err
	}
	return NewArchive(backend, cfg.Encryption)
}

// Archive persists completed analyses through a pluggable backend.
// Blobs are JSON encoded, snappy compressed, and optionally encrypted.
type Archive struct {
	backend ArchiveBackend
	encCfg  EncryptionConfig
	enc     *Encryptor
}

// NewArchive creates an archive over the given backend.
func NewArchive(backend ArchiveBackend, encCfg EncryptionConfig) (*Archive, error) {
	if backend == nil {
		return nil, errors.New("archive backend is required")
	}
	enc, err := NewEncryptor(encCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive encryption: %w", err)
	}
	return &Archive{backend: backend, encCfg: encCfg, enc: enc}, nil
}

// SaveAnalysis archives a completed analysis under its ID.
func (a *Archive) SaveAnalysis(ctx context.Context, analysis *Analysis) error {
	if analysis == nil || analysis.ID == "" {
		return newInputError("archive.save", "analysis with a non-empty ID is required")
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	blob, err := a.encode(raw)
	if err != nil {
		return err
	}
	return a.backend.Write(ctx, analysisKey(analysis.ID), blob)
}

// LoadAnalysis retrieves an archived analysis by ID. Returns ErrNotFound
// if no analysis exists under that ID.
func (a *Archive) LoadAnalysis(ctx context.Context, id string) (*Analysis, error) {
	blob, err := a.backend.Read(ctx, analysisKey(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	raw, err := a.decode(blob)
	if err != nil {
		return nil, err
	}
	var analysis Analysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return &analysis, nil
}

// DeleteAnalysis removes an archived analysis.
func (a *Archive) DeleteAnalysis(ctx context.Context, id string) error {
	return a.backend.Delete(ctx, analysisKey(id))
}

// ListAnalyses returns the IDs of all archived analyses.
func (a *Archive) ListAnalyses(ctx context.Context) ([]string, error) {
	keys, err := a.backend.List(ctx, analysisPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(filepath.ToSlash(k), analysisPrefix))
	}
	return ids, nil
}

// Close releases the underlying backend.
func (a *Archive) Close() error {
	return a.backend.Close()
}

func analysisKey(id string) string {
	return analysisPrefix + id
}

// encode wraps raw JSON in the archive envelope:
// magic, flags byte, optional key-derivation salt, snappy payload.
// The payload is encrypted after compression when encryption is enabled.
func (a *Archive) encode(raw []byte) ([]byte, error) {
	payload := snappy.Encode(nil, raw)

	var buf bytes.Buffer
	buf.WriteString(archiveMagic)
	if a.enc == nil {
		buf.WriteByte(0)
		buf.Write(payload)
		return buf.Bytes(), nil
	}

	sealed, err := a.enc.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt archive blob: %w", err)
	}
	buf.WriteByte(archiveFlagEncrypted)
	buf.Write(a.enc.Salt())
	buf.Write(sealed)
	return buf.Bytes(), nil
}

func (a *Archive) decode(blob []byte) ([]byte, error) {
	if len(blob) < len(archiveMagic)+1 || string(blob[:len(archiveMagic)]) != archiveMagic {
		return nil, errors.New("invalid archive blob: bad magic")
	}
	flags := blob[len(archiveMagic)]
	rest := blob[len(archiveMagic)+1:]

	if flags&archiveFlagEncrypted != 0 {
		if a.enc == nil {
			return nil, errors.New("archive blob is encrypted but encryption is not configured")
		}
		if len(rest) < EncryptionSaltSize {
			return nil, errors.New("invalid archive blob: truncated salt")
		}
		salt := rest[:EncryptionSaltSize]
		sealed := rest[EncryptionSaltSize:]

		dec := a.enc
		if !bytes.Equal(salt, a.enc.Salt()) && len(a.encCfg.Key) == 0 && a.encCfg.KeyPassword != "" {
			// Blob written by another process under a different salt.
			var err error
			dec, err = NewEncryptorWithSalt(a.encCfg.KeyPassword, salt)
			if err != nil {
				return nil, err
			}
		}
		payload, err := dec.Decrypt(sealed)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt archive blob: %w", err)
		}
		rest = payload
	}

	raw, err := snappy.Decode(nil, rest)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress archive blob: %w", err)
	}
	return raw, nil
}

// MemoryArchive implements ArchiveBackend using in-memory storage.
// Useful for testing.
type MemoryArchive struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryArchive creates a new in-memory archive backend.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		data: make(map[string][]byte),
	}
}

func (m *MemoryArchive) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *MemoryArchive) Write(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryArchive) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryArchive) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if len(prefix) == 0 || len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryArchive) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryArchive) Close() error {
	return nil
}

// Size returns the number of blobs in memory.
func (m *MemoryArchive) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// FileArchive implements ArchiveBackend using the local filesystem.
type FileArchive struct {
	baseDir string
}

// NewFileArchive creates a new file-based archive backend.
func NewFileArchive(baseDir string) (*FileArchive, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Store the cleaned absolute path for consistent path traversal checks
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	return &FileArchive{baseDir: filepath.Clean(absDir)}, nil
}

// safePath validates and returns a safe path within the base directory.
// It prevents path traversal attacks by ensuring the resolved path stays
// within baseDir.
func (f *FileArchive) safePath(key string) (string, error) {
	cleanKey := filepath.Clean(key)
	resolved := filepath.Clean(filepath.Join(f.baseDir, cleanKey))

	// Must either equal baseDir or be a child path (has baseDir/ as prefix)
	if resolved != f.baseDir && !strings.HasPrefix(resolved, f.baseDir+string(os.PathSeparator)) {
		return "", errors.New("invalid key: path traversal attempt detected")
	}
	return resolved, nil
}

func (f *FileArchive) Read(ctx context.Context, key string) ([]byte, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (f *FileArchive) Write(ctx context.Context, key string, data []byte) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (f *FileArchive) Delete(ctx context.Context, key string) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

func (f *FileArchive) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := f.safePath(prefix)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(searchPath); os.IsNotExist(err) {
		return nil, nil
	}

	var keys []string
	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(f.baseDir, path)
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})
	return keys, err
}

func (f *FileArchive) Exists(ctx context.Context, key string) (bool, error) {
	path, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (f *FileArchive) Close() error {
	return nil
}

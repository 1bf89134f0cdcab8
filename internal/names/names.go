// Package names manages local name-to-public-key mappings.
//
// The names file (names.json) in the data directory maps short names to
// base64-encoded peer public keys, so that "@alice" can stand in for a
// recipient or contact key on the command line.
package names

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Filename is the names file name within the data directory.
const Filename = "names.json"

// KeySize is the decoded length of a peer public key.
const KeySize = 32

var (
	ErrNotFound    = errors.New("name not found")
	ErrInvalidName = errors.New("invalid name")
	ErrInvalidKey  = errors.New("invalid public key")
)

// Entry is one name mapping.
type Entry struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Book holds name-to-key mappings backed by a JSON file.
type Book struct {
	path    string
	mu      sync.RWMutex
	entries map[string]string
}

// New creates a book stored in dataDir. Call Load before use.
func New(dataDir string) *Book {
	return &Book{
		path:    filepath.Join(dataDir, Filename),
		entries: make(map[string]string),
	}
}

// Path returns the backing file.
func (b *Book) Path() string { return b.path }

// Load reads the names file. A missing file yields an empty book.
func (b *Book) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		b.entries = make(map[string]string)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read names: %w", err)
	}
	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse names %s: %w", b.path, err)
	}
	b.entries = entries
	return nil
}

func (b *Book) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := json.MarshalIndent(b.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal names: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write names: %w", err)
	}
	return os.Rename(tmp, b.path)
}

// Add maps name to key, replacing any previous mapping. The leading @ is
// optional.
func (b *Book) Add(name, key string) error {
	name = normalize(name)
	if name == "" || strings.ContainsAny(name, " \t@") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[name] = key
	return b.save()
}

// Remove deletes the mapping for name.
func (b *Book) Remove(name string) error {
	name = normalize(name)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(b.entries, name)
	return b.save()
}

// Lookup returns the key mapped to name.
func (b *Book) Lookup(name string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key, ok := b.entries[normalize(name)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return key, nil
}

// NameOf returns the name mapped to key, if any.
func (b *Book) NameOf(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, k := range b.entries {
		if k == key {
			return name, true
		}
	}
	return "", false
}

// List returns all entries sorted by name.
func (b *Book) List() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]Entry, 0, len(b.entries))
	for name, key := range b.entries {
		entries = append(entries, Entry{Name: name, Key: key})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Resolve turns "@name" into the mapped key. Anything without the @ prefix
// is returned unchanged.
func (b *Book) Resolve(s string) (string, error) {
	if !strings.HasPrefix(s, "@") {
		return s, nil
	}
	return b.Lookup(s)
}

// ValidKey reports whether s is a base64-encoded 32-byte public key.
func ValidKey(s string) bool {
	_, err := DecodeKey(s)
	return err == nil
}

// DecodeKey decodes a standard or URL-safe base64 public key.
func DecodeKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == KeySize {
			return b, nil
		}
	}
	return nil, ErrInvalidKey
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "@")))
}

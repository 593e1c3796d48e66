package library

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bodgit/romlib"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store and Catalog
type memStore struct {
	mutex      sync.Mutex
	extensions map[string][]string
	headers    []romlib.HeaderDescriptor
	checksums  map[string][]string
	metadata   map[string]romlib.Metadata
	bios       map[string]string
	games      map[string]romlib.GameRecord
	added      []romlib.GameRecord

	pingErr       error
	extensionsErr error
	checksumErr   error

	checksumLookups int
}

func newMemStore() *memStore {
	return &memStore{
		extensions: map[string][]string{
			".nes": {romlib.NES},
			".sfc": {romlib.SNES},
			".bin": {"Genesis", "PlayStation"},
			".md":  {"Genesis"},
			".cue": {"PlayStation", "Sega CD"},
		},
		checksums: make(map[string][]string),
		metadata:  make(map[string]romlib.Metadata),
		bios:      make(map[string]string),
		games:     make(map[string]romlib.GameRecord),
	}
}

func (s *memStore) Ping(context.Context) error {
	return s.pingErr
}

func (s *memStore) Extensions(context.Context) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.extensionsErr != nil {
		return nil, s.extensionsErr
	}
	var exts []string
	for ext := range s.extensions {
		exts = append(exts, ext)
	}
	return exts, nil
}

func (s *memStore) SystemsForExtension(_ context.Context, ext string) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.extensions[ext], nil
}

func (s *memStore) HeadersForSystems(_ context.Context, systems []string) ([]romlib.HeaderDescriptor, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var headers []romlib.HeaderDescriptor
	for _, system := range systems {
		for _, h := range s.headers {
			if h.System == system {
				headers = append(headers, h)
			}
		}
	}
	return headers, nil
}

func (s *memStore) SystemsForChecksum(_ context.Context, checksum string) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checksumLookups++
	if s.checksumErr != nil {
		return nil, s.checksumErr
	}
	return s.checksums[checksum], nil
}

func (s *memStore) BiosForChecksum(_ context.Context, checksum string) (string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	name, ok := s.bios[checksum]
	return name, ok, nil
}

func (s *memStore) HasGame(_ context.Context, checksum string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.games[checksum]
	return ok, nil
}

func (s *memStore) Metadata(_ context.Context, system, checksum string) (romlib.Metadata, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	m, ok := s.metadata[system+"/"+checksum]
	return m, ok, nil
}

func (s *memStore) AddGame(_ context.Context, r romlib.GameRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.games[r.Checksum]; ok {
		return nil
	}
	s.games[r.Checksum] = r
	s.added = append(s.added, r)
	return nil
}

func (s *memStore) lookups() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.checksumLookups
}

func (s *memStore) catalogued() []romlib.GameRecord {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]romlib.GameRecord(nil), s.added...)
}

func sha1hex(b []byte) string {
	h := sha1.Sum(b)
	return hex.EncodeToString(h[:])
}

func romData(seed int64, size int) []byte {
	b := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func nesHeader() []byte {
	return []byte{'N', 'E', 'S', 0x1a, 2, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
}

func writeFile(t *testing.T, dir, name string, b []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

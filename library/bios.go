package library

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bodgit/romlib"
)

var errInvalidBiosName = errors.New("invalid bios name")

// BiosRegistry recognises BIOS files by checksum and keeps a copy of each
// one in a cache directory where emulator cores can find it
type BiosRegistry struct {
	mutex  sync.Mutex
	store  Store
	writer *romlib.DirectoryWriter
}

// NewBiosRegistry creates the cache directory dir if necessary and returns
// a BiosRegistry using store to recognise BIOS files
func NewBiosRegistry(dir string, store Store) (*BiosRegistry, error) {
	w, err := romlib.NewDirectoryWriter(dir)
	if err != nil {
		return nil, err
	}

	return &BiosRegistry{
		store:  store,
		writer: w,
	}, nil
}

// Dir returns the cache directory
func (b *BiosRegistry) Dir() string {
	return b.writer.Name()
}

// Check returns the name a BIOS with checksum is cached as
func (b *BiosRegistry) Check(ctx context.Context, checksum string) (string, bool, error) {
	name, ok, err := b.store.BiosForChecksum(ctx, checksum)
	if err != nil {
		return "", false, storeError("bios for checksum", err)
	}
	return name, ok, nil
}

// Cache copies file within r into the cache directory as name. It returns
// false without copying anything if name is already cached
func (b *BiosRegistry) Cache(r romlib.Reader, file, name string) (bool, error) {
	if name == "" || name != filepath.Base(name) || name[0] == '.' {
		return false, errInvalidBiosName
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, err := os.Stat(filepath.Join(b.Dir(), name)); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	rc, err := r.Open(file)
	if err != nil {
		return false, &romlib.IOError{Path: romlib.Path(r, file), Err: err}
	}
	defer rc.Close()

	w, err := b.writer.Create(name)
	if err != nil {
		return false, err
	}

	if _, err := io.Copy(w, rc); err != nil {
		if a, ok := w.(romlib.Aborter); ok {
			_ = a.Abort()
		}
		return false, &romlib.IOError{Path: romlib.Path(r, file), Err: err}
	}

	if err := w.Close(); err != nil {
		return false, err
	}

	return true, nil
}

// Cached returns the names of every cached BIOS file
func (b *BiosRegistry) Cached() ([]string, error) {
	entries, err := os.ReadDir(b.Dir())
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

// Export writes every cached BIOS file to a TorrentZip archive at path and
// returns how many were written
func (b *BiosRegistry) Export(path string) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	names, err := b.Cached()
	if err != nil {
		return 0, err
	}

	w, err := romlib.NewTorrentZipWriter(path)
	if err != nil {
		return 0, err
	}

	for _, name := range names {
		if err := exportFile(w, filepath.Join(b.Dir(), name)); err != nil {
			w.Close()
			return 0, err
		}
	}

	if err := w.Close(); err != nil {
		return 0, err
	}

	return len(names), nil
}

func exportFile(w romlib.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fw, err := w.Create(filepath.Base(path))
	if err != nil {
		return err
	}

	if _, err := io.Copy(fw, f); err != nil {
		return err
	}

	return fw.Close()
}

package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bodgit/romlib"
	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

// ErrScanLocked is returned when another process is already scanning with
// the same state file
var ErrScanLocked = errors.New("another scan is running")

// ResumeState is what is persisted about an interrupted scan so it can be
// resumed later
type ResumeState struct {
	Directory string `toml:"directory"`
	// Paths lists everything a scan of dropped files and directories was
	// given, Directory being the first of them
	Paths []string `toml:"paths,omitempty"`
	// InsertID identifies the interrupted scan
	InsertID string `toml:"insert_id"`
	// QuitScan is set when the scan was interrupted by the application
	// exiting rather than by a pause
	QuitScan bool `toml:"quit_scan"`
}

func newResumeState(paths []string) ResumeState {
	s := ResumeState{
		Directory: paths[0],
		InsertID:  newInsertID(),
	}
	if len(paths) > 1 {
		s.Paths = append([]string(nil), paths...)
	}
	return s
}

// paths returns what the interrupted scan was scanning
func (s ResumeState) paths() []string {
	if len(s.Paths) > 0 {
		return s.Paths
	}
	if s.Directory == "" {
		return nil
	}
	return []string{s.Directory}
}

// LoadResumeState reads the state saved at path. A missing file is an empty
// state
func LoadResumeState(path string) (ResumeState, error) {
	var s ResumeState

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}

	if err := toml.Unmarshal(b, &s); err != nil {
		return ResumeState{}, fmt.Errorf("parse resume state %s: %w", path, err)
	}

	return s, nil
}

// Save atomically writes s to path
func (s ResumeState) Save(path string) error {
	b, err := toml.Marshal(s)
	if err != nil {
		return err
	}

	w, err := romlib.NewDirectoryWriter(filepath.Dir(path))
	if err != nil {
		return err
	}

	f, err := w.Create(filepath.Base(path))
	if err != nil {
		return err
	}

	if _, err := f.Write(b); err != nil {
		if a, ok := f.(romlib.Aborter); ok {
			_ = a.Abort()
		}
		return err
	}

	return f.Close()
}

// ClearResumeState removes the state saved at path
func ClearResumeState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func lockScan(stateFile string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(stateFile), os.ModePerm); err != nil {
		return nil, err
	}

	lock := flock.New(stateFile + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrScanLocked
	}

	return lock, nil
}

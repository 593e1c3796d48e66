// Package launcher works out which emulator core runs a game and checks
// everything needed to launch it is present.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"
)

var (
	// ErrNoCore is returned when a system has no default core
	ErrNoCore = errors.New("no default core")
	// ErrMissing is returned by VerifyGame for a core or game that does
	// not exist
	ErrMissing = errors.New("does not exist")
)

// CoreStore looks up the default core of a system
type CoreStore interface {
	DefaultCore(ctx context.Context, system string) (string, error)
}

// Launcher resolves cores from a directory of libretro cores
type Launcher struct {
	store  CoreStore
	dir    string
	logger zerolog.Logger
}

// New returns a Launcher finding cores under dir
func New(store CoreStore, dir string, options ...func(*Launcher) error) (*Launcher, error) {
	l := &Launcher{
		store:  store,
		dir:    dir,
		logger: zerolog.Nop(),
	}

	for _, option := range options {
		if err := option(l); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// Logger configures the logger used
func Logger(logger zerolog.Logger) func(*Launcher) error {
	return func(l *Launcher) error {
		l.logger = logger
		return nil
	}
}

func libraryExtension(goos string) string {
	switch goos {
	case "windows":
		return ".dll"
	case "darwin", "ios":
		return ".dylib"
	}
	return ".so"
}

// CorePath returns the path of the shared library for core under dir,
// using the native library extension
func CorePath(dir, core string) string {
	return filepath.Join(dir, core+libraryExtension(runtime.GOOS))
}

// DefaultCore returns the path of the default core for system
func (l *Launcher) DefaultCore(ctx context.Context, system string) (string, error) {
	core, err := l.store.DefaultCore(ctx, system)
	if err != nil {
		return "", err
	}
	if core == "" {
		return "", fmt.Errorf("%w: %s", ErrNoCore, system)
	}
	return CorePath(l.dir, core), nil
}

// VerifyGame checks both the core and the game exist. Every missing file
// is logged and wrapped in the returned error
func (l *Launcher) VerifyGame(core, game string) error {
	var errs []error
	for _, path := range []string{core, game} {
		if _, err := os.Stat(path); err != nil {
			l.logger.Warn().Str("path", path).Msg("does not exist, launch will fail")
			errs = append(errs, fmt.Errorf("%s %w", path, ErrMissing))
		}
	}
	return errors.Join(errs...)
}

package library

import (
	"context"

	"github.com/bodgit/romlib"
)

// Store is the read side of the reference database used to identify games
type Store interface {
	Ping(ctx context.Context) error
	// Extensions returns every extension registered by a system
	Extensions(ctx context.Context) ([]string, error)
	// SystemsForExtension returns the systems using ext, most likely first
	SystemsForExtension(ctx context.Context, ext string) ([]string, error)
	// HeadersForSystems returns the header signatures of systems ordered
	// by the position of their system in systems
	HeadersForSystems(ctx context.Context, systems []string) ([]romlib.HeaderDescriptor, error)
	SystemsForChecksum(ctx context.Context, checksum string) ([]string, error)
	// BiosForChecksum returns the file name of a known BIOS
	BiosForChecksum(ctx context.Context, checksum string) (string, bool, error)
	HasGame(ctx context.Context, checksum string) (bool, error)
	Metadata(ctx context.Context, system, checksum string) (romlib.Metadata, bool, error)
}

// Catalog persists the games found by a scan
type Catalog interface {
	AddGame(ctx context.Context, r romlib.GameRecord) error
}

func storeError(op string, err error) error {
	return &romlib.ReferenceStoreError{Op: op, Err: err}
}

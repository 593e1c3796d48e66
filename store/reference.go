package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bodgit/romlib"
	"github.com/bodgit/romlib/dat"
	"github.com/pelletier/go-toml/v2"
)

// Reference is the seed data describing the supported systems, usually
// loaded from a TOML file:
//
//	[[system]]
//	name = "NES"
//	core = "nestopia_libretro"
//	extensions = [".nes", ".unf"]
//
//	[[system]]
//	name = "Famicom"
//	header_rule = "NES"
//	extensions = [".nes"]
//
//	[[header]]
//	system = "NES"
//	result = "4e45531a"
//	offset = 0
//	length = 4
//
//	[[bios]]
//	system = "PlayStation"
//	name = "scph5501.bin"
//	sha1 = "b05def971d8ec59f346f2d9ac21fb742e3eb6917"
type Reference struct {
	Systems []ReferenceSystem `toml:"system"`
	Headers []ReferenceHeader `toml:"header"`
	Bios    []ReferenceBios   `toml:"bios"`
}

// ReferenceSystem is a system and the extensions its games use. Extensions
// listed earlier are preferred.
//
// Copier headers are only stripped from systems with a built-in rule, which
// are "NES", "FDS", "Lynx", "7800" and "SNES". A system called anything else
// sets HeaderRule to the name of the rule it shares
type ReferenceSystem struct {
	Name       string   `toml:"name"`
	Core       string   `toml:"core"`
	HeaderRule string   `toml:"header_rule"`
	Extensions []string `toml:"extensions"`
}

// ReferenceHeader is a header signature
type ReferenceHeader struct {
	System string `toml:"system"`
	Result string `toml:"result"`
	Offset int64  `toml:"offset"`
	Length int64  `toml:"length"`
}

// ReferenceBios is a known BIOS file
type ReferenceBios struct {
	System string `toml:"system"`
	Name   string `toml:"name"`
	SHA1   string `toml:"sha1"`
}

var errMissingName = errors.New("missing name")

// LoadReference decodes the reference file at path
func LoadReference(path string) (*Reference, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ref := new(Reference)
	if err := toml.Unmarshal(b, ref); err != nil {
		return nil, fmt.Errorf("parse reference %s: %w", path, err)
	}

	return ref, nil
}

// ImportReference adds everything in ref to the store
func (s *Store) ImportReference(ctx context.Context, ref *Reference) error {
	for _, system := range ref.Systems {
		if system.Name == "" {
			return fmt.Errorf("system: %w", errMissingName)
		}
		if err := s.AddSystem(ctx, System{Name: system.Name, DefaultCore: system.Core, HeaderRule: system.HeaderRule}); err != nil {
			return err
		}
		for i, ext := range system.Extensions {
			if err := s.AddExtension(ctx, ext, system.Name, i); err != nil {
				return err
			}
		}
	}

	for _, h := range ref.Headers {
		d := romlib.HeaderDescriptor{
			System: h.System,
			Result: h.Result,
			Offset: h.Offset,
			Length: h.Length,
		}
		if err := s.AddHeader(ctx, d); err != nil {
			return err
		}
	}

	for _, b := range ref.Bios {
		if b.Name == "" {
			return fmt.Errorf("bios %s: %w", b.SHA1, errMissingName)
		}
		if err := s.AddBios(ctx, b.SHA1, b.Name, b.System); err != nil {
			return err
		}
	}

	return nil
}

// ImportDat adds every ROM in f with a SHA1 to the checksum table under
// system and returns how many were added
func (s *Store) ImportDat(ctx context.Context, system string, f *dat.File) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n := 0
	for _, g := range f.Game {
		m := g.Metadata()
		for _, r := range g.ROM {
			checksum := r.Checksum(romlib.SHA1)
			if checksum == "" {
				continue
			}
			if err := addChecksum(ctx, tx, system, checksum, m); err != nil {
				return n, err
			}
			n++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}

	return n, nil
}

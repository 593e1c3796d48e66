package library

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/bodgit/romlib"
	"github.com/rs/zerolog"
)

// Resolution is the outcome of identifying the system of a file
type Resolution struct {
	System     string
	HeaderSize uint64
	// Checksum is the identity checksum with the header excluded
	Checksum string
	// Conflict is set when a header signature picked System but the
	// checksum table lists the file under another candidate
	Conflict bool
}

// SystemResolver decides which system a file belongs to using, in order,
// its extension, any header signature and the checksum table
type SystemResolver struct {
	store  Store
	logger zerolog.Logger
}

// NewSystemResolver returns a SystemResolver querying store
func NewSystemResolver(store Store, logger zerolog.Logger) *SystemResolver {
	return &SystemResolver{
		store:  store,
		logger: logger,
	}
}

// Candidates returns the systems registering the extension of file. A file
// no system registers returns romlib.ErrUnknownExtension
func (s *SystemResolver) Candidates(ctx context.Context, file string) ([]string, error) {
	ext := romlib.Ext(file)
	if ext == "" {
		return nil, romlib.ErrUnknownExtension
	}

	systems, err := s.store.SystemsForExtension(ctx, ext)
	if err != nil {
		return nil, storeError("systems for extension", err)
	}
	if len(systems) == 0 {
		return nil, romlib.ErrUnknownExtension
	}

	return systems, nil
}

// Resolve identifies the system of file within r
func (s *SystemResolver) Resolve(ctx context.Context, r romlib.Reader, file string) (Resolution, error) {
	candidates, err := s.Candidates(ctx, file)
	if err != nil {
		return Resolution{}, err
	}
	return s.resolve(ctx, newChecksummer(r, file), candidates)
}

func (s *SystemResolver) resolve(ctx context.Context, c *checksummer, candidates []string) (Resolution, error) {
	if len(candidates) == 0 {
		return Resolution{}, romlib.ErrUnknownExtension
	}

	// Nothing to choose between
	if len(candidates) == 1 {
		return c.resolution(candidates[0])
	}

	headers, err := s.store.HeadersForSystems(ctx, candidates)
	if err != nil {
		return Resolution{}, storeError("headers for systems", err)
	}

	if d, ok, err := c.matchHeader(headers); err != nil {
		return Resolution{}, err
	} else if ok {
		res, err := c.resolution(d.System)
		if err != nil {
			return Resolution{}, err
		}

		systems, err := s.store.SystemsForChecksum(ctx, res.Checksum)
		if err != nil {
			return Resolution{}, storeError("systems for checksum", err)
		}
		if other := conflicting(d.System, systems, candidates); other != "" {
			s.logger.Warn().Str("path", c.path()).Str("header", d.System).Str("checksum", other).Msg("header and checksum disagree on system")
			res.Conflict = true
		}

		return res, nil
	}

	for _, candidate := range candidates {
		res, err := c.resolution(candidate)
		if err != nil {
			return Resolution{}, err
		}

		systems, err := s.store.SystemsForChecksum(ctx, res.Checksum)
		if err != nil {
			return Resolution{}, storeError("systems for checksum", err)
		}
		if contains(systems, candidate) {
			return res, nil
		}
	}

	return Resolution{}, &romlib.AmbiguousSystemError{
		Path:       c.path(),
		Candidates: candidates,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// conflicting returns the first candidate other than system that systems
// lists, ignoring systems if it also lists system itself
func conflicting(system string, systems, candidates []string) string {
	if len(systems) == 0 || contains(systems, system) {
		return ""
	}
	for _, c := range candidates {
		if c != system && contains(systems, c) {
			return c
		}
	}
	return ""
}

// checksummer computes the checksums of one file, remembering them by
// header offset so trying several systems reads the file at most once per
// distinct offset
type checksummer struct {
	r     romlib.Reader
	file  string
	sums  map[uint64]romlib.Checksums
	sizes map[string]uint64
}

func newChecksummer(r romlib.Reader, file string) *checksummer {
	return &checksummer{
		r:     r,
		file:  file,
		sums:  make(map[uint64]romlib.Checksums),
		sizes: make(map[string]uint64),
	}
}

func (c *checksummer) path() string {
	return romlib.Path(c.r, c.file)
}

func (c *checksummer) sum(offset uint64) (romlib.Checksums, error) {
	if s, ok := c.sums[offset]; ok {
		return s, nil
	}
	s, err := romlib.ChecksumReader(c.r, c.file, offset)
	if err != nil {
		return nil, err
	}
	c.sums[offset] = s
	return s, nil
}

func (c *checksummer) headerSize(system string) uint64 {
	if hs, ok := c.sizes[system]; ok {
		return hs
	}
	hs := romlib.HeaderSizeReader(system, c.r, c.file)
	c.sizes[system] = hs
	return hs
}

func (c *checksummer) resolution(system string) (Resolution, error) {
	hs := c.headerSize(system)
	s, err := c.sum(hs)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		System:     system,
		HeaderSize: hs,
		Checksum:   s.String(romlib.Identity),
	}, nil
}

// matchHeader reads just enough of the file to test every descriptor
func (c *checksummer) matchHeader(headers []romlib.HeaderDescriptor) (romlib.HeaderDescriptor, bool, error) {
	var end int64
	for _, d := range headers {
		if d.End() > end {
			end = d.End()
		}
	}
	if end <= 0 {
		return romlib.HeaderDescriptor{}, false, nil
	}

	rc, err := c.r.Open(c.file)
	if err != nil {
		return romlib.HeaderDescriptor{}, false, &romlib.IOError{Path: c.path(), Err: err}
	}
	defer rc.Close()

	b := new(bytes.Buffer)
	if _, err := io.CopyN(b, rc, end); err != nil && !errors.Is(err, io.EOF) {
		return romlib.HeaderDescriptor{}, false, &romlib.IOError{Path: c.path(), Err: err}
	}

	d, ok := romlib.ResolveHeader(bytes.NewReader(b.Bytes()), headers)
	return d, ok, nil
}

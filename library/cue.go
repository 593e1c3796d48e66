package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bodgit/romlib"
	"github.com/bodgit/romlib/cue"
)

// CueSet is a disc image made of a cue sheet and its track files
type CueSet struct {
	System     string
	Checksum   string
	HeaderSize uint64
	// Size is the combined size of every track
	Size uint64
	// Primary is the track the checksum is computed over
	Primary string
	Tracks  []string

	rx uint64
}

// CueResolver identifies disc images described by cue sheets
type CueResolver struct {
	systems *SystemResolver
}

// NewCueResolver returns a CueResolver using systems to identify the
// primary track
func NewCueResolver(systems *SystemResolver) *CueResolver {
	return &CueResolver{
		systems: systems,
	}
}

// Tracks returns the track files referenced by the cue sheet at path
func (c *CueResolver) Tracks(path string) ([]string, error) {
	sheet, err := cue.ParseFile(path)
	if err != nil {
		return nil, &romlib.MalformedCueError{Path: path, Reason: "parse", Err: err}
	}
	return sheet.Paths(filepath.Dir(path)), nil
}

// Resolve identifies the disc image described by the cue sheet at path.
// Every track must exist
func (c *CueResolver) Resolve(ctx context.Context, path string) (*CueSet, error) {
	sheet, err := cue.ParseFile(path)
	if err != nil {
		return nil, &romlib.MalformedCueError{Path: path, Reason: "parse", Err: err}
	}

	dir := filepath.Dir(path)
	set := &CueSet{
		Primary: sheet.Primary(dir),
		Tracks:  sheet.Paths(dir),
	}

	for _, track := range set.Tracks {
		info, err := os.Stat(track)
		if err != nil {
			return nil, &romlib.MalformedCueError{Path: path, Reason: fmt.Sprintf("track %s", filepath.Base(track)), Err: err}
		}
		if !info.Mode().IsRegular() {
			return nil, &romlib.MalformedCueError{Path: path, Reason: fmt.Sprintf("track %s is not a file", filepath.Base(track))}
		}
		set.Size += uint64(info.Size())
	}

	candidates, err := c.candidates(ctx, path, set.Primary)
	if err != nil {
		return nil, err
	}

	r, err := romlib.NewFileReader(set.Primary)
	if err != nil {
		return nil, &romlib.IOError{Path: set.Primary, Err: err}
	}
	defer r.Close()

	res, err := c.systems.resolve(ctx, newChecksummer(r, filepath.Base(set.Primary)), candidates)
	if err != nil {
		var ambiguous *romlib.AmbiguousSystemError
		if errors.As(err, &ambiguous) {
			ambiguous.Path = path
		}
		return nil, err
	}

	set.rx = r.Rx()
	set.System = res.System
	set.Checksum = res.Checksum
	set.HeaderSize = res.HeaderSize

	return set, nil
}

// candidates prefers the systems registering both the cue sheet and the
// primary track extension, falling back to whichever of the two is known
func (c *CueResolver) candidates(ctx context.Context, path, primary string) ([]string, error) {
	fromCue, cueErr := c.systems.Candidates(ctx, path)
	if cueErr != nil && !errors.Is(cueErr, romlib.ErrUnknownExtension) {
		return nil, cueErr
	}
	fromTrack, trackErr := c.systems.Candidates(ctx, primary)
	if trackErr != nil && !errors.Is(trackErr, romlib.ErrUnknownExtension) {
		return nil, trackErr
	}

	switch {
	case len(fromCue) == 0 && len(fromTrack) == 0:
		return nil, romlib.ErrUnknownExtension
	case len(fromCue) == 0:
		return fromTrack, nil
	case len(fromTrack) == 0:
		return fromCue, nil
	}

	var both []string
	for _, system := range fromTrack {
		if contains(fromCue, system) {
			both = append(both, system)
		}
	}
	if len(both) == 0 {
		return fromTrack, nil
	}

	return both, nil
}

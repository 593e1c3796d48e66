package romlib

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// HeaderDescriptor describes a signature that identifies the data of a
// platform. Result is the hex encoding of the Length bytes expected at
// Offset
type HeaderDescriptor struct {
	Result string
	System string
	Offset int64
	Length int64
}

// Match reports whether the bytes read from r at the descriptor offset
// equal the expected result. Any read error is a mismatch
func (d HeaderDescriptor) Match(r io.ReaderAt) bool {
	want, err := hex.DecodeString(strings.TrimSpace(d.Result))
	if err != nil || d.Length <= 0 || d.Offset < 0 || int64(len(want)) != d.Length {
		return false
	}

	b := make([]byte, d.Length)
	if n, err := r.ReadAt(b, d.Offset); n != len(b) {
		return false
	} else if err != nil && !errors.Is(err, io.EOF) {
		return false
	}

	return bytes.Equal(b, want)
}

// End returns the offset of the first byte after the signature
func (d HeaderDescriptor) End() int64 {
	return d.Offset + d.Length
}

// ResolveHeader tries each descriptor in order and returns the first one
// that matches the data in r
func ResolveHeader(r io.ReaderAt, descriptors []HeaderDescriptor) (HeaderDescriptor, bool) {
	for _, d := range descriptors {
		if d.Match(r) {
			return d, true
		}
	}
	return HeaderDescriptor{}, false
}

// ResolveHeaderFile is ResolveHeader for the file at path. A file that
// cannot be opened matches nothing
func ResolveHeaderFile(path string, descriptors []HeaderDescriptor) (HeaderDescriptor, bool) {
	f, err := os.Open(path)
	if err != nil {
		return HeaderDescriptor{}, false
	}
	defer f.Close()

	return ResolveHeader(f, descriptors)
}

// HeaderFunc inspects the start of a ROM of the given total size and
// returns the size of any copier header preceding the real data
type HeaderFunc func(r io.Reader, size uint64) (uint64, error)

var (
	headersMutex sync.RWMutex
	headers      = map[string]HeaderFunc{}
)

// RegisterHeader registers the copier header rule for a platform,
// replacing any existing rule
func RegisterHeader(system string, fn HeaderFunc) {
	headersMutex.Lock()
	defer headersMutex.Unlock()
	headers[system] = fn
}

// AliasHeader makes system use the copier header rule registered for rule,
// so a platform known by another name, such as "Famicom" for "NES", has its
// header stripped too
func AliasHeader(system, rule string) error {
	headersMutex.Lock()
	defer headersMutex.Unlock()
	fn, ok := headers[rule]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHeaderRule, rule)
	}
	headers[system] = fn
	return nil
}

// HasHeader reports whether a copier header rule is registered for system
func HasHeader(system string) bool {
	headersMutex.RLock()
	defer headersMutex.RUnlock()
	_, ok := headers[system]
	return ok
}

// HeaderSize returns the number of leading bytes of r that are a copier
// header for system. Platforms without a rule, short reads and read
// errors all mean no header
func HeaderSize(system string, r io.Reader, size uint64) uint64 {
	headersMutex.RLock()
	fn, ok := headers[system]
	headersMutex.RUnlock()
	if !ok {
		return 0
	}

	hs, err := fn(r, size)
	if err != nil || hs > size {
		return 0
	}

	return hs
}

// HeaderSizeReader returns the copier header size of file within r for
// system
func HeaderSizeReader(system string, r Reader, file string) uint64 {
	if !HasHeader(system) {
		return 0
	}

	size, err := r.Size(file)
	if err != nil {
		return 0
	}

	rc, err := r.Open(file)
	if err != nil {
		return 0
	}
	defer rc.Close()

	return HeaderSize(system, rc, size)
}

func magicHeader(magic []byte, at int, length uint64) HeaderFunc {
	return func(r io.Reader, size uint64) (uint64, error) {
		if size < length {
			return 0, nil
		}

		b := new(bytes.Buffer)
		if _, err := io.CopyN(b, r, int64(at+len(magic))); err != nil {
			return 0, err
		}

		if !bytes.Equal(b.Bytes()[at:], magic) {
			return 0, nil
		}

		return length, nil
	}
}

func init() {
	RegisterHeader(NES, nesHeader)
	RegisterHeader(FDS, fdsHeader)
	RegisterHeader(Lynx, lynxHeader)
	RegisterHeader(Atari7800, atari7800Header)
	RegisterHeader(SNES, snesHeader)
}

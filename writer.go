package romlib

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/bodgit/plumbing"
	"github.com/uwedeportivo/torrentzip"
)

// Writer is the interface implemented by all ROM writers
type Writer interface {
	// Close closes access to the underlying file. Any other methods
	// are not guaranteed to work after this has been called
	Close() error
	// Create returns an io.WriteCloser for the requested filename. The
	// ability to create multiple files in parallel rather than
	// sequentially is implementation-dependent
	Create(string) (io.WriteCloser, error)
	// Name returns the full path to the underlying file
	Name() string
	// Tx returns the number of bytes written by the implementation
	Tx() uint64
}

var errDirectoryNotSupported = errors.New("directories not supported")

// DirectoryWriter creates a directory if necessary and then writes new
// files inside it. Existing files are left alone and each file only
// appears under its final name once it has been closed successfully
type DirectoryWriter struct {
	directory string
	tx        plumbing.WriteCounter
}

// NewDirectoryWriter returns a new DirectoryWriter for the passed
// directory
func NewDirectoryWriter(directory string) (*DirectoryWriter, error) {
	if err := os.MkdirAll(directory, os.ModePerm); err != nil {
		return nil, err
	}

	return &DirectoryWriter{
		directory: directory,
	}, nil
}

// Close closes access to the underlying file. Any other methods are not
// guaranteed to work after this has been called
func (w *DirectoryWriter) Close() error {
	return nil
}

type atomicFile struct {
	io.Writer
	file   *os.File
	target string
	closed bool
}

func (a *atomicFile) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	defer os.Remove(a.file.Name())

	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return err
	}
	if err := a.file.Close(); err != nil {
		return err
	}

	return os.Rename(a.file.Name(), a.target)
}

// Abort discards everything written so far, the target file is never
// created
func (a *atomicFile) Abort() error {
	if a.closed {
		return nil
	}
	a.closed = true

	defer os.Remove(a.file.Name())

	return a.file.Close()
}

// Aborter is implemented by writers that can discard a partially written
// file
type Aborter interface {
	Abort() error
}

// Create returns an io.WriteCloser for the requested filename. The file
// is written to a temporary name and renamed into place by Close, or
// discarded if it implements Aborter and Abort is called instead
func (w *DirectoryWriter) Create(filename string) (io.WriteCloser, error) {
	if filename != filepath.Base(filename) {
		return nil, errDirectoryNotSupported
	}
	file, err := os.CreateTemp(w.directory, "."+filename+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &atomicFile{
		Writer: io.MultiWriter(file, &w.tx),
		file:   file,
		target: filepath.Join(w.directory, filename),
	}, nil
}

// Name returns the full path to the underlying file
func (w *DirectoryWriter) Name() string {
	return w.directory
}

// Tx returns the number of bytes written by the implementation
func (w *DirectoryWriter) Tx() uint64 {
	return w.tx.Count()
}

// TorrentZipWriter creates a new zip archive using the torrentzip
// standard. It is slightly slower to create than a normal zip archive
type TorrentZipWriter struct {
	file   *os.File
	writer *torrentzip.Writer
	tx     plumbing.WriteCounter
}

// NewTorrentZipWriter returns a new TorrentZipWriter for the passed zip
// archive
func NewTorrentZipWriter(filename string) (*TorrentZipWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	w := &TorrentZipWriter{
		file: file,
	}

	// Try and keep the temporary file on the same filesystem as the target file
	w.writer, err = torrentzip.NewWriterWithTemp(io.MultiWriter(file, &w.tx), filepath.Dir(filename))
	if err != nil {
		file.Close()
		return nil, err
	}

	return w, nil
}

// Close closes access to the underlying file. Any other methods are not
// guaranteed to work after this has been called
func (w *TorrentZipWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		return err
	}

	return w.file.Close()
}

// Create returns an io.WriteCloser for the requested filename. The ability
// to create multiple files in parallel rather than sequentially is
// implementation-dependent
func (w *TorrentZipWriter) Create(filename string) (io.WriteCloser, error) {
	writer, err := w.writer.Create(filename)
	if err != nil {
		return nil, err
	}
	return plumbing.NopWriteCloser(writer), nil
}

// Name returns the full path to the underlying file
func (w *TorrentZipWriter) Name() string {
	return w.file.Name()
}

// BUG(bodgit): The bytes written for TorrentZipWriter is not accurate

// Tx returns the number of bytes written by the implementation
func (w *TorrentZipWriter) Tx() uint64 {
	return w.tx.Count()
}

package library

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
)

var errNothingDropped = errors.New("nothing dropped")

// HandleContainsDrag records whether a drag is currently over the library
func (w *Worker) HandleContainsDrag(contains bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.containsDrag = contains
}

// ContainsDrag reports whether a drag is currently over the library
func (w *Worker) ContainsDrag() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.containsDrag
}

// HandleDraggedURLs records the URLs being dragged, replacing any previous
// ones. Both file URLs and plain paths are accepted
func (w *Worker) HandleDraggedURLs(urls []string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.dragged = append([]string(nil), urls...)
}

// HandleDroppedURLs scans the files and directories most recently passed to
// HandleDraggedURLs on the calling goroutine. An interrupted drop is resumed
// with Resume
func (w *Worker) HandleDroppedURLs(ctx context.Context) error {
	w.mutex.Lock()
	urls := w.dragged
	w.dragged = nil
	w.containsDrag = false
	w.mutex.Unlock()

	var paths []string
	for _, u := range urls {
		path, ok := localPath(u)
		if !ok {
			w.logger.Warn().Str("url", u).Msg("ignoring non-local url")
			continue
		}
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return errNothingDropped
	}

	if err := w.begin(paths); err != nil {
		return err
	}

	return w.scan(ctx, paths)
}

// localPath converts a file URL or plain path to a local path
func localPath(s string) (string, bool) {
	if s == "" {
		return "", false
	}

	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// A plain path, possibly with a Windows drive letter
		return filepath.Clean(s), true
	}

	if !strings.EqualFold(u.Scheme, "file") || (u.Host != "" && u.Host != "localhost") {
		return "", false
	}

	path := u.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
	}

	return filepath.Clean(filepath.FromSlash(path)), true
}

package library

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/romlib"
	"github.com/google/uuid"
)

const cueExtension = ".cue"

func newInsertID() string {
	return uuid.NewString()
}

// scan is the body of a scan started by begin, paths are either directories
// to walk or files
func (w *Worker) scan(ctx context.Context, paths []string) (err error) {
	defer func() {
		if err != nil {
			w.logger.Error().Err(err).Strs("paths", paths).Msg("scan failed")
			w.finished(ctx, Event{Type: EventFinished, Err: err, Stats: w.Stats()})
		}
		w.end(err)
	}()

	stop := context.AfterFunc(ctx, func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		w.cond.Broadcast()
	})
	defer stop()

	if err := w.store.Ping(ctx); err != nil {
		return storeError("ping", err)
	}

	extensions, err := w.store.Extensions(ctx)
	if err != nil {
		return storeError("extensions", err)
	}
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = true
	}

	queue, err := w.findFiles(ctx, paths, exts)
	if err != nil {
		return err
	}

	w.mutex.Lock()
	if !w.cancelled {
		w.queue = queue
	}
	w.stats.Files = len(queue)
	stats := w.stats
	w.mutex.Unlock()

	w.logger.Info().Strs("paths", paths).Int("files", len(queue)).Msg("scan started")
	w.emit(ctx, Event{Type: EventStarted, Stats: stats})

	for {
		path, ok := w.next(ctx)
		if !ok {
			break
		}

		w.process(ctx, path, exts)

		w.mutex.Lock()
		w.stats.Processed++
		stats := w.stats
		w.mutex.Unlock()

		w.emit(ctx, Event{Type: EventProgress, Path: path, Progress: progress(stats), Stats: stats})
	}

	w.mutex.Lock()
	if ctx.Err() != nil {
		w.cancelled = true
	}
	stats = w.stats
	w.mutex.Unlock()

	w.logger.Info().Int("added", stats.Added).Int("skipped", stats.Skipped).Int("duplicates", stats.Duplicates).Int("bios", stats.Bios).Int("failed", stats.Failed).Msg("scan finished")

	w.finished(ctx, Event{Type: EventFinished, Progress: progress(stats), Stats: stats})

	return nil
}

// finished sends the last event of a scan. The consumer may have gone if the
// context was cancelled
func (w *Worker) finished(ctx context.Context, e Event) {
	if ctx.Err() != nil {
		w.tryEmit(e)
		return
	}
	w.emit(ctx, e)
}

func progress(s Stats) float64 {
	if s.Files == 0 {
		return 1
	}
	return float64(s.Processed) / float64(s.Files)
}

// accept reports whether a file is worth queueing. A registered extension
// takes precedence over treating the file as an archive
func (w *Worker) accept(name string, exts map[string]bool) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if exts[ext] || ext == cueExtension {
		return true
	}
	return w.archives && romlib.IsArchive(name)
}

func hidden(name string) bool {
	return len(name) > 1 && name[0] == '.' && name != ".."
}

// findFiles walks paths and returns the files to process in lexical order.
// Tracks referenced by a queued cue sheet are left out as the cue sheet
// stands for them. Only a scan of a single path fails if it is missing,
// otherwise a missing path is queued and reported when it is processed
func (w *Worker) findFiles(ctx context.Context, paths []string, exts map[string]bool) ([]string, error) {
	var (
		files []string
		cues  []string
		seen  = make(map[string]bool)
	)

	add := func(path string) {
		path = filepath.Clean(path)
		if seen[path] {
			return
		}
		seen[path] = true
		files = append(files, path)
		if strings.EqualFold(filepath.Ext(path), cueExtension) {
			cues = append(cues, path)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			if len(paths) == 1 {
				return nil, &romlib.IOError{Path: root, Err: err}
			}
			add(root)
			continue
		}

		if !info.IsDir() {
			if w.accept(root, exts) {
				add(root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("unable to read")
				if d != nil && d.IsDir() && path != root {
					return filepath.SkipDir
				}
				return nil
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}

			// Ignore any hidden files or directories, otherwise we end up fighting with things like Spotlight, etc.
			if path != root && hidden(d.Name()) {
				w.logger.Debug().Str("path", path).Msg("ignoring")
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() || !w.accept(d.Name(), exts) {
				return nil
			}

			add(path)

			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	tracks := make(map[string]bool)
	for _, path := range cues {
		t, err := w.cues.Tracks(path)
		if err != nil {
			// Reported when the cue sheet itself is processed
			continue
		}
		for _, track := range t {
			tracks[filepath.Clean(track)] = true
		}
	}

	if len(tracks) == 0 {
		return files, nil
	}

	queue := files[:0]
	for _, path := range files {
		if !tracks[path] {
			queue = append(queue, path)
		}
	}

	return queue, nil
}

// next is the point between files where the scan waits while paused and
// stops if cancelled
func (w *Worker) next(ctx context.Context) (string, bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	for w.paused && !w.cancelled && ctx.Err() == nil {
		if w.state != Paused {
			w.state = Paused
			if err := w.saveLocked(); err != nil {
				w.logger.Warn().Err(err).Msg("unable to save resume state")
			}
			w.logger.Info().Str("directory", w.resume.Directory).Str("id", w.resume.InsertID).Msg("scan paused")
		}
		w.cond.Wait()
	}

	if w.state == Paused {
		w.state = Running
		w.logger.Info().Msg("scan resumed")
	}

	if w.cancelled || ctx.Err() != nil {
		w.queue = nil
		return "", false
	}

	if len(w.queue) == 0 {
		return "", false
	}

	path := w.queue[0]
	w.queue = w.queue[1:]

	return path, true
}

func (w *Worker) isCancelled(ctx context.Context) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.cancelled || ctx.Err() != nil
}

func (w *Worker) process(ctx context.Context, path string, exts map[string]bool) {
	// Gone since it was queued, or never there
	if _, err := os.Stat(path); err != nil {
		w.skip(ctx, path, &romlib.IOError{Path: path, Err: err})
		return
	}

	ext := strings.ToLower(filepath.Ext(path))

	if ext == cueExtension {
		w.processCue(ctx, path)
		return
	}

	var (
		r   romlib.Reader
		err error
	)
	if exts[ext] {
		r, err = romlib.NewFileReader(path)
	} else {
		r, err = romlib.NewReader(path)
	}
	if err != nil {
		w.skip(ctx, path, &romlib.IOError{Path: path, Err: err})
		return
	}
	defer func() {
		r.Close()
		w.mutex.Lock()
		w.stats.BytesRead += r.Rx()
		w.mutex.Unlock()
	}()

	for _, file := range r.Files() {
		if w.isCancelled(ctx) {
			return
		}
		w.processFile(ctx, r, file)
	}
}

func (w *Worker) processCue(ctx context.Context, path string) {
	set, err := w.cues.Resolve(ctx, path)
	if err != nil {
		w.skip(ctx, path, err)
		return
	}

	w.mutex.Lock()
	w.stats.BytesRead += set.rx
	w.mutex.Unlock()

	record := romlib.NewGameRecord(path, set.System, set.Checksum)
	record.Size = set.Size
	record.HeaderSize = set.HeaderSize

	w.finish(ctx, record, false)
}

func (w *Worker) processFile(ctx context.Context, r romlib.Reader, file string) {
	path := romlib.Path(r, file)

	candidates, err := w.systems.Candidates(ctx, file)
	if err != nil {
		// Anything else in an archive is not interesting
		if errors.Is(err, romlib.ErrUnknownExtension) && path != r.Name() {
			w.logger.Debug().Str("path", path).Msg("ignoring")
			return
		}
		w.skip(ctx, path, err)
		return
	}

	c := newChecksummer(r, file)

	if w.bios != nil {
		sums, err := c.sum(0)
		if err != nil {
			w.skip(ctx, path, err)
			return
		}
		name, ok, err := w.bios.Check(ctx, sums.String(romlib.Identity))
		if err != nil {
			w.skip(ctx, path, err)
			return
		}
		if ok {
			w.cacheBios(ctx, r, file, name)
			return
		}
	}

	res, err := w.systems.resolve(ctx, c, candidates)
	if err != nil {
		w.skip(ctx, path, err)
		return
	}

	record := romlib.NewGameRecord(path, res.System, res.Checksum)
	size, err := r.Size(file)
	if err != nil {
		w.logger.Debug().Err(err).Str("path", path).Msg("unable to read size")
	}
	record.Size = size
	record.HeaderSize = res.HeaderSize

	w.finish(ctx, record, res.Conflict)
}

func (w *Worker) cacheBios(ctx context.Context, r romlib.Reader, file, name string) {
	path := romlib.Path(r, file)

	cached, err := w.bios.Cache(r, file, name)
	if err != nil {
		w.skip(ctx, path, err)
		return
	}

	w.mutex.Lock()
	w.stats.Bios++
	w.mutex.Unlock()

	if cached {
		w.logger.Info().Str("path", path).Str("name", name).Msg("cached bios")
	} else {
		w.logger.Debug().Str("path", path).Str("name", name).Msg("bios already cached")
	}
}

// finish enriches an identified game and emits it unless it is already
// catalogued or the scan has been cancelled meanwhile
func (w *Worker) finish(ctx context.Context, record romlib.GameRecord, conflict bool) {
	if conflict {
		w.mutex.Lock()
		w.stats.Conflicts++
		w.mutex.Unlock()
	}

	dup, err := w.store.HasGame(ctx, record.Checksum)
	if err != nil {
		w.skip(ctx, record.Path, storeError("has game", err))
		return
	}
	if dup {
		w.logger.Debug().Str("path", record.Path).Str("sha1", record.Checksum).Msg("already catalogued")
		w.mutex.Lock()
		w.stats.Duplicates++
		w.mutex.Unlock()
		return
	}

	m, ok, err := w.store.Metadata(ctx, record.System, record.Checksum)
	if err != nil {
		w.skip(ctx, record.Path, storeError("metadata", err))
		return
	}
	if ok {
		record.Merge(m)
	}

	if err := record.Valid(); err != nil {
		w.skip(ctx, record.Path, err)
		return
	}

	w.mutex.Lock()
	if w.cancelled || ctx.Err() != nil {
		w.mutex.Unlock()
		return
	}
	w.stats.Added++
	stats := w.stats
	w.mutex.Unlock()

	// Progress as of this file being done
	stats.Processed++
	record.Progress = progress(stats)

	if w.catalog != nil {
		if err := w.catalog.AddGame(ctx, record); err != nil {
			w.logger.Error().Err(err).Str("path", record.Path).Msg("unable to catalog game")
		}
	}

	w.logger.Info().Str("path", record.Path).Str("system", record.System).Str("sha1", record.Checksum).Msg("found game")
	w.emit(ctx, Event{Type: EventRecord, Record: record, Path: record.Path, Progress: record.Progress, Stats: stats})
}

// skip logs and reports a file that could not be identified
func (w *Worker) skip(ctx context.Context, path string, err error) {
	var (
		store     *romlib.ReferenceStoreError
		ioErr     *romlib.IOError
		ambiguous *romlib.AmbiguousSystemError
		malformed *romlib.MalformedCueError
	)

	w.mutex.Lock()
	switch {
	case errors.As(err, &store):
		w.stats.Failed++
		w.logger.Error().Err(err).Str("path", path).Msg("reference store query failed")
	case errors.As(err, &ioErr):
		w.stats.Failed++
		w.logger.Warn().Err(err).Str("path", path).Msg("unable to read")
	case errors.As(err, &ambiguous), errors.As(err, &malformed):
		w.stats.Skipped++
		w.logger.Warn().Err(err).Str("path", path).Msg("skipping")
	case errors.Is(err, romlib.ErrUnknownExtension):
		w.stats.Skipped++
		w.logger.Debug().Str("path", path).Msg("not a game")
	default:
		w.stats.Failed++
		w.logger.Warn().Err(err).Str("path", path).Msg("skipping")
	}
	stats := w.stats
	w.mutex.Unlock()

	w.emit(ctx, Event{Type: EventSkipped, Path: path, Err: err, Stats: stats})
}

func (w *Worker) channel() chan Event {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.events
}

func (w *Worker) emit(ctx context.Context, e Event) {
	c := w.channel()
	if c == nil {
		return
	}
	select {
	case c <- e:
	case <-ctx.Done():
	}
}

func (w *Worker) tryEmit(e Event) {
	c := w.channel()
	if c == nil {
		return
	}
	select {
	case c <- e:
	default:
	}
}

// Package tail follows a growing file and delivers appended bytes to a sink.
package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/seedtray/tail/sink"
)

var defaultFS = afero.NewOsFs()

const (
	DefaultWindow    = 2 * 1024
	DefaultChunkSize = 32 * 1024
)

var ErrWatcherClosed = errors.New("change notifications stopped")

// FileCursor is the read position in the tailed file. It is never persisted.
type FileCursor struct {
	Path string
	// Offset of the next byte to deliver.
	Offset int64
	// Size seen on the last stat. Offset <= Size between drains.
	Size int64
}

type Config struct {
	Path string
	// Window is the maximum number of trailing bytes replayed at startup.
	Window int64
	// ChunkSize bounds a single read, and so a single delivered chunk.
	ChunkSize int
	// Create the file if it does not exist.
	Create bool
	Retry  RetryPolicy
}

func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("missing file path")
	}
	if c.Window < 0 {
		return fmt.Errorf("invalid tail window %d", c.Window)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", c.ChunkSize)
	}
	return c.Retry.Validate()
}

// Tailer replays the end of a file into a sink and then delivers every byte
// appended to it. A shrinking file is read again from the start.
type Tailer struct {
	cfg    Config
	out    sink.Sink
	logger *zap.Logger

	fs    afero.Fs
	watch func(path string) (Watcher, error)

	file   afero.File
	cursor FileCursor
	buf    []byte
}

func New(cfg Config, out sink.Sink, logger *zap.Logger) (*Tailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tailer{
		cfg:    cfg,
		out:    out,
		logger: logger,
		fs:     defaultFS,
		watch:  newWatcher,
		buf:    make([]byte, cfg.ChunkSize),
	}, nil
}

// Run opens the file, replays the tail window and then follows the file until
// ctx is cancelled or a fatal error occurs. It never returns nil.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.bootstrap(); err != nil {
		return err
	}
	defer t.file.Close()

	if err := t.seedFlush(ctx); err != nil {
		return err
	}

	w, err := t.watch(t.cfg.Path)
	if err != nil {
		return fmt.Errorf("could not watch file %q: %w", t.cfg.Path, err)
	}
	defer w.Close()

	return t.watchLoop(ctx, w)
}

// bootstrap opens the file and places the cursor at most Window bytes before
// the end.
func (t *Tailer) bootstrap() error {
	flag := os.O_RDONLY
	if t.cfg.Create {
		flag |= os.O_CREATE
	}
	f, err := t.fs.OpenFile(t.cfg.Path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("could not open file %q: %w", t.cfg.Path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("could not stat file %q: %w", t.cfg.Path, err)
	}

	var offset int64
	if size := info.Size(); size > t.cfg.Window {
		if offset, err = f.Seek(-t.cfg.Window, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("could not seek file %q: %w", t.cfg.Path, err)
		}
	}

	t.file = f
	t.cursor = FileCursor{Path: t.cfg.Path, Offset: offset, Size: info.Size()}
	t.logger.Info("tailing file",
		zap.String("path", t.cfg.Path),
		zap.Int64("size", info.Size()),
		zap.Int64("offset", offset))
	return nil
}

// seedFlush delivers everything from the cursor to the end of the file and
// records the baseline size.
func (t *Tailer) seedFlush(ctx context.Context) error {
	from := t.cursor.Offset
	if err := t.drain(ctx); err != nil {
		return err
	}
	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("could not stat file %q: %w", t.cfg.Path, err)
	}
	t.cursor.Size = max(info.Size(), t.cursor.Offset)
	t.logger.Debug("replayed tail window", zap.Int64("bytes", t.cursor.Offset-from))
	return nil
}

func (t *Tailer) watchLoop(ctx context.Context, w Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events():
			if !ok {
				return ErrWatcherClosed
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				// the watch stays on the old file, new writes to the path are not seen
				t.logger.Warn("tailed file moved or removed",
					zap.String("path", ev.Name),
					zap.String("op", ev.Op.String()))
				continue
			}
			if !ev.Has(fsnotify.Write) {
				continue
			}
			t.logger.Debug("file modified", zap.String("path", ev.Name))
			if err := t.onModify(ctx); err != nil {
				return err
			}
		case err, ok := <-w.Errors():
			if !ok {
				return ErrWatcherClosed
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				t.logger.Error("change notification error", zap.Error(err))
				continue
			}
			// modification events may be lost, look for new bytes anyway
			t.logger.Warn("change notification queue overflow", zap.Error(err))
			if err := t.onModify(ctx); err != nil {
				return err
			}
		}
	}
}

// onModify drains the file after a change. A size below the last observed
// size is taken as truncation and reading restarts at offset 0. Truncating
// and refilling to at least the previous size between two events goes
// unnoticed.
func (t *Tailer) onModify(ctx context.Context) error {
	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("could not stat file %q: %w", t.cfg.Path, err)
	}

	size := info.Size()
	if size < t.cursor.Size {
		t.logger.Info("file truncated, reading from start",
			zap.Int64("size", size),
			zap.Int64("previous_size", t.cursor.Size))
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("could not seek file %q: %w", t.cfg.Path, err)
		}
		t.cursor.Offset = 0
	}
	t.cursor.Size = size

	if err := t.drain(ctx); err != nil {
		return err
	}
	// the file may have grown while draining
	t.cursor.Size = max(t.cursor.Size, t.cursor.Offset)
	return nil
}

// drain delivers chunks until a read hits the end of the file.
func (t *Tailer) drain(ctx context.Context) error {
	for {
		n, err := t.file.Read(t.buf)
		if n > 0 {
			if derr := t.deliver(ctx, t.buf[:n]); derr != nil {
				return derr
			}
			t.cursor.Offset += int64(n)
		}
		if err == io.EOF || (err == nil && n == 0) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not read file %q: %w", t.cfg.Path, err)
		}
	}
}

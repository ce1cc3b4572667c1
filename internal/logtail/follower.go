// File: internal/logtail/follower.go
// Description: Streams sweep logs (per-seed results, aggregated performance, captured
// trainer output) to a writer while a sweep is running.

package logtail

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// tracebackStart marks the first line of an uncaught Python exception.
var tracebackStart = regexp.MustCompile(`^Traceback \(most recent call last\):`)

// Options controls how files are read.
type Options struct {
	// Follow keeps reading as the files grow and waits for files that do not exist yet.
	Follow bool
	// Poll uses stat polling instead of inotify.
	Poll bool
	// FromEnd skips what is already in the file.
	FromEnd bool
}

// Follower copies lines from one or more log files to a single writer.
type Follower struct {
	logger *zap.Logger
	opts   Options

	mu  sync.Mutex
	out io.Writer
}

// New creates a Follower writing to out.
func New(out io.Writer, logger *zap.Logger, opts Options) *Follower {
	return &Follower{
		logger: logger.Named("logtail"),
		opts:   opts,
		out:    out,
	}
}

// Run streams every path until ctx is done or, when not following, until all files
// have been read to the end. Lines are prefixed with the file name when more than one
// file is streamed.
func (f *Follower) Run(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no log files given")
	}
	prefix := len(paths) > 1

	tails := make([]*tail.Tail, 0, len(paths))
	for _, path := range paths {
		t, err := tail.TailFile(path, f.tailConfig())
		if err != nil {
			for _, opened := range tails {
				stopTail(opened)
			}
			return fmt.Errorf("failed to tail %s: %w", path, err)
		}
		tails = append(tails, t)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tails {
		label := ""
		if prefix {
			label = filepath.Base(t.Filename) + ": "
		}
		g.Go(func() error {
			return f.stream(ctx, t, label)
		})
	}
	return g.Wait()
}

func (f *Follower) tailConfig() tail.Config {
	cfg := tail.Config{
		Follow:    f.opts.Follow,
		ReOpen:    f.opts.Follow,
		MustExist: !f.opts.Follow,
		Poll:      f.opts.Poll,
		Logger:    tail.DiscardingLogger,
	}
	if f.opts.FromEnd {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	return cfg
}

func (f *Follower) stream(ctx context.Context, t *tail.Tail, label string) error {
	defer stopTail(t)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				f.logger.Warn("Error reading log file", zap.String("path", t.Filename), zap.Error(line.Err))
				continue
			}
			if tracebackStart.MatchString(line.Text) {
				f.logger.Warn("Python traceback in log", zap.String("path", t.Filename))
			}
			if err := f.writeLine(label, line.Text); err != nil {
				return err
			}
		}
	}
}

func (f *Follower) writeLine(label, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := fmt.Fprintf(f.out, "%s%s\n", label, text); err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}
	return nil
}

// stopTail stops t. The tailer blocks on unread lines, so the channel is drained until
// the tailer closes it.
func stopTail(t *tail.Tail) {
	go func() {
		for range t.Lines {
		}
	}()
	_ = t.Stop()
	t.Cleanup()
}

package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Sink receives the rendered run report.
type Sink interface {
	Write(ctx context.Context, raw []byte) error
}

type SinkCloser interface {
	Sink
	Close() error
}

// Publish renders the report once and hands it to every sink. Sink failures
// do not stop delivery to the remaining sinks.
func Publish(ctx context.Context, t *Tally, sinks ...Sink) error {
	if len(sinks) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := t.AsJSON(&buf); err != nil {
		return fmt.Errorf("rendering run report: %w", err)
	}
	var errs []error
	for _, s := range sinks {
		if err := s.Write(ctx, buf.Bytes()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseSinks closes every sink holding resources. Failures are logged, not
// returned, since the run outcome is already decided by then.
func CloseSinks(ctx context.Context, sinks []Sink) {
	for _, s := range sinks {
		if closer, ok := s.(SinkCloser); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing report sink has failed", "error", err)
			}
		}
	}
}

type WriteSink struct {
	w io.Writer
}

func NewWriteSink(w io.Writer) WriteSink {
	return WriteSink{w: w}
}

func (s WriteSink) Write(_ context.Context, raw []byte) error {
	if s.w == nil {
		s.w = os.Stdout
	}
	_, err := s.w.Write(raw)
	return err
}

// DirSink drops each run report as a timestamped JSON file inside a fixed
// directory. The directory is held open as an os.Root so a hostile symlink
// swap cannot redirect the write.
type DirSink struct {
	root *os.Root
}

func NewDirSink(path string) (*DirSink, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &DirSink{root: root}, nil
}

func (s *DirSink) Write(ctx context.Context, raw []byte) error {
	if s.root == nil {
		return errors.New("sink already closed")
	}

	path := "wpcronrun-" + time.Now().Format("2006-01-02-15-04-05") + ".json"

	f, err := s.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating run report: %w", err)
	}
	_, err = f.Write(raw)
	if err != nil {
		return fmt.Errorf("saving run report: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing run report: %w", err)
	}
	slog.InfoContext(ctx, "report saved", "path", path)
	return nil
}

func (s *DirSink) Close() error {
	if s.root == nil {
		return errors.New("sink already closed")
	}
	err := s.root.Close()
	s.root = nil
	return err
}

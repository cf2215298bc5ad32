package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/pipeline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileSink writes the aggregate as one JSON document.
type FileSink struct {
	path   string
	indent bool
	logger zerolog.Logger
}

// NewFileSink creates a file sink writing to path. Parent directories are
// created on write.
func NewFileSink(path string, indent bool) *FileSink {
	return &FileSink{
		path:   path,
		indent: indent,
		logger: log.With().Str("component", "file-sink").Logger(),
	}
}

// Write replaces the file atomically.
func (s *FileSink) Write(_ context.Context, agg *pipeline.Aggregate) error {
	if agg == nil {
		return errors.New("aggregate cannot be nil")
	}

	var (
		data []byte
		err  error
	)
	if s.indent {
		data, err = json.MarshalIndent(agg, "", "  ")
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		SinkErrors.WithLabelValues("file", "write").Inc()
		return fmt.Errorf("marshal aggregate: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		SinkErrors.WithLabelValues("file", "write").Inc()
		return err
	}

	SinkWrites.WithLabelValues("file").Inc()
	SinkBytes.WithLabelValues("file").Set(float64(len(data)))
	s.logger.Info().
		Str("path", s.path).
		Int("bytes", len(data)).
		Str("run_id", agg.RunID).
		Msg("Aggregate written")
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// LastWritten returns the file's modification time.
func (s *FileSink) LastWritten(context.Context) (time.Time, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, ErrNeverWritten
	}
	if err != nil {
		SinkErrors.WithLabelValues("file", "stat").Inc()
		return time.Time{}, fmt.Errorf("stat output: %w", err)
	}
	return info.ModTime(), nil
}

// Close is a no-op.
func (s *FileSink) Close() error {
	return nil
}

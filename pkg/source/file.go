package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
	"github.com/klauspost/compress/zstd"
)

// zstdMagic starts every zstd frame
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FileSource replays a capture file of frames. Files compressed with zstd
// are decompressed transparently.
type FileSource struct {
	path    string
	log     *logger.Logger
	metrics *metrics.Collector
}

// NewFileSource creates a capture file reader
func NewFileSource(path string, collector *metrics.Collector, log *logger.Logger) *FileSource {
	collector, log = withDefaults(collector, log)
	return &FileSource{
		path:    path,
		log:     log.WithComponent("source.file"),
		metrics: collector,
	}
}

// Run delivers every frame of the file. It returns nil at end of file.
func (s *FileSource) Run(ctx context.Context, out chan<- Frame) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer func() { _ = f.Close() }()

	r, closeFn, err := OpenCapture(f)
	if err != nil {
		return err
	}
	defer closeFn()

	s.log.Info("Reading capture", logger.String("path", s.path))
	err = readAll(ctx, r, out, s.metrics)
	if r.Skipped() > 0 {
		s.log.Warn("Skipped bytes between frames", logger.Uint64("bytes", r.Skipped()))
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// OpenCapture wraps a capture stream in a frame reader, decompressing it when
// it starts with a zstd frame. The returned func releases the decompressor.
func OpenCapture(r io.Reader) (*Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil || !bytes.Equal(head, zstdMagic) {
		return NewReader(br), func() {}, nil
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return NewReader(dec), dec.Close, nil
}

// FileWriter writes frames to a capture file, optionally zstd compressed
type FileWriter struct {
	file *os.File
	enc  *zstd.Encoder
	w    *Writer
}

// CreateCapture creates a capture file at path
func CreateCapture(path string, compress bool) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture: %w", err)
	}
	fw := &FileWriter{file: f}
	if !compress {
		fw.w = NewWriter(f)
		return fw, nil
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	fw.enc = enc
	fw.w = NewWriter(enc)
	return fw, nil
}

// Write appends a frame
func (fw *FileWriter) Write(f Frame) error {
	return fw.w.Write(f)
}

// Close flushes and closes the file
func (fw *FileWriter) Close() error {
	if fw.enc != nil {
		if err := fw.enc.Close(); err != nil {
			_ = fw.file.Close()
			return err
		}
	}
	return fw.file.Close()
}

// Package source reads game records from local PGN dumps, the offline
// counterpart to the API client. Zstandard-compressed dumps (.pgn.zst) are
// decompressed on the fly.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/pawnstats/pawnstats/internal/model"
	"github.com/pawnstats/pawnstats/internal/pgntext"
)

// FileSource yields raw records from a .pgn or .pgn.zst file. The cursor is
// the record offset within the file, so a resumed run skips what a previous
// run already handed to the pipeline.
type FileSource struct {
	path    string
	f       *os.File
	dec     *zstd.Decoder
	sc      *pgntext.RecordScanner
	offset  int64
	done    bool
	skipped bool
	resume  int64
}

// Open opens path for reading. resume carries the cursor of a previous run.
func Open(path string, resume model.Cursor) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pgn source: %w", err)
	}

	src := &FileSource{path: path, f: f, resume: resume[cursorKey(path)]}

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open zstd reader: %w", err)
		}
		src.dec = dec
		r = dec
	}
	src.sc = pgntext.NewRecordScanner(r)
	return src, nil
}

func cursorKey(path string) string {
	return "file:" + filepath.Base(path)
}

// NextBatch reads up to limit records. done is true when the file is
// exhausted.
func (s *FileSource) NextBatch(ctx context.Context, limit int) ([]model.RawGame, bool, error) {
	if s.done {
		return nil, true, nil
	}
	if !s.skipped {
		if err := s.skipTo(s.resume); err != nil {
			return nil, false, err
		}
		s.skipped = true
	}

	var batch []model.RawGame
	for len(batch) < limit {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		default:
		}

		rec, err := s.sc.Next()
		if err == io.EOF {
			s.done = true
			return batch, true, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("read %s: %w", s.path, err)
		}
		batch = append(batch, model.RawGame{Text: rec})
		s.offset++
	}
	return batch, false, nil
}

func (s *FileSource) skipTo(n int64) error {
	for s.offset < n {
		_, err := s.sc.Next()
		if err == io.EOF {
			s.done = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("skip to record %d: %w", n, err)
		}
		s.offset++
	}
	return nil
}

// Cursor returns the current record offset for checkpointing.
func (s *FileSource) Cursor() model.Cursor {
	return model.Cursor{cursorKey(s.path): s.offset}
}

// Close releases the underlying file and decoder.
func (s *FileSource) Close() error {
	if s.dec != nil {
		s.dec.Close()
	}
	return s.f.Close()
}

// Package jsonl stores hash-chained records as newline-delimited JSON files.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/maithanhduyan/bibank/internal/domain"
)

const maxLineSize = 4 << 20

// handle is the subset of *os.File an append needs.
type handle interface {
	io.WriteSeeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// file is an append-only JSON Lines file. Each Append is fsynced before it returns.
// A failed append is truncated back to the previous end of file; if that fails too
// the file is latched and refuses further appends.
type file[T any] struct {
	mu     sync.Mutex
	path   string
	f      handle
	failed error
}

func openFile[T any](path string) (*file[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &file[T]{path: path, f: f}, nil
}

func (s *file[T]) append(ctx context.Context, record *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fs.ErrClosed
	}
	if s.failed != nil {
		return s.failed
	}

	offset, err := s.f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek %s: %w", s.path, err)
	}

	if _, err := s.f.Write(line); err != nil {
		return s.rollback(offset, fmt.Errorf("write %s: %w", s.path, err))
	}
	if err := s.f.Sync(); err != nil {
		return s.rollback(offset, fmt.Errorf("sync %s: %w", s.path, err))
	}

	return nil
}

// rollback drops whatever part of a failed record reached the file.
func (s *file[T]) rollback(offset int64, cause error) error {
	err := s.f.Truncate(offset)
	if err == nil {
		_, err = s.f.Seek(offset, io.SeekStart)
	}
	if err == nil {
		err = s.f.Sync()
	}
	if err != nil {
		s.failed = fmt.Errorf("%w: %s: %v (rollback: %v)", domain.ErrStoreFailed, s.path, cause, err)
		return s.failed
	}

	return cause
}

func (s *file[T]) readAll(ctx context.Context) ([]*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	var records []*T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		record := new(T)
		if err := json.Unmarshal(raw, record); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.path, line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	return records, nil
}

func (s *file[T]) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

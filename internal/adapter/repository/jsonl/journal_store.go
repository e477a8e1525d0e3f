package jsonl

import (
	"context"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// JournalStore implements usecase.JournalStore on a JSON Lines file.
type JournalStore struct {
	file *file[domain.JournalEntry]
}

// NewJournalStore opens (or creates) the journal at path.
func NewJournalStore(path string) (*JournalStore, error) {
	f, err := openFile[domain.JournalEntry](path)
	if err != nil {
		return nil, err
	}
	return &JournalStore{file: f}, nil
}

// Append writes one entry and syncs it to disk.
func (s *JournalStore) Append(ctx context.Context, entry *domain.JournalEntry) error {
	return s.file.append(ctx, entry)
}

// ReadAll returns every entry in file order. A missing file yields no entries.
func (s *JournalStore) ReadAll(ctx context.Context) ([]*domain.JournalEntry, error) {
	return s.file.readAll(ctx)
}

// Path returns the backing file path.
func (s *JournalStore) Path() string {
	return s.file.path
}

// Close releases the file handle.
func (s *JournalStore) Close() error {
	return s.file.close()
}

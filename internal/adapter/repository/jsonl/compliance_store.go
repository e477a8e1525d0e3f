package jsonl

import (
	"context"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// ComplianceStore implements usecase.ComplianceStore on a JSON Lines file.
type ComplianceStore struct {
	file *file[domain.ComplianceRecord]
}

// NewComplianceStore opens (or creates) the compliance ledger at path.
func NewComplianceStore(path string) (*ComplianceStore, error) {
	f, err := openFile[domain.ComplianceRecord](path)
	if err != nil {
		return nil, err
	}
	return &ComplianceStore{file: f}, nil
}

func (s *ComplianceStore) Append(ctx context.Context, record *domain.ComplianceRecord) error {
	return s.file.append(ctx, record)
}

func (s *ComplianceStore) ReadAll(ctx context.Context) ([]*domain.ComplianceRecord, error) {
	return s.file.readAll(ctx)
}

// Close releases the file handle.
func (s *ComplianceStore) Close() error {
	return s.file.close()
}

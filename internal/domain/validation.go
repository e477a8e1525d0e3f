package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMetadataTooLarge = errors.New("metadata size exceeds limit")
	ErrInvalidMetadata  = errors.New("invalid metadata")
	ErrInvalidIDFormat  = errors.New("invalid ID format")
)

const (
	MaxMetadataSize   = 10240
	MaxMetadataKeyLen = 64
	MaxCorrelationLen = 128

	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// ValidateMetadata bounds the total size of intent metadata and rejects blank
// or oversized keys.
func ValidateMetadata(metadata map[string]string) error {
	size := 0
	for k, v := range metadata {
		if strings.TrimSpace(k) == "" || len(k) > MaxMetadataKeyLen {
			return fmt.Errorf("%w: key %q", ErrInvalidMetadata, k)
		}
		size += len(k) + len(v)
	}

	if size > MaxMetadataSize {
		return fmt.Errorf("%w: metadata size %d bytes exceeds limit of %d bytes", ErrMetadataTooLarge, size, MaxMetadataSize)
	}
	return nil
}

// ValidateCorrelationID rejects ids that cannot be used as journal keys.
func ValidateCorrelationID(id string) error {
	if id == "" {
		return ErrEmptyCorrelationID
	}
	if len(id) > MaxCorrelationLen {
		return fmt.Errorf("%w: correlation id exceeds %d characters", ErrInvalidIDFormat, MaxCorrelationLen)
	}
	if strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("%w: correlation id contains line breaks", ErrInvalidIDFormat)
	}
	return nil
}

// ClampPage normalises list paging. A non-positive limit selects def.
func ClampPage(limit, offset, def int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

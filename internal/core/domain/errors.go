package domain

import (
	"errors"
	"fmt"
)

var (
	ErrIndexLoad       = errors.New("vector index load failed")
	ErrMetadataLoad    = errors.New("chunk metadata load failed")
	ErrEmbedding       = errors.New("embedding failed")
	ErrGeneration      = errors.New("answer generation failed")
	ErrClassification  = errors.New("query classification failed")
	ErrChunkNotFound   = errors.New("chunk not found")
	ErrUnknownCategory = errors.New("unknown query category")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTemporary       = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

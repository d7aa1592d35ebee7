// Package jsonfile loads chunk text and provenance from the chunks.json file
// produced alongside the vector index.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
)

type Store struct {
	chunks []domain.Chunk
	byID   map[string]int
}

type record struct {
	ID   json.RawMessage `json:"id"`
	Text string          `json:"text"`
	URL  string          `json:"url"`
}

// Load reads the whole metadata file. A chunk's identity is its "id" field when
// present, otherwise its zero-based position in the array. Failures are reported
// as domain.ErrMetadataLoad.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrMetadataLoad, "read chunk metadata", err)
	}
	store, err := Parse(data)
	if err != nil {
		return nil, domain.WrapError(domain.ErrMetadataLoad, "parse chunk metadata", fmt.Errorf("%s: %w", path, err))
	}
	return store, nil
}

// Parse builds a store from the raw JSON array.
func Parse(data []byte) (*Store, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var records []record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("unexpected data after json array")
	}
	if records == nil {
		return nil, errors.New("expected a json array of chunks")
	}

	store := &Store{
		chunks: make([]domain.Chunk, 0, len(records)),
		byID:   make(map[string]int, len(records)),
	}
	for pos, rec := range records {
		id, err := recordID(rec.ID, pos)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", pos, err)
		}
		if strings.TrimSpace(rec.Text) == "" {
			return nil, fmt.Errorf("chunk %q: text is required", id)
		}
		if _, dup := store.byID[id]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q", id)
		}
		store.byID[id] = len(store.chunks)
		store.chunks = append(store.chunks, domain.Chunk{
			ID:        id,
			Text:      rec.Text,
			SourceURL: strings.TrimSpace(rec.URL),
		})
	}
	return store, nil
}

func recordID(raw json.RawMessage, pos int) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return strconv.Itoa(pos), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", errors.New("id must not be empty")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("id must be a string or number, got %s", raw)
}

// Lookup returns domain.ErrChunkNotFound when the id is absent, which means
// the index and the metadata file are out of sync.
func (s *Store) Lookup(id string) (domain.Chunk, error) {
	pos, ok := s.byID[id]
	if !ok {
		return domain.Chunk{}, domain.WrapError(domain.ErrChunkNotFound, "lookup chunk", fmt.Errorf("id=%s", id))
	}
	return s.chunks[pos], nil
}

// Chunks returns the chunks in file order.
func (s *Store) Chunks() []domain.Chunk {
	out := make([]domain.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *Store) Len() int {
	return len(s.chunks)
}

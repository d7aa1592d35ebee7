package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
)

// callLog records the order in which collaborators are invoked.
type callLog struct {
	calls []string
}

func (l *callLog) add(name string) {
	if l != nil {
		l.calls = append(l.calls, name)
	}
}

type embedderFake struct {
	log   *callLog
	query string
	err   error
}

func (f *embedderFake) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }
func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.log.add("embed")
	f.query = text
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}
func (f *embedderFake) Dimensions() int { return 2 }

type indexFake struct {
	log  *callLog
	hits []domain.IndexHit
	k    int
	err  error
}

func (f *indexFake) Search(_ context.Context, _ []float32, k int) ([]domain.IndexHit, error) {
	f.log.add("search")
	f.k = k
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *indexFake) IDs() []string {
	ids := make([]string, len(f.hits))
	for i, h := range f.hits {
		ids[i] = h.ChunkID
	}
	return ids
}

func (f *indexFake) Size() int { return len(f.hits) }

type chunkStoreFake struct {
	log    *callLog
	chunks map[string]domain.Chunk
}

func (f *chunkStoreFake) Lookup(id string) (domain.Chunk, error) {
	f.log.add("lookup")
	chunk, ok := f.chunks[id]
	if !ok {
		return domain.Chunk{}, domain.WrapError(domain.ErrChunkNotFound, "lookup chunk", fmt.Errorf("id=%s", id))
	}
	return chunk, nil
}

func (f *chunkStoreFake) Len() int { return len(f.chunks) }

type generatorFake struct {
	log         *callLog
	calls       int
	query       string
	contextText string
	prompt      string
	err         error
}

func (f *generatorFake) GenerateAnswer(_ context.Context, query, contextText string) (string, error) {
	f.log.add("generate")
	f.calls++
	f.query = query
	f.contextText = contextText
	if f.err != nil {
		return "", f.err
	}
	return "answer", nil
}

func (f *generatorFake) GenerateFromPrompt(_ context.Context, prompt string) (string, error) {
	f.log.add("generate")
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return "prompt answer", nil
}

// newStoreFixture builds n chunks with descending scores.
func newStoreFixture(log *callLog, n int) (*indexFake, *chunkStoreFake) {
	index := &indexFake{log: log}
	store := &chunkStoreFake{log: log, chunks: map[string]domain.Chunk{}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		index.hits = append(index.hits, domain.IndexHit{ChunkID: id, Score: 1 - float64(i)/10})
		chunk := domain.Chunk{ID: id, Text: "text " + id}
		if i%2 == 0 {
			chunk.SourceURL = "https://example.com/" + id
		}
		store.chunks[id] = chunk
	}
	return index, store
}

func countBlocks(contextText string) int {
	if contextText == "" {
		return 0
	}
	return len(strings.Split(contextText, "\n\n"))
}

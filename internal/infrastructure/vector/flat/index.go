// Package flat implements an exact nearest-neighbour index over chunk
// embeddings, persisted as a plain binary file.
package flat

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/viterin/vek/vek32"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
)

// FileName is the index file written inside an index directory.
const FileName = "index.bin"

const (
	formatVersion = 1
	maxIDLen      = 4096
	maxModelLen   = 1024
)

var magic = [8]byte{'C', 'T', 'I', 'V', 'I', 'D', 'X', '1'}

// Index holds every chunk vector in memory and answers queries by brute-force
// cosine similarity. After Load it is never mutated, so concurrent Search calls
// need no locking. Add is only meant for the offline build.
type Index struct {
	dimensions int
	model      string
	ids        []string
	vectors    [][]float32
	norms      []float32
	seen       map[string]struct{}
}

// New returns an empty index for building.
func New(dimensions int, model string) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Index{
		dimensions: dimensions,
		model:      model,
		seen:       make(map[string]struct{}),
	}, nil
}

func (ix *Index) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	batch := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != ix.dimensions {
			return fmt.Errorf("vector dimension mismatch for %q: got %d, expected %d", id, len(vectors[i]), ix.dimensions)
		}
		if len(id) > maxIDLen {
			return fmt.Errorf("chunk id too long: %d bytes", len(id))
		}
		if _, dup := ix.seen[id]; dup {
			return fmt.Errorf("duplicate chunk id %q", id)
		}
		if _, dup := batch[id]; dup {
			return fmt.Errorf("duplicate chunk id %q", id)
		}
		batch[id] = struct{}{}
	}
	if ix.seen == nil {
		ix.seen = make(map[string]struct{}, len(ids))
	}
	for i, id := range ids {
		ix.seen[id] = struct{}{}
		vec := make([]float32, ix.dimensions)
		copy(vec, vectors[i])
		ix.ids = append(ix.ids, id)
		ix.vectors = append(ix.vectors, vec)
		ix.norms = append(ix.norms, norm(vec))
	}
	return nil
}

// Search returns min(k, Size()) hits ordered by descending cosine similarity.
// Exact ties keep index order.
func (ix *Index) Search(ctx context.Context, queryVector []float32, k int) ([]domain.IndexHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "flat index search", fmt.Errorf("k must be positive, got %d", k))
	}
	if len(queryVector) != ix.dimensions {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"flat index search",
			fmt.Errorf("query dimension mismatch: got %d, expected %d", len(queryVector), ix.dimensions),
		)
	}
	if len(ix.ids) == 0 {
		return nil, nil
	}

	queryNorm := norm(queryVector)
	hits := make([]domain.IndexHit, len(ix.ids))
	for i, vec := range ix.vectors {
		var score float64
		if queryNorm > 0 && ix.norms[i] > 0 {
			score = float64(vek32.Dot(queryVector, vec)) / float64(queryNorm*ix.norms[i])
		}
		hits[i] = domain.IndexHit{ChunkID: ix.ids[i], Score: score}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// IDs returns chunk ids in index order.
func (ix *Index) IDs() []string {
	out := make([]string, len(ix.ids))
	copy(out, ix.ids)
	return out
}

func (ix *Index) Size() int {
	return len(ix.ids)
}

func (ix *Index) Dimensions() int {
	return ix.dimensions
}

func (ix *Index) Model() string {
	return ix.model
}

// Save writes the index into dir/FileName, replacing any previous file atomically.
//
// Layout (little endian): magic[8], version u32, dimensions u32, model length u32,
// model bytes, count u32, then per entry id length u32, id bytes, dimensions x f32.
func (ix *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := ix.writeTo(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, FileName)); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (ix *Index) writeTo(w io.Writer) error {
	header := []any{magic, uint32(formatVersion), uint32(ix.dimensions), uint32(len(ix.model))}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if _, err := io.WriteString(w, ix.model); err != nil {
		return fmt.Errorf("write model name: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ix.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range ix.ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := io.WriteString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, ix.vectors[i]); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads an index written by Save. path may be the index directory or the
// file itself. A non-empty model or a positive dimensions value must match the
// file header. Every failure is reported as domain.ErrIndexLoad.
//
// The file is a build artifact of cti-index and is trusted; the decoder only
// reads plain numbers and strings and never evaluates content.
func Load(path string, dimensions int, model string) (*Index, error) {
	ix, err := load(path, dimensions, model)
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexLoad, "load vector index", err)
	}
	return ix, nil
}

func load(path string, dimensions int, model string) (*Index, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fileInfo, err := f.Stat()
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)

	var gotMagic [8]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("not a cti vector index: bad magic")
	}
	var version, dim, modelLen uint32
	for _, field := range []*uint32{&version, &dim, &modelLen} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}
	if dim == 0 {
		return nil, fmt.Errorf("index dimensions are zero")
	}
	if dimensions > 0 && int(dim) != dimensions {
		return nil, fmt.Errorf("dimension mismatch: file has %d, embedder produces %d", dim, dimensions)
	}
	if modelLen > maxModelLen {
		return nil, fmt.Errorf("model name length %d exceeds limit", modelLen)
	}
	modelBytes := make([]byte, modelLen)
	if _, err := io.ReadFull(r, modelBytes); err != nil {
		return nil, fmt.Errorf("read model name: %w", err)
	}
	if model != "" && string(modelBytes) != model {
		return nil, fmt.Errorf("embedding model mismatch: file has %q, configured %q", modelBytes, model)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	entrySize := int64(4 + int(dim)*4)
	if int64(count)*entrySize > fileInfo.Size() {
		return nil, fmt.Errorf("entry count %d exceeds file size", count)
	}

	ix := &Index{
		dimensions: int(dim),
		model:      string(modelBytes),
		ids:        make([]string, 0, count),
		vectors:    make([][]float32, 0, count),
		norms:      make([]float32, 0, count),
		seen:       make(map[string]struct{}, count),
	}
	for i := uint32(0); i < count; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("read id len of entry %d: %w", i, err)
		}
		if idLen > maxIDLen {
			return nil, fmt.Errorf("id length %d of entry %d exceeds limit", idLen, i)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, fmt.Errorf("read id of entry %d: %w", i, err)
		}
		id := string(idBytes)
		if _, dup := ix.seen[id]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q at entry %d", id, i)
		}
		ix.seen[id] = struct{}{}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("read vector of entry %d: %w", i, err)
		}
		if !finite(vec) {
			return nil, fmt.Errorf("vector of entry %d contains NaN or Inf", i)
		}
		ix.ids = append(ix.ids, id)
		ix.vectors = append(ix.vectors, vec)
		ix.norms = append(ix.norms, norm(vec))
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after %d entries", count)
	}
	return ix, nil
}

func norm(v []float32) float32 {
	return float32(math.Sqrt(float64(vek32.Dot(v, v))))
}

func finite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

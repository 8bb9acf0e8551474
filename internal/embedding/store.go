package embedding

import (
	"context"
	"fmt"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "resumes"

// Chunk is one indexed slice of a resume.
type Chunk struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

// SearchResult is a chunk returned from a similarity query.
type SearchResult struct {
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Store keeps resume chunks in a chromem-go collection. When persistPath
// is empty the store is in-memory only. A persistent store belongs to
// exactly one process; chromem reads the directory once at open, so a
// second opener would work from a stale snapshot. The worker owns it and
// all writes and deletes arrive as queue jobs.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

func NewStore(persistPath string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	var db *chromem.DB
	var err error

	if persistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "resumes.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", collectionName, err)
	}

	return &Store{db: db, collection: collection}, nil
}

func (s *Store) Add(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		err := s.collection.AddDocument(ctx, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: c.Vector,
			Metadata:  c.Metadata,
		})
		if err != nil {
			return fmt.Errorf("failed to add chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// Query searches chunks whose metadata matches the where filter.
// chromem rejects nResults above the matching document count, so topK
// is clamped to the collection size.
func (s *Store) Query(ctx context.Context, query string, topK int, where map[string]string) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	if n := s.collection.Count(); n < topK {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, query, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

func (s *Store) DeleteWhere(ctx context.Context, where map[string]string) error {
	if len(where) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *Store) Count() int {
	return s.collection.Count()
}

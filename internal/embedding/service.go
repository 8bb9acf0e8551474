package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/tbelova/jobpilot/internal/storage"
)

const (
	chunkSize    = 1200 // runes per chunk
	chunkOverlap = 200
)

// Service indexes resume files into the vector store and answers
// similarity queries scoped to a single resume.
type Service struct {
	storage  storage.Storage
	embedder *Embedder
	store    *Store
}

func NewService(storageService storage.Storage, embedder *Embedder, store *Store) *Service {
	return &Service{
		storage:  storageService,
		embedder: embedder,
		store:    store,
	}
}

// IndexResume downloads the stored file, extracts its text, and writes
// embedded chunks keyed by resume ID. Returns the number of chunks
// indexed. Re-indexing the same resume replaces the previous chunks.
func (s *Service) IndexResume(ctx context.Context, userID, resumeID uuid.UUID, key string) (int, error) {
	body, contentType, err := s.storage.GetFile(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch resume file: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return 0, fmt.Errorf("failed to read resume file: %w", err)
	}

	text, err := extractText(data, contentType)
	if err != nil {
		return 0, fmt.Errorf("failed to extract resume text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("resume %s contains no extractable text", resumeID)
	}

	parts := chunkText(text)

	vectors, err := s.embedder.EmbedBatch(ctx, parts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed resume chunks: %w", err)
	}

	if err := s.store.DeleteWhere(ctx, map[string]string{"resume_id": resumeID.String()}); err != nil {
		slog.Warn("failed to clear previous resume chunks", "resume_id", resumeID, "error", err)
	}

	chunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, Chunk{
			ID:      fmt.Sprintf("%s:%d", resumeID, i),
			Content: part,
			Vector:  vectors[i],
			Metadata: map[string]string{
				"user_id":     userID.String(),
				"resume_id":   resumeID.String(),
				"chunk_index": fmt.Sprintf("%d", i),
			},
		})
	}

	if err := s.store.Add(ctx, chunks); err != nil {
		return 0, err
	}

	slog.Info("resume indexed", "resume_id", resumeID, "chunks", len(chunks))
	return len(chunks), nil
}

// SearchResume runs a similarity query over the chunks of one resume.
func (s *Service) SearchResume(ctx context.Context, resumeID uuid.UUID, query string, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	return s.store.Query(ctx, query, topK, map[string]string{"resume_id": resumeID.String()})
}

// DeleteResume removes all indexed chunks for a resume.
func (s *Service) DeleteResume(ctx context.Context, resumeID uuid.UUID) error {
	return s.store.DeleteWhere(ctx, map[string]string{"resume_id": resumeID.String()})
}

// extractText pulls plain text out of a stored resume. Only PDF and
// plain text are supported; resumes are validated as PDF on upload.
func extractText(data []byte, contentType string) (string, error) {
	if strings.HasPrefix(contentType, "text/") {
		return string(data), nil
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract PDF text: %w", err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("failed to read PDF text: %w", err)
	}
	return sb.String(), nil
}

// chunkText splits text into overlapping rune windows, preferring to
// break at a newline or space near the window end.
func chunkText(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= chunkSize {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := min(start+chunkSize, len(runes))

		if end < len(runes) {
			// walk back to the nearest break, but not past half the window
			for i := end; i > start+chunkSize/2; i-- {
				if runes[i-1] == '\n' || runes[i-1] == ' ' {
					end = i
					break
				}
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		start = max(end-chunkOverlap, start+1)
	}

	return chunks
}

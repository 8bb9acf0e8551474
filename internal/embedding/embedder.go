package embedding

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// maxBatchSize is the OpenAI embeddings API input limit per request.
const maxBatchSize = 100

// Embedder turns text into vectors via the OpenAI embeddings API.
type Embedder struct {
	openAI *openai.Client
	model  string
}

func NewEmbedder(client *openai.Client, model string) *Embedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &Embedder{
		openAI: client,
		model:  model,
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))

		resp, err := e.openAI.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, fmt.Errorf("OpenAI embeddings error: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embeddings response size mismatch: got %d, want %d", len(resp.Data), end-start)
		}

		for _, d := range resp.Data {
			vectors = append(vectors, d.Embedding)
		}
	}

	return vectors, nil
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/tbelova/jobpilot/internal/embedding"
	"github.com/tbelova/jobpilot/internal/event"
)

const (
	// maxToolRounds bounds how many times the model may chain tool calls
	// before the run is aborted.
	maxToolRounds = 4

	resumeSearchTool = "resume_search"
)

const systemPrompt = "You are a career assistant that answers questions about one candidate's resume. " +
	"Use the resume_search tool to look up relevant parts of the resume before answering. " +
	"Ground every claim in the retrieved text; if the resume does not cover a topic, say so. " +
	"Keep answers concise and specific."

// EmitFunc receives progress events as the run produces them. Emission
// must not block; slow consumers are the publisher's problem, not the
// runner's.
type EmitFunc func(ev *event.Event)

// Searcher answers similarity queries scoped to one resume.
type Searcher interface {
	SearchResume(ctx context.Context, resumeID uuid.UUID, query string, topK int) ([]embedding.SearchResult, error)
}

// Input describes one streaming agent run.
type Input struct {
	RunID              string
	InputText          string
	ResumeID           uuid.UUID
	AgentName          string
	CustomInstructions string
}

// Runner executes streaming agent conversations against the OpenAI chat
// API, resolving resume_search tool calls locally.
type Runner struct {
	openAI *openai.Client
	search Searcher
	model  string
}

func NewRunner(client *openai.Client, search Searcher, model string) *Runner {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Runner{
		openAI: client,
		search: search,
		model:  model,
	}
}

var searchToolDef = openai.Tool{
	Type: openai.ToolTypeFunction,
	Function: &openai.FunctionDefinition{
		Name:        resumeSearchTool,
		Description: "Search the candidate's resume for passages relevant to a query.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "What to look for in the resume"},
				"top_k": {"type": "integer", "description": "How many passages to return, default 5"}
			},
			"required": ["query"]
		}`),
	},
}

// Run streams a conversation until the model produces a final answer,
// emitting llm_output chunks and tool events along the way. The returned
// string is the full assembled answer.
func (r *Runner) Run(ctx context.Context, in Input, emit EmitFunc) (string, error) {
	system := systemPrompt
	if in.CustomInstructions != "" {
		system += "\n\nAdditional instructions from the agent owner:\n" + in.CustomInstructions
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: in.InputText},
	}

	var final strings.Builder

	for round := 0; ; round++ {
		if round > maxToolRounds {
			return "", fmt.Errorf("agent run %s exceeded %d tool rounds", in.RunID, maxToolRounds)
		}

		content, toolCalls, err := r.streamOnce(ctx, in.RunID, messages, emit)
		if err != nil {
			return "", err
		}
		final.WriteString(content)

		if len(toolCalls) == 0 {
			break
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
		})

		for _, tc := range toolCalls {
			result := r.execTool(ctx, in, tc, emit)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: tc.ID,
				Content:    result,
			})
		}
	}

	emit(event.NewLLMOutput(in.RunID, "", true))
	return final.String(), nil
}

// streamOnce runs a single streamed completion, emitting each content
// delta and collecting any tool calls the model requested.
func (r *Runner) streamOnce(ctx context.Context, runID string, messages []openai.ChatCompletionMessage, emit EmitFunc) (string, []openai.ToolCall, error) {
	stream, err := r.openAI.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
		Tools:    []openai.Tool{searchToolDef},
	})
	if err != nil {
		return "", nil, fmt.Errorf("OpenAI stream error: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	var calls []openai.ToolCall

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("OpenAI stream error: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			content.WriteString(delta.Content)
			emit(event.NewLLMOutput(runID, delta.Content, false))
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for len(calls) <= idx {
				calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
			}
			if tc.ID != "" {
				calls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[idx].Function.Name = tc.Function.Name
			}
			calls[idx].Function.Arguments += tc.Function.Arguments
		}
	}

	return content.String(), calls, nil
}

// execTool resolves one tool call. Failures are reported back to the
// model as tool output rather than aborting the run.
func (r *Runner) execTool(ctx context.Context, in Input, tc openai.ToolCall, emit EmitFunc) string {
	if tc.Function.Name != resumeSearchTool {
		slog.Warn("agent requested unknown tool", "run_id", in.RunID, "tool", tc.Function.Name)
		return fmt.Sprintf("unknown tool: %s", tc.Function.Name)
	}

	var args struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return fmt.Sprintf("invalid tool arguments: %v", err)
	}

	emit(event.NewToolCall(in.RunID, resumeSearchTool, map[string]any{
		"query": args.Query,
		"top_k": args.TopK,
	}))

	results, err := r.search.SearchResume(ctx, in.ResumeID, args.Query, args.TopK)
	if err != nil {
		slog.Error("resume search failed", "run_id", in.RunID, "error", err)
		output := fmt.Sprintf("search failed: %v", err)
		emit(event.NewToolOutput(in.RunID, resumeSearchTool, output))
		return output
	}

	output := formatSearchResults(results)
	emit(event.NewToolOutput(in.RunID, resumeSearchTool, output))
	return output
}

func formatSearchResults(results []embedding.SearchResult) string {
	if len(results) == 0 {
		return "No matching passages found in the resume."
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[passage %d, similarity %.2f]\n%s", i+1, r.Similarity, strings.TrimSpace(r.Content))
	}
	return sb.String()
}

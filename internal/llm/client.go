// Package llm implements the streaming LLM port against any
// OpenAI-compatible chat completions endpoint. Scenario names map to model
// IDs so different agent roles can run on different models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/config"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// Client speaks the OpenAI chat completions wire format, streamed over SSE.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	scenarios map[string]string
	http      *http.Client
	logger    logging.Logger
}

var _ ports.StreamingLLMClient = (*Client)(nil)

// NewClient builds a client from config. The zero scenario map routes every
// scenario to the default model.
func NewClient(cfg config.LLMConfig, logger logging.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		scenarios: cfg.ScenarioModels,
		http:      &http.Client{Timeout: 10 * time.Minute},
		logger:    logging.OrNop(logger),
	}
}

func (c *Client) modelFor(scenario string) string {
	if m, ok := c.scenarios[scenario]; ok && m != "" {
		return m
	}
	return c.model
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                `json:"name"`
		Description string                `json:"description"`
		Parameters  ports.ParameterSchema `json:"parameters"`
	} `json:"function"`
}

type chatPayload struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

func buildPayload(model string, req ports.ChatRequest, stream bool) chatPayload {
	payload := chatPayload{Model: model, Stream: stream}
	for _, msg := range req.Messages {
		wm := wireMessage{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == ports.ChatTool {
			wm.Name = msg.ToolName
		}
		payload.Messages = append(payload.Messages, wm)
	}
	for _, def := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = def.Name
		wt.Function.Description = def.Description
		wt.Function.Parameters = def.Parameters
		payload.Tools = append(payload.Tools, wt)
	}
	return payload
}

func (c *Client) post(ctx context.Context, payload chatPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int `json:"index"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream issues a streaming completion and forwards deltas to handler. Tool
// call fragments are accumulated per index and emitted whole once the stream
// finishes, in index order.
func (c *Client) Stream(ctx context.Context, req ports.ChatRequest, handler ports.StreamHandler) error {
	resp, err := c.post(ctx, buildPayload(c.modelFor(req.Scenario), req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	type partialCall struct {
		name string
		args strings.Builder
	}
	calls := map[int]*partialCall{}
	maxIndex := -1

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("skipping malformed stream chunk: %v", err)
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.ReasoningContent != "" {
				if err := handler(ports.StreamItem{Kind: ports.StreamThoughtDelta, Text: choice.Delta.ReasoningContent}); err != nil {
					return err
				}
			}
			if choice.Delta.Content != "" {
				if err := handler(ports.StreamItem{Kind: ports.StreamTextDelta, Text: choice.Delta.Content}); err != nil {
					return err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				call := calls[tc.Index]
				if call == nil {
					call = &partialCall{}
					calls[tc.Index] = call
				}
				if tc.Index > maxIndex {
					maxIndex = tc.Index
				}
				if tc.Function.Name != "" {
					call.name = tc.Function.Name
				}
				call.args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read llm stream: %w", err)
	}

	for i := 0; i <= maxIndex; i++ {
		call := calls[i]
		if call == nil || call.name == "" {
			continue
		}
		if err := handler(ports.StreamItem{Kind: ports.StreamToolCall, ToolName: call.name, ToolArgs: call.args.String()}); err != nil {
			return err
		}
	}
	return handler(ports.StreamItem{Kind: ports.StreamStop})
}

// Generate issues a one-shot non-streamed completion.
func (c *Client) Generate(ctx context.Context, scenario, prompt string) (string, error) {
	req := ports.ChatRequest{
		Scenario: scenario,
		Messages: []ports.ChatMessage{{Role: ports.ChatUser, Content: prompt}},
	}
	resp, err := c.post(ctx, buildPayload(c.modelFor(scenario), req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const draftSystemPrompt = `You draft on-chain polls. Reply with a single JSON object and nothing else:
{"subject": string, "description": string, "options": [string, ...] (2 to 8 entries),
"category": string, "settings": {"max_responses": int, "reward_per_response": int,
"duration_days": int, "funding_type": "self-funded"|"crowdfunded",
"distribution_mode": "equal-share"|"fixed-per-response", "target_fund": int}}`

// Client calls an OpenAI-compatible chat-completions endpoint to draft polls.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// Opts configures a generator Client.
type Opts struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a chat-completions backed Generator.
func NewClient(o Opts) *Client {
	if o.Model == "" {
		o.Model = "gpt-4o-mini"
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		apiKey:  o.APIKey,
		model:   o.Model,
		client:  client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// DraftFromPrompt asks the model for a structured draft for the given prompt.
func (c *Client) DraftFromPrompt(ctx context.Context, prompt string) (*PollDraft, error) {
	return c.complete(ctx, []chatMessage{
		{Role: "system", Content: draftSystemPrompt},
		{Role: "user", Content: prompt},
	})
}

// ReviseDraft asks the model to rework a previous draft according to feedback.
func (c *Client) ReviseDraft(ctx context.Context, previous *PollDraft, feedback string) (*PollDraft, error) {
	prev, err := json.Marshal(previous)
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, []chatMessage{
		{Role: "system", Content: draftSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Previous draft:\n%s\n\nRevise it per this feedback:\n%s", prev, feedback)},
	})
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (*PollDraft, error) {
	start := time.Now()

	reqBody, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completion http %d: %s", resp.StatusCode, string(raw[:min(200, len(raw))]))
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrBadDraft)
	}

	draft, err := parseDraft(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	slog.Debug("draft generated",
		"model", c.model,
		"options", len(draft.Options),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return draft, nil
}

// parseDraft extracts the JSON object from the model's reply. Models
// occasionally wrap the object in prose or a code fence.
func parseDraft(content string) (*PollDraft, error) {
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx < 0 || endIdx <= startIdx {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrBadDraft)
	}

	var draft PollDraft
	if err := json.Unmarshal([]byte(content[startIdx:endIdx+1]), &draft); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDraft, err)
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return &draft, nil
}

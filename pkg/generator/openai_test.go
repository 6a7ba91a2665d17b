package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)

		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: reply}})
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestDraftFromPrompt(t *testing.T) {
	reply := `{"subject":"Best release day","description":"Pick a day","options":["Monday","Thursday"],` +
		`"category":"process","settings":{"max_responses":100,"reward_per_response":5,"duration_days":7,` +
		`"funding_type":"self-funded","distribution_mode":"fixed-per-response","target_fund":500}}`
	srv := chatServer(t, reply)
	defer srv.Close()

	c := NewClient(Opts{BaseURL: srv.URL, APIKey: "test", Model: "test-model"})
	draft, err := c.DraftFromPrompt(context.Background(), "poll about release days")
	require.NoError(t, err)

	assert.Equal(t, "Best release day", draft.Subject)
	assert.Equal(t, []string{"Monday", "Thursday"}, draft.Options)
	assert.Equal(t, uint64(100), draft.Settings.MaxResponses)
	assert.Equal(t, uint32(7), draft.Settings.DurationDays)
}

func TestDraftFromPromptFencedReply(t *testing.T) {
	// Models often wrap the object in a code fence; the parser must cope.
	reply := "Here you go:\n```json\n" +
		`{"subject":"S","description":"D","options":["A","B","C"],"category":"","settings":{}}` +
		"\n```"
	srv := chatServer(t, reply)
	defer srv.Close()

	c := NewClient(Opts{BaseURL: srv.URL})
	draft, err := c.DraftFromPrompt(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, draft.Options, 3)
}

func TestParseDraftRejectsBadReplies(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no json at all", content: "I cannot help with that."},
		{name: "single option", content: `{"subject":"S","options":["only one"]}`},
		{name: "missing subject", content: `{"options":["A","B"]}`},
		{name: "malformed json", content: `{"subject":"S","options":["A","B"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDraft(tt.content)
			assert.ErrorIs(t, err, ErrBadDraft)
		})
	}
}

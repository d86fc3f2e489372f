package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

func chatResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1714550400,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]interface{}{"role": "assistant", "content": content},
		}},
		"usage": map[string]interface{}{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	cfg.RequestsPerSecond = 0
	return NewClient(cfg)
}

var beesRequest = topic.GenerationRequest{
	TopicTitle:         "Bees",
	SectionTitle:       "Inside the hive",
	SectionDescription: "How bees live together",
	ChildAge:           7,
}

func TestClient_Generate(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse(`{"content":"Bees live in hives.","facts":["Bees dance."]}`))
	})

	res, err := client.Generate(context.Background(), beesRequest)
	require.NoError(t, err)
	assert.Equal(t, "Bees live in hives.", res.Content)
	assert.Equal(t, []string{"Bees dance."}, res.Facts)

	format := got["response_format"].(map[string]interface{})
	assert.Equal(t, "json_object", format["type"])
	messages := got["messages"].([]interface{})
	assert.Contains(t, messages[1].(map[string]interface{})["content"], "Reader age: 7")
}

func TestClient_Generate_Malformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse("Once upon a time"))
	})

	_, err := client.Generate(context.Background(), beesRequest)
	assert.True(t, shared.IsGenerationFailure(err))
}

func TestClient_Generate_ClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   error
	}{
		{"rate limited", http.StatusTooManyRequests, shared.ErrRateLimited},
		{"server error", http.StatusBadGateway, shared.ErrServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			})

			_, err := client.Generate(context.Background(), beesRequest)
			assert.True(t, shared.IsGenerationFailure(err))
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestClient_Generate_RespectsDeadline(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, beesRequest)
	assert.True(t, shared.IsGenerationFailure(err))
}

func TestClient_Illustrate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1714550400,"data":[{"url":"https://img.example/bees.png"}]}`))
	})

	ref, err := client.Illustrate(context.Background(), "bees")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/bees.png", ref)
}

func TestParseGeneration_StripsFence(t *testing.T) {
	res, err := parseGeneration("```json\n{\"content\":\"Hi\",\"facts\":[]}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Hi", res.Content)

	_, err = parseGeneration(`{"content":"  ","facts":[]}`)
	assert.ErrorIs(t, err, shared.ErrMalformedGeneration)
}

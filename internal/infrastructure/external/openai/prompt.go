package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

const systemPrompt = `You write short encyclopedia sections for curious children.
Use simple sentences, a warm tone and concrete examples. Never include links.
Reply with a JSON object: {"content": string, "facts": [string]}.
"content" is 120 to 250 words. "facts" holds 3 to 5 one-sentence fun facts.`

func userPrompt(req topic.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.TopicTitle)
	fmt.Fprintf(&b, "Section: %s\n", req.SectionTitle)
	if req.SectionDescription != "" {
		fmt.Fprintf(&b, "What this section covers: %s\n", req.SectionDescription)
	}
	fmt.Fprintf(&b, "Reader age: %d\n", req.ChildAge)
	return b.String()
}

// parseGeneration decodes the model's JSON reply. Some models wrap JSON in a
// markdown fence even in JSON mode.
func parseGeneration(raw string) (*topic.GenerationResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out topic.GenerationResult
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, shared.WrapError("topic", "Generate", shared.ErrGenerationFailure, "malformed generator JSON", err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, shared.ErrMalformedGeneration
	}
	return &out, nil
}

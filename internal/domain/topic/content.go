package topic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// MaxFacts bounds the fact list kept from a generation.
const MaxFacts = 8

// SectionContent is the generated body of one section.
type SectionContent struct {
	TopicID      string    `json:"topic_id"`
	SectionIndex int       `json:"section_index"`
	Body         string    `json:"body"`
	Facts        []string  `json:"facts"`
	ImageRef     string    `json:"image_ref,omitempty"`
	WordCount    int       `json:"word_count"`
	GeneratedAt  time.Time `json:"generated_at"`

	// Fallback marks content synthesized from the outline after a failed
	// generation. Fallback content is never persisted.
	Fallback bool `json:"fallback"`
}

// NewSectionContent validates generator output and builds persisted content.
// An empty body is reported as a malformed generation.
func NewSectionContent(topicID string, index int, result *GenerationResult, now time.Time) (*SectionContent, error) {
	if result == nil || strings.TrimSpace(result.Content) == "" {
		return nil, shared.ErrMalformedGeneration
	}

	facts := make([]string, 0, len(result.Facts))
	for _, f := range result.Facts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		facts = append(facts, f)
		if len(facts) == MaxFacts {
			break
		}
	}

	body := strings.TrimSpace(result.Content)
	return &SectionContent{
		TopicID:      topicID,
		SectionIndex: index,
		Body:         body,
		Facts:        facts,
		ImageRef:     strings.TrimSpace(result.ImageRef),
		WordCount:    CountWords(body),
		GeneratedAt:  now.UTC(),
	}, nil
}

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// BuildFallback synthesizes content from the outline title and description
// only. The result is identical for identical input.
func BuildFallback(topicID string, outline SectionOutline) *SectionContent {
	var b strings.Builder
	fmt.Fprintf(&b, "Let's explore %s!", outline.Title)
	if outline.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(outline.Description)
	}
	b.WriteString("\n\nThe full story for this part is still being written. Check back soon to learn even more!")

	facts := []string{}
	if outline.Description != "" {
		facts = append(facts, outline.Description)
	}

	body := b.String()
	return &SectionContent{
		TopicID:      topicID,
		SectionIndex: outline.Index,
		Body:         body,
		Facts:        facts,
		WordCount:    CountWords(body),
		Fallback:     true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERATOR CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// GenerationRequest is what the generator needs to write one section.
type GenerationRequest struct {
	TopicTitle         string
	SectionTitle       string
	SectionDescription string
	ChildAge           int
}

// GenerationResult is the raw generator output.
type GenerationResult struct {
	Content  string   `json:"content"`
	Facts    []string `json:"facts"`
	ImageRef string   `json:"image_ref,omitempty"`
}

// Generator writes section prose. Implementations may fail or time out; the
// caller imposes the deadline through ctx.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// Illustrator produces an optional illustration and returns its reference.
type Illustrator interface {
	Illustrate(ctx context.Context, prompt string) (string, error)
}

// IllustrationPrompt builds the image prompt for a section.
func IllustrationPrompt(topicTitle string, outline SectionOutline, childAge int) string {
	return fmt.Sprintf(
		"A friendly, colorful children's book illustration for a %d year old about %q: %s. %s. No text in the image.",
		childAge, topicTitle, outline.Title, outline.Description,
	)
}

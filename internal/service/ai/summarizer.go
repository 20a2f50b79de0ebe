package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// DefaultTemperature keeps summaries close to the source transcript.
const DefaultTemperature = float32(0.5)

var ErrEmptySummary = errors.New("summarizer returned an empty summary")

// Summarizer condenses a plain-text conversation transcript with a chat model.
type Summarizer struct {
	chain       compose.Runnable[map[string]any, *schema.Message]
	temperature float32
}

// NewSummarizer compiles the summary chain over chatModel.
func NewSummarizer(ctx context.Context, chatModel model.BaseChatModel, temperature float32) (*Summarizer, error) {
	if chatModel == nil {
		return nil, errors.New("summarizer requires a chat model")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(summarySystemPrompt),
		schema.UserMessage("{transcript}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile summary chain: %w", err)
	}

	return &Summarizer{chain: runnable, temperature: temperature}, nil
}

// Summarize returns the condensed form of transcript.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{"transcript": transcript},
		compose.WithChatModelOption(model.WithTemperature(s.temperature)))
	if err != nil {
		return "", fmt.Errorf("failed to run summary chain: %w", err)
	}

	summary := strings.TrimSpace(response.Content)
	if summary == "" {
		return "", ErrEmptySummary
	}

	log.Printf("[ai] summarized transcript: %d -> %d chars", len(transcript), len(summary))
	return summary, nil
}

package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	reply       string
	err         error
	input       []*schema.Message
	temperature *float32
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	f.temperature = model.GetCommonOptions(&model.Options{}, opts...).Temperature
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestSummarizeSendsDirectiveAndTranscript(t *testing.T) {
	fake := &fakeChatModel{reply: "  user likes {braces} and tea  "}
	summarizer, err := NewSummarizer(context.Background(), fake, DefaultTemperature)
	if err != nil {
		t.Fatalf("NewSummarizer err: %v", err)
	}

	transcript := "user: I like tea {really}\nassistant: noted\n"
	summary, err := summarizer.Summarize(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Summarize err: %v", err)
	}

	if summary != "user likes {braces} and tea" {
		t.Fatalf("unexpected summary %q", summary)
	}
	if len(fake.input) != 2 {
		t.Fatalf("expected system + user message, got %d", len(fake.input))
	}
	if fake.input[0].Role != schema.System || fake.input[0].Content != summarySystemPrompt {
		t.Fatalf("unexpected system message: %+v", fake.input[0])
	}
	if fake.input[1].Content != transcript {
		t.Fatalf("transcript altered: %q", fake.input[1].Content)
	}
	if fake.temperature == nil || *fake.temperature != DefaultTemperature {
		t.Fatalf("expected temperature %.1f", DefaultTemperature)
	}
}

func TestSummarizeEmptyReply(t *testing.T) {
	summarizer, err := NewSummarizer(context.Background(), &fakeChatModel{reply: "   "}, DefaultTemperature)
	if err != nil {
		t.Fatalf("NewSummarizer err: %v", err)
	}

	if _, err := summarizer.Summarize(context.Background(), "user: hi\n"); !errors.Is(err, ErrEmptySummary) {
		t.Fatalf("expected ErrEmptySummary, got %v", err)
	}
}

func TestSummarizeModelError(t *testing.T) {
	boom := errors.New("boom")
	summarizer, err := NewSummarizer(context.Background(), &fakeChatModel{err: boom}, DefaultTemperature)
	if err != nil {
		t.Fatalf("NewSummarizer err: %v", err)
	}

	if _, err := summarizer.Summarize(context.Background(), "user: hi\n"); err == nil {
		t.Fatal("expected model error to propagate")
	}
}

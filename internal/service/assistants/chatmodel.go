package assistants

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel adapts the chat-completions endpoint to eino's model.BaseChatModel so it can
// be composed into chains next to other eino models.
type ChatModel struct {
	client      *Client
	modelName   string
	temperature *float32
}

// NewChatModel binds a completion model name to the client.
func NewChatModel(client *Client, modelName string, temperature *float32) (*ChatModel, error) {
	if client == nil {
		return nil, ErrNotConfigured
	}
	if modelName == "" {
		return nil, errors.New("chat model name is required")
	}
	return &ChatModel{client: client, modelName: modelName, temperature: temperature}, nil
}

// Generate runs one completion over input.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	name := m.modelName
	options := model.GetCommonOptions(&model.Options{Model: &name, Temperature: m.temperature}, opts...)

	messages := make([]ChatMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		messages = append(messages, ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	modelName := m.modelName
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	text, err := m.client.ChatCompletion(ctx, modelName, options.Temperature, messages)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream is not supported by the completion endpoint wrapper; the full reply is delivered as one chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

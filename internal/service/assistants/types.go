package assistants

// EventMessageDelta is the run event carrying incremental message content.
const EventMessageDelta = "thread.message.delta"

// EventRunCompleted marks a run that finished successfully.
const EventRunCompleted = "thread.run.completed"

// ContentBlock is one typed block of message content. Only text blocks carry Text.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"-"`
}

// RunEvent is one server-sent event of a streaming run.
type RunEvent struct {
	Kind    string
	Content []ContentBlock
}

// ThreadMessage is one entry of a remote thread listing.
type ThreadMessage struct {
	ID      string
	Role    string
	Content []ContentBlock
}

// Assistant is the subset of the remote assistant configuration this service manages.
type Assistant struct {
	ID           string `json:"id"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions"`
}

// ChatMessage is a chat-completion input message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireText struct {
	Value string `json:"value"`
}

type wireContent struct {
	Index int       `json:"index,omitempty"`
	Type  string    `json:"type"`
	Text  *wireText `json:"text,omitempty"`
}

func (w wireContent) block() ContentBlock {
	block := ContentBlock{Type: w.Type}
	if w.Text != nil {
		block.Text = w.Text.Value
	}
	return block
}

func toBlocks(in []wireContent) []ContentBlock {
	out := make([]ContentBlock, 0, len(in))
	for _, c := range in {
		out = append(out, c.block())
	}
	return out
}

type wireMessage struct {
	ID      string        `json:"id"`
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type messageList struct {
	Data    []wireMessage `json:"data"`
	HasMore bool          `json:"has_more"`
	LastID  string        `json:"last_id"`
}

type messageDelta struct {
	ID    string `json:"id"`
	Delta struct {
		Content []wireContent `json:"content"`
	} `json:"delta"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

type runFailure struct {
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

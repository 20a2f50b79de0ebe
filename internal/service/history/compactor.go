package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lifeddx/steve/backend/internal/service/assistants"
)

const (
	// PageSize is the largest page the remote listing accepts.
	PageSize = 100

	timestampLayout = "2006-01-02 15:04:05"
)

var ErrNoThread = errors.New("conversation has no remote thread yet")

// Remote is the slice of the hosted assistants API compaction needs.
type Remote interface {
	ListMessages(ctx context.Context, threadID string, limit int, after string) ([]assistants.ThreadMessage, error)
	GetAssistant(ctx context.Context, assistantID string) (assistants.Assistant, error)
	UpdateAssistant(ctx context.Context, assistantID, instructions string) error
}

// Summarizer condenses a plain-text transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Result describes one completed compaction.
type Result struct {
	Entries       int     `json:"entries"`
	TranscriptLen int     `json:"transcriptLength"`
	SummaryLen    int     `json:"summaryLength"`
	Ratio         float64 `json:"ratio"`
	Timestamp     string  `json:"timestamp"`
	Summary       string  `json:"summary"`
}

// Compactor folds a thread summary into an assistant's standing instructions.
type Compactor struct {
	remote     Remote
	summarizer Summarizer
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCompactor returns a Compactor using the local wall clock for timestamps.
func NewCompactor(remote Remote, summarizer Summarizer) *Compactor {
	return &Compactor{
		remote:     remote,
		summarizer: summarizer,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Compact summarizes the whole thread and appends the summary to the instructions of
// assistantID. Instructions are only written once every remote read and the summary
// succeeded. Runs for the same assistant are serialized inside this process; separate
// processes can still interleave and the last write wins.
func (c *Compactor) Compact(ctx context.Context, threadID, assistantID string) (Result, error) {
	if threadID == "" {
		return Result{}, ErrNoThread
	}

	lock := c.assistantLock(assistantID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := FetchAll(ctx, c.remote, threadID)
	if err != nil {
		return Result{}, err
	}

	transcript := RenderTranscript(entries)
	summary, err := c.summarizer.Summarize(ctx, transcript)
	if err != nil {
		return Result{}, fmt.Errorf("summarize thread %s: %w", threadID, err)
	}

	assistant, err := c.remote.GetAssistant(ctx, assistantID)
	if err != nil {
		return Result{}, fmt.Errorf("get assistant %s: %w", assistantID, err)
	}

	stamp := c.now().Format(timestampLayout)
	if err := c.remote.UpdateAssistant(ctx, assistantID, AppendSummary(assistant.Instructions, stamp, summary)); err != nil {
		return Result{}, fmt.Errorf("update assistant %s: %w", assistantID, err)
	}

	result := Result{
		Entries:       len(entries),
		TranscriptLen: len(transcript),
		SummaryLen:    len(summary),
		Timestamp:     stamp,
		Summary:       summary,
	}
	if result.TranscriptLen > 0 {
		result.Ratio = float64(result.SummaryLen) / float64(result.TranscriptLen)
	}

	log.Printf("[history] compacted thread=%s into assistant=%s entries=%d size decrease=%.3f", threadID, assistantID, result.Entries, result.Ratio)
	return result, nil
}

func (c *Compactor) assistantLock(assistantID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[assistantID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[assistantID] = lock
	}
	return lock
}

// FetchAll pages through the thread and returns its entries oldest first. The listing
// is newest first, so pages are concatenated as received and the whole result reversed.
func FetchAll(ctx context.Context, remote Remote, threadID string) ([]assistants.ThreadMessage, error) {
	var all []assistants.ThreadMessage
	after := ""
	for {
		page, err := remote.ListMessages(ctx, threadID, PageSize, after)
		if err != nil {
			return nil, fmt.Errorf("list thread %s: %w", threadID, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		after = page[len(page)-1].ID
	}

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// RenderTranscript renders one "role: text" line per entry, joining text blocks with a space.
func RenderTranscript(entries []assistants.ThreadMessage) string {
	var b strings.Builder
	for _, entry := range entries {
		parts := make([]string, 0, len(entry.Content))
		for _, block := range entry.Content {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		b.WriteString(entry.Role)
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// AppendSummary keeps the existing instructions as a prefix and adds a stamped summary.
func AppendSummary(instructions, stamp, summary string) string {
	return instructions + "\n" + stamp + "\n" + summary
}

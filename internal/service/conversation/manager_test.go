package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeddx/steve/backend/internal/model/chat"
	"github.com/lifeddx/steve/backend/internal/model/specialist"
	"github.com/lifeddx/steve/backend/internal/service/assistants"
	"github.com/lifeddx/steve/backend/internal/service/session"
)

type fakeRemote struct {
	createCalls int
	added       []string
	runs        []string
	events      []assistants.RunEvent
	streamErr   error
	addErr      error
	runErr      error
}

func (f *fakeRemote) CreateThread(context.Context) (string, error) {
	f.createCalls++
	return "thread_1", nil
}

func (f *fakeRemote) AddMessage(_ context.Context, threadID, role, content string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, threadID+"|"+role+"|"+content)
	return nil
}

func (f *fakeRemote) StreamRun(_ context.Context, threadID, assistantID string) (*schema.StreamReader[assistants.RunEvent], error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	f.runs = append(f.runs, threadID+"|"+assistantID)

	reader, writer := schema.Pipe[assistants.RunEvent](len(f.events) + 1)
	for _, event := range f.events {
		writer.Send(event, nil)
	}
	if f.streamErr != nil {
		writer.Send(assistants.RunEvent{}, f.streamErr)
	}
	writer.Close()
	return reader, nil
}

func textDelta(fragments ...string) assistants.RunEvent {
	blocks := make([]assistants.ContentBlock, 0, len(fragments))
	for _, f := range fragments {
		blocks = append(blocks, assistants.ContentBlock{Type: "text", Text: f})
	}
	return assistants.RunEvent{Kind: assistants.EventMessageDelta, Content: blocks}
}

func newTestSession() (*session.Session, specialist.Store) {
	registry := specialist.NewMemoryStore(specialist.Seed())
	return session.New("sess-1", registry.Default()), registry
}

func TestSendTurnStreamsAccumulatedText(t *testing.T) {
	remote := &fakeRemote{events: []assistants.RunEvent{
		{Kind: "thread.run.created"},
		textDelta("Hi"),
		{Kind: "thread.message.completed", Content: []assistants.ContentBlock{{Type: "text", Text: "ignored"}}},
		textDelta(" there"),
		{Kind: "thread.run.completed"},
	}}
	mgr := NewManager(remote, "https://example.com/user.png")
	sess, _ := newTestSession()

	var renders []string
	reply, err := mgr.SendTurn(context.Background(), sess, "Hello", func(text string) {
		renders = append(renders, text)
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, []string{"Hi", "Hi there"}, renders)
	assert.Equal(t, []string{"thread_1|user|Hello"}, remote.added)
	assert.Equal(t, []string{"thread_1|asst_uiNCPyuVGVSXiQA7HzeumuCV"}, remote.runs)

	transcript := sess.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, chat.RoleUser, transcript[0].Role)
	assert.Equal(t, "Hello", transcript[0].Text)
	assert.Equal(t, "https://example.com/user.png", transcript[0].AvatarURL)
	assert.Equal(t, chat.RoleAssistant, transcript[1].Role)
	assert.Equal(t, "Hi there", transcript[1].Text)
	assert.Equal(t, sess.Specialist().AvatarURL, transcript[1].AvatarURL)
}

func TestSendTurnSkipsNonTextBlocks(t *testing.T) {
	remote := &fakeRemote{events: []assistants.RunEvent{
		{Kind: assistants.EventMessageDelta, Content: []assistants.ContentBlock{
			{Type: "image_file"},
			{Type: "text", Text: "a"},
			{Type: "text", Text: "b"},
		}},
	}}
	mgr := NewManager(remote, "")
	sess, _ := newTestSession()

	var renders []string
	reply, err := mgr.SendTurn(context.Background(), sess, "x", func(text string) { renders = append(renders, text) })
	require.NoError(t, err)
	assert.Equal(t, "ab", reply)
	assert.Equal(t, []string{"a", "ab"}, renders)
}

func TestTranscriptGrowsByTwoPerTurn(t *testing.T) {
	remote := &fakeRemote{events: []assistants.RunEvent{textDelta("ok")}}
	mgr := NewManager(remote, "")
	sess, _ := newTestSession()

	for i := 1; i <= 3; i++ {
		_, err := mgr.SendTurn(context.Background(), sess, "again", nil)
		require.NoError(t, err)
		assert.Len(t, sess.Transcript(), 2*i)
	}

	// identical text is not deduplicated remotely
	assert.Len(t, remote.added, 3)
	assert.Equal(t, 1, remote.createCalls)
}

func TestSendTurnUsesSelectedSpecialistOnSameThread(t *testing.T) {
	remote := &fakeRemote{events: []assistants.RunEvent{textDelta("ok")}}
	mgr := NewManager(remote, "")
	sess, registry := newTestSession()

	_, err := mgr.SendTurn(context.Background(), sess, "first", nil)
	require.NoError(t, err)
	require.NoError(t, sess.Select(registry, "Hypothesis Explorer"))
	_, err = mgr.SendTurn(context.Background(), sess, "second", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"thread_1|asst_uiNCPyuVGVSXiQA7HzeumuCV",
		"thread_1|asst_qEXSokDpCnEdyKVuvAxaXajj",
	}, remote.runs)
	assert.Equal(t, 1, remote.createCalls)
}

func TestSendTurnFailuresLeaveTranscriptUntouched(t *testing.T) {
	boom := errors.New("boom")
	cases := map[string]*fakeRemote{
		"append fails": {addErr: boom},
		"run fails":    {runErr: boom},
		"stream fails": {events: []assistants.RunEvent{textDelta("partial")}, streamErr: boom},
	}

	for name, remote := range cases {
		t.Run(name, func(t *testing.T) {
			mgr := NewManager(remote, "")
			sess, _ := newTestSession()

			_, err := mgr.SendTurn(context.Background(), sess, "Hello", nil)
			assert.ErrorIs(t, err, ErrServiceUnavailable)
			assert.Empty(t, sess.Transcript())
		})
	}
}

func TestSendTurnWithoutRemote(t *testing.T) {
	mgr := NewManager(nil, "")
	sess, _ := newTestSession()

	_, err := mgr.SendTurn(context.Background(), sess, "Hello", nil)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Empty(t, sess.Transcript())
	assert.False(t, mgr.Available())
}

func TestSendTurnRejectsEmptyText(t *testing.T) {
	mgr := NewManager(&fakeRemote{}, "")
	sess, _ := newTestSession()

	_, err := mgr.SendTurn(context.Background(), sess, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestEnsureThreadIsIdempotent(t *testing.T) {
	remote := &fakeRemote{}
	mgr := NewManager(remote, "")
	sess, _ := newTestSession()

	first, err := mgr.EnsureThread(context.Background(), sess)
	require.NoError(t, err)
	second, err := mgr.EnsureThread(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, remote.createCalls)
}

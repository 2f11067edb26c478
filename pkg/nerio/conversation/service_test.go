package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerio-dev/nerio/pkg/nerio/llm"
)

func newTestChatService(provider llm.Provider, maxTokens int) (*ChatService, *fakeRepo) {
	repo := newFakeRepo()
	store := NewStore(NewCache(time.Minute), repo, repo, nil)
	optimizer := NewOptimizer(maxTokens, fixedTokenizer{100}, provider, nil)
	return NewChatService(store, NewSemaphoreRegistry(), provider, optimizer, "persona", nil), repo
}

func TestChatPersistsExchange(t *testing.T) {
	provider := &fakeProvider{queue: []*llm.Completion{
		{Content: "hello there", Usage: llm.TokenUsage{TotalTokens: 50}},
	}}
	svc, repo := newTestChatService(provider, 10000)

	reply, err := svc.Chat(context.Background(), "i1", "s1", "hi")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("reply = %q, want hello there", reply)
	}

	session, err := repo.GetWithMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetWithMessages failed: %v", err)
	}
	if session == nil {
		t.Fatal("session was not created")
	}
	if len(session.Messages) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(session.Messages))
	}
	if !session.Messages[0].IsUser || session.Messages[0].Content != "hi" {
		t.Errorf("first message = %+v, want the user turn", session.Messages[0])
	}
	if session.Messages[1].IsUser || session.Messages[1].Content != "hello there" {
		t.Errorf("second message = %+v, want the assistant turn", session.Messages[1])
	}
	if !session.Messages[1].CreatedAt.After(session.Messages[0].CreatedAt) {
		t.Error("assistant turn does not sort after the user turn")
	}
}

func TestChatSendsHistoryInOrder(t *testing.T) {
	provider := &fakeProvider{queue: []*llm.Completion{
		{Content: "first reply", Usage: llm.TokenUsage{TotalTokens: 50}},
		{Content: "second reply", Usage: llm.TokenUsage{TotalTokens: 80}},
	}}
	svc, _ := newTestChatService(provider, 10000)

	ctx := context.Background()
	if _, err := svc.Chat(ctx, "i1", "s1", "one"); err != nil {
		t.Fatalf("first Chat failed: %v", err)
	}
	if _, err := svc.Chat(ctx, "i1", "s1", "two"); err != nil {
		t.Fatalf("second Chat failed: %v", err)
	}

	second := provider.call(1)
	want := []struct {
		role    string
		content string
	}{
		{llm.RoleSystem, "persona"},
		{llm.RoleUser, "one"},
		{llm.RoleAssistant, "first reply"},
		{llm.RoleUser, "two"},
	}
	if len(second) != len(want) {
		t.Fatalf("second prompt = %d messages, want %d", len(second), len(want))
	}
	for i, w := range want {
		if second[i].Role != w.role || second[i].Content != w.content {
			t.Errorf("prompt[%d] = %+v, want {%s %s}", i, second[i], w.role, w.content)
		}
	}
}

func TestChatEmptyResponse(t *testing.T) {
	provider := &fakeProvider{queue: []*llm.Completion{{Content: "  \n "}}}
	svc, repo := newTestChatService(provider, 10000)

	_, err := svc.Chat(context.Background(), "i1", "s1", "hi")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("error = %v, want ErrEmptyResponse", err)
	}

	// Nothing persisted for a failed turn.
	session, _ := repo.GetWithMessages(context.Background(), "s1")
	if session != nil && len(session.Messages) != 0 {
		t.Errorf("persisted messages = %d, want 0", len(session.Messages))
	}
}

func TestChatProviderErrorPropagates(t *testing.T) {
	boom := errors.New("model down")
	provider := &fakeProvider{err: boom}
	svc, _ := newTestChatService(provider, 10000)

	if _, err := svc.Chat(context.Background(), "i1", "s1", "hi"); !errors.Is(err, boom) {
		t.Errorf("error = %v, want provider failure", err)
	}
}

func TestSetPersonaAppliesToNextTurn(t *testing.T) {
	provider := &fakeProvider{queue: []*llm.Completion{
		{Content: "first reply", Usage: llm.TokenUsage{TotalTokens: 50}},
		{Content: "second reply", Usage: llm.TokenUsage{TotalTokens: 80}},
	}}
	svc, _ := newTestChatService(provider, 10000)

	ctx := context.Background()
	if _, err := svc.Chat(ctx, "i1", "s1", "one"); err != nil {
		t.Fatalf("first Chat failed: %v", err)
	}

	svc.SetPersona("updated persona")
	if _, err := svc.Chat(ctx, "i1", "s1", "two"); err != nil {
		t.Fatalf("second Chat failed: %v", err)
	}

	first := provider.call(0)
	if first[0].Content != "persona" {
		t.Errorf("first system message = %q, want persona", first[0].Content)
	}
	second := provider.call(1)
	if second[0].Role != llm.RoleSystem || second[0].Content != "updated persona" {
		t.Errorf("second system message = %+v, want the updated persona", second[0])
	}
}

func TestChatCompactionFoldsRecapIntoPersona(t *testing.T) {
	provider := &fakeProvider{queue: []*llm.Completion{
		// The turn itself blows the budget, triggering compaction.
		{Content: "big reply", Usage: llm.TokenUsage{TotalTokens: 2000}},
		// The summary exchange.
		{Content: "the recap", Usage: llm.TokenUsage{TotalTokens: 100}},
		// The next turn.
		{Content: "later reply", Usage: llm.TokenUsage{TotalTokens: 200}},
	}}
	svc, _ := newTestChatService(provider, 1000)

	ctx := context.Background()
	if _, err := svc.Chat(ctx, "i1", "s1", "hi"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if provider.callCount() != 2 {
		t.Fatalf("provider calls = %d, want turn plus summary", provider.callCount())
	}

	if _, err := svc.Chat(ctx, "i1", "s1", "again"); err != nil {
		t.Fatalf("second Chat failed: %v", err)
	}

	next := provider.call(2)
	if next[0].Role != llm.RoleSystem {
		t.Fatalf("prompt[0] role = %s, want system", next[0].Role)
	}
	if !strings.Contains(next[0].Content, "persona") || !strings.Contains(next[0].Content, "the recap") {
		t.Errorf("persona message does not fold in the recap: %q", next[0].Content)
	}
}

func TestChatCompactionFailureIsNonFatal(t *testing.T) {
	provider := &fakeProvider{queue: []*llm.Completion{
		{Content: "big reply", Usage: llm.TokenUsage{TotalTokens: 2000}},
		// Blank summary aborts the optimization pass.
		{Content: ""},
	}}
	svc, repo := newTestChatService(provider, 1000)

	reply, err := svc.Chat(context.Background(), "i1", "s1", "hi")
	if err != nil {
		t.Fatalf("Chat failed despite compaction failure: %v", err)
	}
	if reply != "big reply" {
		t.Errorf("reply = %q, want big reply", reply)
	}

	// The exchange itself still landed.
	session, _ := repo.GetWithMessages(context.Background(), "s1")
	if len(session.Messages) != 2 {
		t.Errorf("persisted messages = %d, want 2", len(session.Messages))
	}
}

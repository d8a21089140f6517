package contextpg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/contextpg/contextpg/hooks"
	"github.com/contextpg/contextpg/storage"
	"github.com/contextpg/contextpg/task"
	"github.com/contextpg/contextpg/tokens"
	"github.com/contextpg/contextpg/types"
)

// captureStore records what the manager persists, in memory.
type captureStore struct {
	states map[string][]*task.State
	events []*storage.CompactionEvent
}

func newCaptureStore() *captureStore {
	return &captureStore{states: make(map[string][]*task.State)}
}

func (s *captureStore) SaveTaskStates(ctx context.Context, sessionID string, states []*task.State) error {
	s.states[sessionID] = states
	return nil
}

func (s *captureStore) GetTaskStates(ctx context.Context, sessionID string) ([]*task.State, error) {
	return s.states[sessionID], nil
}

func (s *captureStore) ReplaceMessages(ctx context.Context, sessionID string, messages []*types.Message) error {
	return nil
}

func (s *captureStore) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	return nil, nil
}

func (s *captureStore) SaveCompactionEvent(ctx context.Context, event *storage.CompactionEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *captureStore) GetCompactionHistory(ctx context.Context, sessionID string) ([]*storage.CompactionEvent, error) {
	return s.events, nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{WithNowFunc(func() time.Time { return testNow })}, opts...)
	m, err := New(Config{SessionID: "test-session"}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func msg(id string, role types.Role, text string, at time.Time) *types.Message {
	return types.NewTextMessage(id, role, text, at)
}

// filler builds a ~200 token message of neutral conversation text.
func filler(id string, role types.Role, at time.Time) *types.Message {
	text := strings.Repeat("background discussion about the weather over the mountains ", 12)
	return msg(id, role, text, at)
}

// verifySubsequence checks that got preserves the relative order of want
// with no duplicates and no fabricated messages.
func verifySubsequence(t *testing.T, input, got []*types.Message) {
	t.Helper()

	pos := make(map[string]int, len(input))
	for i, m := range input {
		pos[m.ID] = i
	}

	last := -1
	seen := make(map[string]bool)
	for _, m := range got {
		i, ok := pos[m.ID]
		if !ok {
			t.Fatalf("trimmed history contains fabricated message %s", m.ID)
		}
		if seen[m.ID] {
			t.Fatalf("trimmed history contains duplicate message %s", m.ID)
		}
		seen[m.ID] = true
		if i <= last {
			t.Fatalf("trimmed history reorders message %s", m.ID)
		}
		last = i
	}
}

func TestCompactContextNoCompactionNeeded(t *testing.T) {
	m := newTestManager(t)

	messages := []*types.Message{
		msg("m1", types.RoleUser, "please fix the login bug when you can", testNow.Add(-time.Hour)),
		msg("m2", types.RoleAssistant, "looking into the login flow now", testNow.Add(-50*time.Minute)),
	}

	result, err := m.CompactContext(context.Background(), messages, Options{MaxTokens: 100000})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if result.Strategy != StrategyNone {
		t.Errorf("Strategy = %s, want %s", result.Strategy, StrategyNone)
	}
	if result.TokensRemoved != 0 {
		t.Errorf("TokensRemoved = %d, want 0", result.TokensRemoved)
	}
	if result.PreservationRatio != 1.0 {
		t.Errorf("PreservationRatio = %v, want 1.0", result.PreservationRatio)
	}
	if len(result.TrimmedMessages) != len(messages) {
		t.Errorf("trimmed %d messages, want all %d", len(result.TrimmedMessages), len(messages))
	}
}

func TestCompactContextPreservesErrorMessage(t *testing.T) {
	m := newTestManager(t)
	old := testNow.Add(-3 * time.Hour)

	var messages []*types.Message
	for i := 0; i < 50; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		if i == 10 {
			messages = append(messages, msg("err", types.RoleAssistant,
				"error: compilation failed in the auth module, see the attached trace", old))
			continue
		}
		messages = append(messages, filler(msgID(i), role, old))
	}

	result, err := m.CompactContext(context.Background(), messages, Options{
		MaxTokens:      2000,
		PreserveErrors: true,
	})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if result.Strategy != StrategyCriticalFirst {
		t.Errorf("Strategy = %s, want %s", result.Strategy, StrategyCriticalFirst)
	}

	found := false
	for _, kept := range result.TrimmedMessages {
		if kept.ID == "err" {
			found = true
		}
	}
	if !found {
		t.Error("error message was dropped despite PreserveErrors")
	}

	verifySubsequence(t, messages, result.TrimmedMessages)

	if result.PreservationRatio <= 0 || result.PreservationRatio > 1.1 {
		t.Errorf("PreservationRatio = %v, want within (0, 1.1]", result.PreservationRatio)
	}
	if got := result.TokensPreserved + result.TokensRemoved; got != tokens.SumMessages(messages) {
		t.Errorf("preserved %d + removed %d = %d, want original total %d",
			result.TokensPreserved, result.TokensRemoved, got, tokens.SumMessages(messages))
	}
}

func TestCompactContextDropsNoiseFirst(t *testing.T) {
	m := newTestManager(t)
	old := testNow.Add(-3 * time.Hour)

	var messages []*types.Message
	for i := 0; i < 10; i++ {
		if i == 2 {
			messages = append(messages, msg("noise", types.RoleUser, "ok", old))
			continue
		}
		messages = append(messages, filler(msgID(i), types.RoleUser, old))
	}

	result, err := m.CompactContext(context.Background(), messages, Options{MaxTokens: 600})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if result.Strategy != StrategyRecentWithImportance {
		t.Errorf("Strategy = %s, want %s", result.Strategy, StrategyRecentWithImportance)
	}
	for _, kept := range result.TrimmedMessages {
		if kept.ID == "noise" {
			t.Error("noise message survived token pressure")
		}
	}
	// The trailing messages are always retained.
	if len(result.TrimmedMessages) < DefaultMinRecentMessages {
		t.Errorf("kept %d messages, want at least %d", len(result.TrimmedMessages), DefaultMinRecentMessages)
	}
	verifySubsequence(t, messages, result.TrimmedMessages)
}

func TestCompactContextRecencyGuaranteeOverflowsBudget(t *testing.T) {
	m := newTestManager(t)
	old := testNow.Add(-3 * time.Hour)

	var messages []*types.Message
	for i := 0; i < 6; i++ {
		messages = append(messages, filler(msgID(i), types.RoleUser, old))
	}

	// Budget far below the cost of the trailing five messages.
	result, err := m.CompactContext(context.Background(), messages, Options{
		MaxTokens:      100,
		PreserveErrors: true,
	})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if len(result.TrimmedMessages) != DefaultMinRecentMessages {
		t.Fatalf("kept %d messages, want the trailing %d", len(result.TrimmedMessages), DefaultMinRecentMessages)
	}
	for i, kept := range result.TrimmedMessages {
		if want := msgID(i + 1); kept.ID != want {
			t.Errorf("kept[%d] = %s, want %s", i, kept.ID, want)
		}
	}
	if result.TokensPreserved <= 100 {
		t.Errorf("TokensPreserved = %d, expected bounded overflow past the budget", result.TokensPreserved)
	}
}

func TestCompactContextKeepsHighScoringOldMessages(t *testing.T) {
	m := newTestManager(t)
	old := testNow.Add(-3 * time.Hour)

	messages := []*types.Message{
		msg("err", types.RoleAssistant, "error: migration failed, the schema version is invalid", old),
	}
	for i := 0; i < 9; i++ {
		messages = append(messages, filler(msgID(i), types.RoleUser, old))
	}

	result, err := m.CompactContext(context.Background(), messages, Options{MaxTokens: 1200})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if result.Strategy != StrategyRecentWithImportance {
		t.Fatalf("Strategy = %s, want %s", result.Strategy, StrategyRecentWithImportance)
	}
	found := false
	for _, kept := range result.TrimmedMessages {
		if kept.ID == "err" {
			found = true
		}
	}
	if !found {
		t.Error("high-scoring old message was dropped by the recency strategy")
	}
	verifySubsequence(t, messages, result.TrimmedMessages)
}

func TestCompactContextContinuationPrompt(t *testing.T) {
	m := newTestManager(t)
	old := testNow.Add(-2 * time.Hour)

	messages := []*types.Message{
		msg("u1", types.RoleUser, "Please help me: 1. add tests 2. fix the bug 3. update docs", old),
		msg("a1", types.RoleAssistant, "I've completed adding tests", old.Add(time.Minute)),
	}
	for i := 0; i < 20; i++ {
		messages = append(messages, filler(msgID(i), types.RoleUser, old.Add(2*time.Minute)))
	}

	result, err := m.CompactContext(context.Background(), messages, Options{
		MaxTokens:               1000,
		PreserveTaskContext:     true,
		TaskContinuationPrompts: true,
	})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if len(result.PreservedTasks) != 1 {
		t.Fatalf("PreservedTasks = %d, want 1", len(result.PreservedTasks))
	}
	if result.ContinuationPrompt == "" {
		t.Fatal("expected a continuation prompt")
	}
	if !strings.Contains(result.ContinuationPrompt, "1. fix the bug") {
		t.Errorf("prompt missing first remaining subtask: %q", result.ContinuationPrompt)
	}
	if !strings.Contains(result.ContinuationPrompt, "2. update docs") {
		t.Errorf("prompt missing second remaining subtask: %q", result.ContinuationPrompt)
	}
}

func TestCompactContextEmptyInput(t *testing.T) {
	m := newTestManager(t)

	result, err := m.CompactContext(context.Background(), nil, Options{MaxTokens: 100})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}
	if result.Strategy != StrategyNone {
		t.Errorf("Strategy = %s, want %s", result.Strategy, StrategyNone)
	}
	if len(result.TrimmedMessages) != 0 {
		t.Errorf("trimmed %d messages from empty input", len(result.TrimmedMessages))
	}
	if result.PreservationRatio != 1.0 {
		t.Errorf("PreservationRatio = %v, want 1.0", result.PreservationRatio)
	}
}

func TestCompactContextInvalidOptions(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CompactContext(context.Background(), nil, Options{MaxTokens: 0})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("error = %v, want ErrInvalidOptions", err)
	}

	var ctxErr *ContextError
	if !errors.As(err, &ctxErr) {
		t.Fatal("error is not a *ContextError")
	}
	if ctxErr.SessionID != "test-session" {
		t.Errorf("SessionID = %s, want test-session", ctxErr.SessionID)
	}
}

func TestCompactContextFiresHooks(t *testing.T) {
	registry := hooks.NewRegistry()
	var before, after int
	var summary *hooks.Summary
	registry.OnBeforeCompaction(func(ctx context.Context, sessionID string, currentTokens int) error {
		before++
		return nil
	})
	registry.OnAfterCompaction(func(ctx context.Context, s *hooks.Summary) error {
		after++
		summary = s
		return nil
	})

	m := newTestManager(t, WithHooks(registry))
	old := testNow.Add(-3 * time.Hour)

	var messages []*types.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, filler(msgID(i), types.RoleUser, old))
	}

	if _, err := m.CompactContext(context.Background(), messages, Options{MaxTokens: 600}); err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if before != 1 || after != 1 {
		t.Errorf("hooks fired before=%d after=%d, want 1/1", before, after)
	}
	if summary == nil || summary.SessionID != "test-session" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.MessagesRemoved == 0 {
		t.Error("summary reports no messages removed under token pressure")
	}
}

func TestCompactContextSafetyMarginBoundsOverflow(t *testing.T) {
	m := newTestManager(t)
	old := testNow.Add(-3 * time.Hour)

	var messages []*types.Message
	for i := 0; i < 20; i++ {
		messages = append(messages, filler(msgID(i), types.RoleUser, old))
	}

	// The recency guarantee alone exceeds the budget here, so older
	// budget-fill messages must be evicted to get back under the margin.
	result, err := m.CompactContext(context.Background(), messages, Options{
		MaxTokens:      1000,
		PreserveErrors: true,
	})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	bound := int(1000 * (1 + DefaultSafetyMargin))
	if result.TokensPreserved > bound {
		t.Errorf("TokensPreserved = %d, want at most %d", result.TokensPreserved, bound)
	}
	if len(result.TrimmedMessages) != DefaultMinRecentMessages {
		t.Fatalf("kept %d messages, want the trailing %d", len(result.TrimmedMessages), DefaultMinRecentMessages)
	}
	for i, kept := range result.TrimmedMessages {
		if want := msgID(15 + i); kept.ID != want {
			t.Errorf("kept[%d] = %s, want %s", i, kept.ID, want)
		}
	}
}

func TestCompactContextReportsCountedTokens(t *testing.T) {
	registry := hooks.NewRegistry()
	var summary *hooks.Summary
	registry.OnAfterCompaction(func(ctx context.Context, s *hooks.Summary) error {
		summary = s
		return nil
	})

	// A counter without a client falls back to the estimator, which keeps
	// the assertion deterministic.
	counter := tokens.NewCounter(nil, "claude-sonnet-4-5")
	m := newTestManager(t, WithHooks(registry), WithCounter(counter))
	old := testNow.Add(-3 * time.Hour)

	var messages []*types.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, filler(msgID(i), types.RoleUser, old))
	}

	result, err := m.CompactContext(context.Background(), messages, Options{MaxTokens: 600})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if summary == nil {
		t.Fatal("after-compaction hook did not fire")
	}
	if want := tokens.SumMessages(result.TrimmedMessages); summary.CountedTokens != want {
		t.Errorf("CountedTokens = %d, want %d", summary.CountedTokens, want)
	}
	if summary.CountedTokens == 0 {
		t.Error("CountedTokens = 0 with a counter configured")
	}
}

func TestCompactContextPersistsCompactionEvent(t *testing.T) {
	store := newCaptureStore()
	m := newTestManager(t, WithStore(store))
	old := testNow.Add(-2 * time.Hour)

	messages := []*types.Message{
		msg("u1", types.RoleUser, "Please help me: 1. add tests 2. fix the bug", old),
	}
	for i := 0; i < 10; i++ {
		messages = append(messages, filler(msgID(i), types.RoleUser, old))
	}

	result, err := m.CompactContext(context.Background(), messages, Options{
		MaxTokens:               600,
		PreserveTaskContext:     true,
		TaskContinuationPrompts: true,
	})
	if err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	if len(store.events) != 1 {
		t.Fatalf("persisted %d compaction events, want 1", len(store.events))
	}
	event := store.events[0]
	if event.SessionID != "test-session" {
		t.Errorf("SessionID = %s, want test-session", event.SessionID)
	}
	if event.Strategy != result.Strategy.String() {
		t.Errorf("Strategy = %s, want %s", event.Strategy, result.Strategy)
	}
	if event.PreservedTokens != result.TokensPreserved {
		t.Errorf("PreservedTokens = %d, want %d", event.PreservedTokens, result.TokensPreserved)
	}
	if event.ContinuationPrompt != result.ContinuationPrompt {
		t.Errorf("ContinuationPrompt = %q, want %q", event.ContinuationPrompt, result.ContinuationPrompt)
	}
	if len(event.PreservedTaskIDs) != 1 {
		t.Errorf("PreservedTaskIDs = %v, want the one active task", event.PreservedTaskIDs)
	}
	// Wall-clock duration of the call, not the injected test clock.
	if event.DurationMs < 0 {
		t.Errorf("DurationMs = %d, want non-negative", event.DurationMs)
	}

	if states := store.states["test-session"]; len(states) != 1 {
		t.Errorf("persisted %d task states, want 1", len(states))
	}
}

func TestGetContextMetricsIdempotent(t *testing.T) {
	m := newTestManager(t)

	messages := []*types.Message{
		msg("m1", types.RoleUser, "please fix the login bug when you can", testNow.Add(-time.Hour)),
		msg("m2", types.RoleAssistant, "error: login handler panics on empty token", testNow.Add(-50*time.Minute)),
		msg("m3", types.RoleUser, "ok", testNow.Add(-40*time.Minute)),
	}

	beforeMetrics := m.GetContextMetrics(messages)

	if _, err := m.CompactContext(context.Background(), messages, Options{MaxTokens: 100000}); err != nil {
		t.Fatalf("CompactContext() error = %v", err)
	}

	afterMetrics := m.GetContextMetrics(messages)

	if beforeMetrics.TotalTokens != afterMetrics.TotalTokens {
		t.Errorf("TotalTokens changed: %d != %d", beforeMetrics.TotalTokens, afterMetrics.TotalTokens)
	}
	if beforeMetrics.TotalMessages != afterMetrics.TotalMessages {
		t.Errorf("TotalMessages changed: %d != %d", beforeMetrics.TotalMessages, afterMetrics.TotalMessages)
	}
	if beforeMetrics.ErrorMessages != 1 {
		t.Errorf("ErrorMessages = %d, want 1", beforeMetrics.ErrorMessages)
	}
	if beforeMetrics.AverageImportance <= 0 {
		t.Errorf("AverageImportance = %v, want positive", beforeMetrics.AverageImportance)
	}
	if beforeMetrics.PreservationEfficiency <= 0 {
		t.Errorf("PreservationEfficiency = %v, want positive", beforeMetrics.PreservationEfficiency)
	}
}

func msgID(i int) string {
	return "m" + string(rune('A'+i/26)) + string(rune('a'+i%26))
}

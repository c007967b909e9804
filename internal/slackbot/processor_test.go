package slackbot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/gateway"
	"github.com/meridianhq/meridian/internal/pipeline"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSlackAPI struct {
	mu               sync.Mutex
	postedTexts      []string
	reactionsAdded   []string
	reactionsRemoved []string
}

func (f *fakeSlackAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "UBOT"}, nil
}

func (f *fakeSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	_, values, err := slack.UnsafeApplyMsgOptions("tok", channelID, "https://slack.com/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.mu.Lock()
	f.postedTexts = append(f.postedTexts, values.Get("text"))
	f.mu.Unlock()
	return channelID, "999.000", nil
}

func (f *fakeSlackAPI) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	f.mu.Lock()
	f.reactionsAdded = append(f.reactionsAdded, name)
	f.mu.Unlock()
	return nil
}

func (f *fakeSlackAPI) RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	f.mu.Lock()
	f.reactionsRemoved = append(f.reactionsRemoved, name)
	f.mu.Unlock()
	return nil
}

func (f *fakeSlackAPI) posted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.postedTexts...)
}

type fakeCatalog struct{}

func (fakeCatalog) ListCollections(ctx context.Context, force bool) []catalog.Collection {
	return []catalog.Collection{{ID: "c1", Name: "Finance"}}
}

func (fakeCatalog) ListDatasets(ctx context.Context, collectionID string, force bool) []catalog.Dataset {
	return []catalog.Dataset{{ID: "d1", Name: "Sales_2024", CollectionID: "c1", CollectionName: "Finance"}}
}

type fakeExecutor struct{ panics bool }

func (f fakeExecutor) ExecuteQuery(ctx context.Context, datasetID, statement string) (catalog.QueryResult, error) {
	if f.panics {
		panic("executor exploded")
	}
	return catalog.QueryResult{Success: true, Rows: []map[string]any{{"Value": 1}}, RowCount: 1}, nil
}

func newTestGateway(t *testing.T, exec pipeline.QueryExecutor) *gateway.Service {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC))
	asm, err := pipeline.NewAssembler(pipeline.AssemblerConfig{Logger: newTestLogger(), Clock: clock, Catalog: fakeCatalog{}})
	require.NoError(t, err)
	rsn, err := pipeline.NewReasoner(pipeline.ReasonerConfig{Logger: newTestLogger(), Clock: clock, LLM: pipeline.DisabledLLM{}})
	require.NoError(t, err)
	eng, err := pipeline.NewEngine(pipeline.EngineConfig{
		Logger: newTestLogger(), Clock: clock, Assembler: asm, Reasoner: rsn, Executor: exec,
	})
	require.NoError(t, err)
	gw, err := gateway.NewService(gateway.Config{
		Logger: newTestLogger(), Engine: eng, Assembler: asm, Reasoner: rsn, Catalog: fakeCatalog{},
	})
	require.NoError(t, err)
	return gw
}

func newTestProcessor(t *testing.T, api SlackAPI, exec pipeline.QueryExecutor) *Processor {
	t.Helper()
	p, err := NewProcessor(ProcessorConfig{
		Logger:    newTestLogger(),
		API:       api,
		Gateway:   newTestGateway(t, exec),
		BotUserID: "UBOT",
	})
	require.NoError(t, err)
	return p
}

func TestSlackbot_ProcessMessage_PostsReply(t *testing.T) {
	t.Parallel()

	api := &fakeSlackAPI{}
	p := newTestProcessor(t, api, fakeExecutor{})

	ev := &slackevents.MessageEvent{Channel: "D123", User: "U1", Text: "how are sales doing?", TimeStamp: "111.222"}
	p.ProcessMessage(context.Background(), ev, messageKey(ev.Channel, ev.TimeStamp), false)

	posted := api.posted()
	require.Len(t, posted, 1)
	require.Contains(t, posted[0], "Analysis Results")
	require.Equal(t, []string{processingReaction}, api.reactionsAdded)
	require.Equal(t, []string{processingReaction}, api.reactionsRemoved)
	require.True(t, p.HasResponded("D123|111.222"))
}

func TestSlackbot_ProcessMessage_Deduplicates(t *testing.T) {
	t.Parallel()

	api := &fakeSlackAPI{}
	p := newTestProcessor(t, api, fakeExecutor{})

	ev := &slackevents.MessageEvent{Channel: "D123", User: "U1", Text: "sales?", TimeStamp: "111.222"}
	key := messageKey(ev.Channel, ev.TimeStamp)
	p.ProcessMessage(context.Background(), ev, key, false)
	p.ProcessMessage(context.Background(), ev, key, false)

	require.Len(t, api.posted(), 1)
}

func TestSlackbot_ProcessMessage_StripsMentionInChannels(t *testing.T) {
	t.Parallel()

	api := &fakeSlackAPI{}
	p := newTestProcessor(t, api, fakeExecutor{})

	ev := &slackevents.MessageEvent{Channel: "C777", User: "U1", Text: "<@UBOT> how are sales doing?", TimeStamp: "5.5"}
	p.ProcessMessage(context.Background(), ev, messageKey(ev.Channel, ev.TimeStamp), true)

	require.Len(t, api.posted(), 1)
}

func TestSlackbot_ProcessMessage_IgnoresEmptyAfterStrip(t *testing.T) {
	t.Parallel()

	api := &fakeSlackAPI{}
	p := newTestProcessor(t, api, fakeExecutor{})

	ev := &slackevents.MessageEvent{Channel: "C777", User: "U1", Text: "<@UBOT>", TimeStamp: "6.6"}
	p.ProcessMessage(context.Background(), ev, messageKey(ev.Channel, ev.TimeStamp), true)

	require.Empty(t, api.posted())
	require.False(t, p.HasResponded("C777|6.6"))
}

func TestSlackbot_ProcessMessage_SanitizesFailure(t *testing.T) {
	t.Parallel()

	api := &fakeSlackAPI{}
	p := newTestProcessor(t, api, fakeExecutor{panics: true})

	ev := &slackevents.MessageEvent{Channel: "D123", User: "U1", Text: "sales?", TimeStamp: "7.7"}
	p.ProcessMessage(context.Background(), ev, messageKey(ev.Channel, ev.TimeStamp), false)

	posted := api.posted()
	require.Len(t, posted, 1)
	require.True(t, strings.HasPrefix(posted[0], "Sorry, I encountered an error"))
	require.Contains(t, posted[0], "internal error")
}

func TestSlackbot_RemoveBotMention(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t, &fakeSlackAPI{}, fakeExecutor{})
	tests := []struct {
		in   string
		want string
	}{
		{"<@UBOT> show sales", "show sales"},
		{"show sales <@UBOT>", "show sales"},
		{"<@UBOT|meridian> show sales", "show sales"},
		{"<@UOTHER> show sales", "<@UOTHER> show sales"},
		{"no mention here", "no mention here"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, p.RemoveBotMention(tt.in))
	}
}

func TestSlackbot_MentionsUser(t *testing.T) {
	t.Parallel()

	require.True(t, MentionsUser("<@UBOT> hello", "UBOT"))
	require.True(t, MentionsUser("hey <@UBOT|meridian>", "UBOT"))
	require.False(t, MentionsUser("<@UOTHER> hello", "UBOT"))
	require.False(t, MentionsUser("no mention", "UBOT"))
	require.False(t, MentionsUser("<@UBOT>", ""))
}

func TestSlackbot_SanitizeErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"rate limit", "got 429 from upstream", "I'm currently experiencing high demand. Please try again in a moment."},
		{"auth token", "failed to acquire token: 401", "I'm having trouble authenticating with the data service. Please contact your administrator."},
		{"connectivity", "dial tcp: connection refused", "I'm having trouble connecting to the data service. Please try again in a moment."},
		{"query trouble", "query execution failed on dataset", "I encountered an issue processing your query. Please try rephrasing your question or providing more specific details."},
		{"generic with detail", "something odd happened", "Sorry, I encountered an error: something odd happened"},
		{"only internal noise", "Request-ID: abc\nhttps://internal.example.com", "Sorry, I encountered an error. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, SanitizeErrorMessage(tt.in))
		})
	}
}

func TestSlackbot_RespondedCleanup(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t, &fakeSlackAPI{}, fakeExecutor{})
	p.MarkResponded("old")
	p.respondedMessagesMu.Lock()
	p.respondedMessages["old"] = time.Now().Add(-2 * time.Hour)
	p.respondedMessagesMu.Unlock()
	p.MarkResponded("fresh")

	p.cleanup()

	require.False(t, p.HasResponded("old"))
	require.True(t, p.HasResponded("fresh"))
}

func TestSlackbot_ConfigValidate(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, fakeExecutor{})

	t.Run("socket mode from app token", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: newTestLogger(), Gateway: gw, BotToken: "xoxb-1", AppToken: "xapp-1"}
		require.NoError(t, cfg.Validate())
		require.Equal(t, ModeSocket, cfg.Mode)
		require.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	})

	t.Run("http mode requires signing secret", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: newTestLogger(), Gateway: gw, BotToken: "xoxb-1"}
		require.ErrorContains(t, cfg.Validate(), "signing secret is required")
	})

	t.Run("socket mode requires app token", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: newTestLogger(), Gateway: gw, BotToken: "xoxb-1", Mode: ModeSocket}
		require.ErrorContains(t, cfg.Validate(), "app token is required")
	})

	t.Run("missing bot token", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: newTestLogger(), Gateway: gw}
		require.ErrorContains(t, cfg.Validate(), "bot token is required")
	})
}

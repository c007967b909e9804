package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/meridianhq/meridian/internal/gateway"
)

const (
	respondedMessagesMaxAge = 1 * time.Hour
	cleanupInterval         = 5 * time.Minute
	processingReaction      = "hourglass_flowing_sand"
)

// SlackAPI is the slice of the Slack client the processor needs.
type SlackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
}

type ProcessorConfig struct {
	Logger  *slog.Logger
	API     SlackAPI
	Gateway *gateway.Service

	// BotUserID enables mention stripping; it is set after auth test.
	BotUserID string
}

func (c *ProcessorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.API == nil {
		return errors.New("slack API is required")
	}
	if c.Gateway == nil {
		return errors.New("gateway is required")
	}
	return nil
}

// Processor turns Slack messages into analysis runs and posts the replies.
// The responded-message map prevents duplicate replies when Slack redelivers
// an event.
type Processor struct {
	cfg ProcessorConfig
	log *slog.Logger

	botUserID string

	respondedMessages   map[string]time.Time
	respondedMessagesMu sync.RWMutex
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Processor{
		cfg:               cfg,
		log:               cfg.Logger.With("component", "slackbot"),
		botUserID:         cfg.BotUserID,
		respondedMessages: make(map[string]time.Time),
	}, nil
}

// SetBotUserID records the bot identity discovered by the auth test.
func (p *Processor) SetBotUserID(id string) {
	p.botUserID = id
}

// StartCleanup starts the background eviction of old responded-message keys.
func (p *Processor) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.cleanup()
			}
		}
	}()
}

func (p *Processor) cleanup() {
	now := time.Now()
	p.respondedMessagesMu.Lock()
	for key, at := range p.respondedMessages {
		if now.Sub(at) > respondedMessagesMaxAge {
			delete(p.respondedMessages, key)
		}
	}
	p.respondedMessagesMu.Unlock()
}

// HasResponded reports whether a message key was already answered.
func (p *Processor) HasResponded(messageKey string) bool {
	p.respondedMessagesMu.RLock()
	_, ok := p.respondedMessages[messageKey]
	p.respondedMessagesMu.RUnlock()
	return ok
}

// MarkResponded records a message key as answered.
func (p *Processor) MarkResponded(messageKey string) {
	p.respondedMessagesMu.Lock()
	p.respondedMessages[messageKey] = time.Now()
	p.respondedMessagesMu.Unlock()
}

var mentionRegex = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

// MentionsUser reports whether the text mentions the given user ID.
func MentionsUser(text, userID string) bool {
	if userID == "" {
		return false
	}
	for _, match := range mentionRegex.FindAllStringSubmatch(text, -1) {
		if len(match) >= 2 && match[1] == userID {
			return true
		}
	}
	return false
}

// RemoveBotMention strips the bot's own mention from message text.
func (p *Processor) RemoveBotMention(text string) string {
	if p.botUserID == "" {
		return strings.TrimSpace(text)
	}
	cleaned := mentionRegex.ReplaceAllStringFunc(text, func(m string) string {
		sub := mentionRegex.FindStringSubmatch(m)
		if len(sub) >= 2 && sub[1] == p.botUserID {
			return ""
		}
		return m
	})
	return strings.TrimSpace(cleaned)
}

// ProcessMessage answers one Slack message. isChannel messages had to carry a
// bot mention to get here; DMs always qualify.
func (p *Processor) ProcessMessage(ctx context.Context, ev *slackevents.MessageEvent, messageKey string, isChannel bool) {
	startTime := time.Now()
	defer func() {
		MessageProcessingDuration.Observe(time.Since(startTime).Seconds())
	}()

	if p.HasResponded(messageKey) {
		EventsDuplicateTotal.Inc()
		return
	}

	p.log.Info("Processing message",
		"channel", ev.Channel,
		"user", ev.User,
		"message_ts", ev.TimeStamp,
		"text_preview", TruncateString(ev.Text, 100),
		"is_channel", isChannel,
	)

	text := strings.TrimSpace(ev.Text)
	if isChannel {
		text = p.RemoveBotMention(text)
	}
	if text == "" {
		MessagesIgnoredTotal.WithLabelValues("empty_text").Inc()
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	item := slack.ItemRef{Channel: ev.Channel, Timestamp: ev.TimeStamp}
	if err := p.cfg.API.AddReactionContext(ctx, processingReaction, item); err != nil {
		SlackAPIErrorsTotal.WithLabelValues("add_reaction").Inc()
		p.log.Debug("Failed to add processing reaction", "error", err)
	}

	result := p.cfg.Gateway.RunIntelligentAnalysis(ctx, text, "standard")
	p.MarkResponded(messageKey)

	reply := strings.TrimSpace(result.Response)
	if !result.Success {
		reply = SanitizeErrorMessage(result.Error)
	}
	if reply == "" {
		reply = "I didn't get a response. Please try again."
	}

	p.postReply(ctx, ev.Channel, threadTS, reply, result.Success)

	if err := p.cfg.API.RemoveReactionContext(ctx, processingReaction, item); err != nil {
		SlackAPIErrorsTotal.WithLabelValues("remove_reaction").Inc()
	}
}

func (p *Processor) postReply(ctx context.Context, channel, threadTS, reply string, success bool) {
	options := []slack.MsgOption{
		slack.MsgOptionText(reply, false),
		slack.MsgOptionTS(threadTS),
	}
	if blocks := ConvertMarkdownToBlocks(reply, p.log); blocks != nil {
		options = append(options, slack.MsgOptionBlocks(blocks...))
	}

	_, respTS, err := p.cfg.API.PostMessageContext(ctx, channel, options...)
	if err != nil {
		SlackAPIErrorsTotal.WithLabelValues("post_message").Inc()
		MessagesPostedTotal.WithLabelValues("error").Inc()
		p.log.Error("Failed to post reply", "channel", channel, "error", err)
		return
	}

	status := "success"
	if !success {
		status = "sanitized_error"
	}
	MessagesPostedTotal.WithLabelValues(status).Inc()
	p.log.Info("Reply posted", "channel", channel, "thread_ts", threadTS, "reply_ts", respTS)
}

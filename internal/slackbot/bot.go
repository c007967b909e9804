// Package slackbot is the Slack channel adapter: it receives events over
// socket mode (development) or the HTTP Events API (production) and answers
// DMs and channel mentions through the gateway.
package slackbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/meridianhq/meridian/internal/gateway"
)

type Mode string

const (
	ModeSocket Mode = "socket"
	ModeHTTP   Mode = "http"

	DefaultHTTPAddr = ":3000"
)

type Config struct {
	Logger  *slog.Logger
	Gateway *gateway.Service

	BotToken      string
	AppToken      string
	SigningSecret string

	// Mode defaults to socket when an app token is present, HTTP otherwise.
	Mode     Mode
	HTTPAddr string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Gateway == nil {
		return errors.New("gateway is required")
	}
	if c.BotToken == "" {
		return errors.New("bot token is required")
	}
	if c.Mode == "" {
		if c.AppToken != "" {
			c.Mode = ModeSocket
		} else {
			c.Mode = ModeHTTP
		}
	}
	if c.Mode == ModeSocket && c.AppToken == "" {
		return errors.New("app token is required for socket mode")
	}
	if c.Mode == ModeHTTP && c.SigningSecret == "" {
		return errors.New("signing secret is required for HTTP mode")
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	return nil
}

// Bot wires the Slack client, the event routing, and the message processor.
type Bot struct {
	cfg       Config
	log       *slog.Logger
	api       *slack.Client
	processor *Processor
}

func New(cfg Config) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var opts []slack.Option
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	api := slack.New(cfg.BotToken, opts...)

	processor, err := NewProcessor(ProcessorConfig{
		Logger:  cfg.Logger,
		API:     api,
		Gateway: cfg.Gateway,
	})
	if err != nil {
		return nil, err
	}

	return &Bot{
		cfg:       cfg,
		log:       cfg.Logger.With("component", "slackbot"),
		api:       api,
		processor: processor,
	}, nil
}

// Run serves Slack events until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	auth, err := b.api.AuthTestContext(ctx)
	if err != nil {
		b.log.Warn("Slack auth test failed, continuing anyway", "error", err)
	} else {
		b.processor.SetBotUserID(auth.UserID)
		b.log.Info("Slack bot authenticated", "bot_user_id", auth.UserID, "team", auth.Team)
	}

	b.processor.StartCleanup(ctx)

	if b.cfg.Mode == ModeSocket {
		return b.runSocketMode(ctx)
	}
	return b.runHTTPMode(ctx)
}

func (b *Bot) runSocketMode(ctx context.Context) error {
	client := socketmode.New(b.api)

	go func() {
		if err := client.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Error("Socket mode client error", "error", err)
		}
	}()

	b.log.Info("Slack bot running in socket mode")
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-client.Events:
			if !ok {
				return nil
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				b.log.Info("Socket mode connected")
			case socketmode.EventTypeConnectionError:
				b.log.Warn("Socket mode connection error")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				b.handleEvent(ctx, apiEvent)
			}
		}
	}
}

func (b *Bot) runHTTPMode(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", func(w http.ResponseWriter, r *http.Request) {
		b.handleEventsRequest(ctx, w, r)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			b.log.Error("failed to write readyz response", "error", err)
		}
	})

	server := &http.Server{
		Addr:              b.cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		b.log.Info("Slack bot listening for HTTP events", "addr", b.cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.log.Error("Slack HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown slack event server: %w", err)
	}
	return nil
}

func (b *Bot) handleEventsRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	verifier, err := slack.NewSecretsVerifier(r.Header, b.cfg.SigningSecret)
	if err != nil {
		http.Error(w, "verification failed", http.StatusBadRequest)
		return
	}
	if _, err := verifier.Write(body); err != nil {
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}
	if err := verifier.Ensure(); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "failed to parse event", http.StatusBadRequest)
		return
	}

	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "failed to parse challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte(challenge.Challenge)); err != nil {
			b.log.Error("failed to write challenge response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	b.handleEvent(ctx, event)
}

// handleEvent routes one Events API callback. Channel mentions arrive as
// app_mention; message events are answered only in DMs so a mention is never
// processed twice.
func (b *Bot) handleEvent(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}

	switch inner := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		EventsReceivedTotal.WithLabelValues("app_mention").Inc()
		msg := &slackevents.MessageEvent{
			Channel:         inner.Channel,
			User:            inner.User,
			Text:            inner.Text,
			TimeStamp:       inner.TimeStamp,
			ThreadTimeStamp: inner.ThreadTimeStamp,
		}
		go b.processor.ProcessMessage(ctx, msg, messageKey(inner.Channel, inner.TimeStamp), true)

	case *slackevents.MessageEvent:
		EventsReceivedTotal.WithLabelValues("message").Inc()
		if inner.BotID != "" || inner.SubType != "" {
			MessagesIgnoredTotal.WithLabelValues("bot_or_subtype").Inc()
			return
		}
		if !strings.HasPrefix(inner.Channel, "D") {
			MessagesIgnoredTotal.WithLabelValues("channel_without_mention").Inc()
			return
		}
		go b.processor.ProcessMessage(ctx, inner, messageKey(inner.Channel, inner.TimeStamp), false)
	}
}

func messageKey(channel, ts string) string {
	return channel + "|" + ts
}

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/meridianhq/meridian/internal/httpapi"
	"github.com/meridianhq/meridian/internal/logger"
	"github.com/meridianhq/meridian/internal/mcpserver"
	"github.com/meridianhq/meridian/internal/slackbot"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func newServeCmd(verbose *bool) *cobra.Command {
	var (
		listenAddr    string
		metricsAddr   string
		mcpListenAddr string
		slackEnabled  bool
		slackMode     string
		slackHTTPAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis gateway services.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(*verbose)
			cfg := loadEnvConfig()

			application, err := buildApp(log, cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			errCh := make(chan error, 4)

			if metricsAddr != "" {
				go func() {
					listener, err := net.Listen("tcp", metricsAddr)
					if err != nil {
						log.Error("failed to start prometheus metrics server listener", "error", err)
						errCh <- err
						return
					}
					log.Info("prometheus metrics server listening", "address", listener.Addr().String())
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					if err := http.Serve(listener, mux); err != nil {
						errCh <- err
					}
				}()
			}

			apiServer, err := httpapi.New(httpapi.Config{
				Logger:     log,
				ListenAddr: listenAddr,
				Gateway:    application.Gateway,
			})
			if err != nil {
				return fmt.Errorf("failed to create HTTP API server: %w", err)
			}
			go func() {
				if err := apiServer.Run(ctx); err != nil {
					errCh <- fmt.Errorf("HTTP API server: %w", err)
				}
			}()

			if slackEnabled || cfg.SlackBotToken != "" {
				bot, err := slackbot.New(slackbot.Config{
					Logger:        log,
					Gateway:       application.Gateway,
					BotToken:      cfg.SlackBotToken,
					AppToken:      cfg.SlackAppToken,
					SigningSecret: cfg.SlackSigningSecret,
					Mode:          slackbot.Mode(slackMode),
					HTTPAddr:      slackHTTPAddr,
				})
				if err != nil {
					return fmt.Errorf("failed to create Slack bot: %w", err)
				}
				go func() {
					if err := bot.Run(ctx); err != nil {
						errCh <- fmt.Errorf("slack bot: %w", err)
					}
				}()
			}

			if mcpListenAddr != "" {
				mcpServer, err := mcpserver.New(mcpserver.Config{
					Logger:        log,
					Gateway:       application.Gateway,
					Catalog:       application.Catalog,
					Version:       version,
					ListenAddr:    mcpListenAddr,
					AllowedTokens: cfg.MCPAllowedTokens,
				})
				if err != nil {
					return fmt.Errorf("failed to create MCP server: %w", err)
				}
				go func() {
					if err := mcpServer.Run(ctx); err != nil {
						errCh <- fmt.Errorf("MCP server: %w", err)
					}
				}()
			}

			log.Info("Meridian gateway running",
				"version", version,
				"ai_enabled", application.AIEnabled,
				"listen_addr", listenAddr,
			)

			select {
			case <-ctx.Done():
				log.Info("Shutting down", "reason", ctx.Err())
				return nil
			case err := <-errCh:
				log.Error("Service error causing shutdown", "error", err)
				return err
			}
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen-addr", defaultListenAddr, "HTTP API listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", defaultMetricsAddr, "Prometheus metrics listen address (empty to disable)")
	cmd.Flags().StringVar(&mcpListenAddr, "mcp-listen-addr", "", "MCP server listen address (empty to disable)")
	cmd.Flags().BoolVar(&slackEnabled, "slack", false, "run the Slack bot (also enabled when SLACK_BOT_TOKEN is set)")
	cmd.Flags().StringVar(&slackMode, "slack-mode", "", "Slack mode: 'socket' (dev) or 'http' (prod); defaults to socket when SLACK_APP_TOKEN is set")
	cmd.Flags().StringVar(&slackHTTPAddr, "slack-http-addr", slackbot.DefaultHTTPAddr, "Slack events listen address (HTTP mode)")

	return cmd
}

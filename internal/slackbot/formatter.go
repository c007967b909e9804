package slackbot

import (
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	slackutil "github.com/takara2314/slack-go-util"
)

// ConvertMarkdownToBlocks converts markdown text to Slack Block Kit blocks.
// A conversion failure returns nil so the caller posts plain text instead.
func ConvertMarkdownToBlocks(text string, log *slog.Logger) []slack.Block {
	blocks, err := slackutil.ConvertMarkdownTextToBlocks(text)
	if err != nil {
		log.Debug("failed to convert markdown to blocks, using plain text", "error", err)
		return nil
	}
	return blocks
}

// SanitizeErrorMessage converts raw pipeline and collaborator errors into
// user-friendly replies. Internal details (request IDs, URLs) never reach the
// channel.
func SanitizeErrorMessage(errMsg string) string {
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate_limit") || strings.Contains(errMsg, "rate limit") {
		return "I'm currently experiencing high demand. Please try again in a moment."
	}

	if strings.Contains(errMsg, "token") ||
		strings.Contains(errMsg, "unauthorized") ||
		strings.Contains(errMsg, "401") ||
		strings.Contains(errMsg, "403") {
		return "I'm having trouble authenticating with the data service. Please contact your administrator."
	}

	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "EOF") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "timeout") {
		return "I'm having trouble connecting to the data service. Please try again in a moment."
	}

	if strings.Contains(errMsg, "query") || strings.Contains(errMsg, "EVALUATE") {
		return "I encountered an issue processing your query. Please try rephrasing your question or providing more specific details."
	}

	lines := strings.Split(errMsg, "\n")
	var cleanLines []string
	for _, line := range lines {
		if strings.Contains(line, "Request-ID:") ||
			strings.Contains(line, "https://") ||
			strings.Contains(line, `"type":"error"`) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cleanLines = append(cleanLines, line)
	}

	if len(cleanLines) > 0 {
		return "Sorry, I encountered an error: " + strings.Join(cleanLines, " ")
	}
	return "Sorry, I encountered an error. Please try again."
}

// TruncateString shortens a string for log previews.
func TruncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"gatekeeper/utils/logger"
)

type LogLevel string

const (
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type DiscordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []DiscordEmbedField `json:"fields"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type DiscordWebhookPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

func getColor(level LogLevel) int {
	switch level {
	case Info:
		return 3066993 // Green
	case Warn:
		return 15105570 // Orange
	case Error:
		return 15158332 // Red
	default:
		return 3447003 // Blue
	}
}

// embed field values are capped by Discord at 1024 characters
const maxFieldValue = 1024

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// WebhookReporter posts unexpected failures as embeds to a Discord webhook.
// It is the process-wide ErrorReporter.
type WebhookReporter struct {
	url    string
	client *http.Client
}

// NewWebhookReporter creates a reporter. An empty url disables posting; the
// failure is still logged.
func NewWebhookReporter(url string) *WebhookReporter {
	return &WebhookReporter{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Report sends err and its context fields. It never fails the caller.
func (r *WebhookReporter) Report(ctx context.Context, err error, fields map[string]string) {
	args := []any{"error", err}
	for k, v := range fields {
		args = append(args, k, v)
	}
	logger.Error("unexpected failure reported", args...)

	if r.url == "" {
		return
	}
	if sendErr := r.send(ctx, Error, err.Error(), fields); sendErr != nil {
		logger.Warn("failed to post error report", "error", sendErr)
	}
}

// Notify posts an operator notice at the given level. Like Report it only
// logs when posting fails.
func (r *WebhookReporter) Notify(ctx context.Context, level LogLevel, message string, fields map[string]string) {
	if r.url == "" {
		return
	}
	if err := r.send(ctx, level, message, fields); err != nil {
		logger.Warn("failed to post notice", "level", level, "error", err)
	}
}

func (r *WebhookReporter) send(ctx context.Context, level LogLevel, description string, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	embed := DiscordEmbed{
		Title:       string(level) + " Log",
		Description: truncate(description, 4096),
		Color:       getColor(level),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, k := range keys {
		embed.Fields = append(embed.Fields, DiscordEmbedField{Name: k, Value: truncate(fields[k], maxFieldValue), Inline: true})
	}

	jsonPayload, err := json.Marshal(DiscordWebhookPayload{Embeds: []DiscordEmbed{embed}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to send log to discord, status: %s, body: %s", resp.Status, string(body))
	}
	return nil
}

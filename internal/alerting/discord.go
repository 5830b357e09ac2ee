package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// discordMaxContent is the message length limit of the Discord API.
const discordMaxContent = 2000

// DiscordSender delivers direct messages through the Discord REST API.
type DiscordSender struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger

	mu       sync.Mutex
	channels map[string]string
}

// NewDiscordSender builds a sender authenticated as the bot.
func NewDiscordSender(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *DiscordSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://discord.com/api/v10"
	}
	return &DiscordSender{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_discord").Logger(),
		channels: make(map[string]string),
	}
}

// Send opens (or reuses) the DM channel with userID and posts the message.
func (s *DiscordSender) Send(ctx context.Context, userID string, msg Message) error {
	channelID, err := s.dmChannel(ctx, userID)
	if err != nil {
		return err
	}

	content := msg.Body
	if len([]rune(content)) > discordMaxContent {
		content = string([]rune(content)[:discordMaxContent-3]) + "..."
	}
	if err := s.post(ctx, "/channels/"+channelID+"/messages", map[string]string{"content": content}, nil); err != nil {
		return fmt.Errorf("discord send to %s: %w", userID, err)
	}
	s.logger.Debug().Str("user_id", userID).Msg("告警已发送 (Discord)")
	return nil
}

func (s *DiscordSender) dmChannel(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	id, ok := s.channels[userID]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	var channel struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, "/users/@me/channels", map[string]string{"recipient_id": userID}, &channel); err != nil {
		return "", fmt.Errorf("discord open dm for %s: %w", userID, err)
	}
	if channel.ID == "" {
		return "", fmt.Errorf("discord open dm for %s: empty channel id", userID)
	}

	s.mu.Lock()
	s.channels[userID] = channel.ID
	s.mu.Unlock()
	return channel.ID, nil
}

func (s *DiscordSender) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+s.botToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Sender = (*DiscordSender)(nil)

//go:build discord

package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

// discordMessageLimit is the maximum length of one Discord message.
const discordMessageLimit = 2000

// DiscordChannel answers Discord messages through discordgo.
type DiscordChannel struct {
	token       string
	guildID     string
	channelIDs  map[string]bool
	mentionOnly bool
	httpClient  *http.Client
	logger      *slog.Logger

	session   *discordgo.Session
	botUserID string
}

var _ domain.Platform = (*DiscordChannel)(nil)

// NewDiscordChannel creates a Discord bot channel.
func NewDiscordChannel(cfg config.DiscordPlatformConfig, logger *slog.Logger) *DiscordChannel {
	if logger == nil {
		logger = slog.Default()
	}
	d := &DiscordChannel{
		token:       cfg.Token,
		guildID:     cfg.GuildID,
		mentionOnly: cfg.MentionOnly,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
	if len(cfg.ChannelIDs) > 0 {
		d.channelIDs = make(map[string]bool, len(cfg.ChannelIDs))
		for _, id := range cfg.ChannelIDs {
			d.channelIDs[id] = true
		}
	}
	return d
}

// Name implements domain.Platform.
func (d *DiscordChannel) Name() string { return "discord" }

// Run opens the gateway session and serves until ctx is cancelled.
func (d *DiscordChannel) Run(ctx context.Context, h domain.Handler) error {
	dg, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.onMessageCreate(ctx, s, h, m)
	})

	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.session = dg
	d.botUserID = dg.State.User.ID
	d.logger.Info("discord channel started", "user_id", d.botUserID)

	<-ctx.Done()
	return dg.Close()
}

func (d *DiscordChannel) onMessageCreate(ctx context.Context, s *discordgo.Session, h domain.Handler, m *discordgo.MessageCreate) {
	content, ok := d.accept(m.Message)
	if !ok {
		return
	}

	input, err := d.messageInput(ctx, m.Message, content)
	if err != nil {
		d.logger.Error("discord attachment fetch failed", "error", err, "channel", m.ChannelID)
		return
	}
	if err := input.Validate(); err != nil {
		return
	}

	sessionID := discordSessionID(m.Message)
	reply, err := h.HandleMessage(ctx, sessionID, input, domain.StringPtr(m.Author.ID))
	if err != nil {
		d.logger.Error("bot error", "session", sessionID, "error", err)
		reply = "Error: " + err.Error()
	}

	for _, chunk := range splitMessage(reply, discordMessageLimit) {
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", m.ChannelID, "error", err)
			return
		}
	}
}

// accept applies the author, guild, channel and mention filters and returns
// the message text with the bot mention removed.
func (d *DiscordChannel) accept(m *discordgo.Message) (string, bool) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == d.botUserID {
		return "", false
	}
	if d.guildID != "" && m.GuildID != d.guildID {
		return "", false
	}
	if len(d.channelIDs) > 0 && !d.channelIDs[m.ChannelID] {
		return "", false
	}

	isMention := false
	for _, u := range m.Mentions {
		if u.ID == d.botUserID {
			isMention = true
			break
		}
	}
	if d.mentionOnly && m.GuildID != "" && !isMention {
		return "", false
	}

	content := m.Content
	if isMention {
		content = strings.ReplaceAll(content, "<@"+d.botUserID+">", "")
		content = strings.ReplaceAll(content, "<@!"+d.botUserID+">", "")
	}
	return strings.TrimSpace(content), true
}

// messageInput prefers the first media attachment over the text.
func (d *DiscordChannel) messageInput(ctx context.Context, m *discordgo.Message, content string) (domain.Input, error) {
	for _, a := range m.Attachments {
		switch {
		case strings.HasPrefix(a.ContentType, "image/"):
			return domain.ImageInput(a.URL), nil
		case strings.HasPrefix(a.ContentType, "video/"):
			return domain.VideoInput(a.URL), nil
		case strings.HasPrefix(a.ContentType, "audio/"):
			audio, err := d.download(ctx, a.URL)
			if err != nil {
				return domain.Input{}, err
			}
			return domain.AudioInput(audio), nil
		}
	}
	if content == "" {
		return domain.Input{}, nil
	}
	return domain.TextInput(content), nil
}

func (d *DiscordChannel) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxRecordDownload))
}

func discordSessionID(m *discordgo.Message) string {
	if m.GuildID == "" {
		return "discord:dm:" + m.Author.ID
	}
	return fmt.Sprintf("discord:%s:%s", m.ChannelID, m.Author.ID)
}

// splitMessage cuts s into chunks of at most limit runes, preferring line breaks.
func splitMessage(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

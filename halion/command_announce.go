package halion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// messageIDStore persists a single message ID to a flat file, so the
// official announcement message survives restarts and keeps being
// edited in place instead of reposted.
type messageIDStore struct {
	mu   sync.Mutex
	path string
}

func newMessageIDStore(path string) *messageIDStore {
	return &messageIDStore{path: path}
}

// Load returns the stored message ID, or "" if none is stored or the
// file is unreadable.
func (s *messageIDStore) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *messageIDStore) Save(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating message id directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(messageID), 0o644); err != nil {
		return fmt.Errorf("writing message id file: %w", err)
	}
	return nil
}

// commandAnnounce publishes an announcement. In the official
// announcement channel the bot maintains a single message and edits it
// in place; anywhere else it posts fresh.
func (h *Halion) commandAnnounce(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := h.ctxLogger(ctx)

	if !isModerator(i.Member, h.config.Community.ModRoleIDs) {
		h.respondEphemeral(ctx, i, msgNotModerator)
		return
	}

	data := i.ApplicationCommandData()

	var message string
	targetChannelID := h.config.Community.AnnouncementChannelID
	// invoked inside the notices channel, the notice lands there
	if i.ChannelID == h.config.Community.NoticesChannelID &&
		i.ChannelID != "" {
		targetChannelID = i.ChannelID
	}
	for _, opt := range data.Options {
		switch opt.Name {
		case announceMessageOption:
			message = opt.StringValue()
		case announceChannelOption:
			if ch := opt.ChannelValue(nil); ch != nil {
				targetChannelID = ch.ID
			}
		}
	}

	if message == "" {
		h.respondEphemeral(ctx, i, "⚠️ O comunicado não pode ser vazio.")
		return
	}
	if targetChannelID == "" {
		h.respondEphemeral(
			ctx, i,
			"⚠️ Nenhum canal de comunicados configurado. Informe um canal.",
		)
		return
	}

	content := fmt.Sprintf("📢 **Comunicado Oficial**\n\n%s", message)

	if targetChannelID == h.config.Community.AnnouncementChannelID {
		h.announceOfficial(ctx, i, logger, targetChannelID, content)
		return
	}

	if _, err := h.discord.session.ChannelMessageSend(
		targetChannelID, content,
	); err != nil {
		logger.Error("could not send announcement", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Não consegui enviar o comunicado nesse canal.")
		return
	}
	logger.Info("announcement sent", "channel_id", targetChannelID)
	h.respondEphemeral(ctx, i, "✅ Comunicado enviado.")
}

// announceOfficial edits the persisted official announcement message if
// it still exists, otherwise sends a new one and stores its ID.
func (h *Halion) announceOfficial(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	logger *slog.Logger,
	channelID string,
	content string,
) {
	if messageID := h.announcements.Load(); messageID != "" {
		_, err := h.discord.session.ChannelMessageEditComplex(
			&discordgo.MessageEdit{
				ID:      messageID,
				Channel: channelID,
				Content: &content,
			},
		)
		if err == nil {
			logger.Info("official announcement updated", "message_id", messageID)
			h.respondEphemeral(ctx, i, "✅ Comunicado oficial atualizado.")
			return
		}
		if !isUnknownMessage(err) {
			logger.Error("could not edit official announcement", tint.Err(err))
			h.respondEphemeral(ctx, i, "⚠️ Não consegui atualizar o comunicado oficial.")
			return
		}
		logger.Info(
			"stored announcement message is gone, posting a new one",
			"message_id", messageID,
		)
	}

	msg, err := h.discord.session.ChannelMessageSend(channelID, content)
	if err != nil {
		logger.Error("could not post official announcement", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Não consegui publicar o comunicado oficial.")
		return
	}
	if err = h.announcements.Save(msg.ID); err != nil {
		logger.Error("could not persist announcement message id", tint.Err(err))
	}
	logger.Info("official announcement posted", "message_id", msg.ID)
	h.respondEphemeral(ctx, i, "✅ Comunicado oficial publicado.")
}

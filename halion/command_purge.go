package halion

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// bulkDeleteMaxAge: discord's bulk delete endpoint rejects messages
// older than 14 days, so those are skipped.
const bulkDeleteMaxAge = 14 * 24 * time.Hour

// commandPurge bulk-deletes the last N messages in the current channel.
func (h *Halion) commandPurge(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := h.ctxLogger(ctx)

	if !isModerator(i.Member, h.config.Community.ModRoleIDs) {
		h.respondEphemeral(ctx, i, msgNotModerator)
		return
	}

	data := i.ApplicationCommandData()

	var amount int
	for _, opt := range data.Options {
		if opt.Name == purgeAmountOption {
			amount = int(opt.IntValue())
		}
	}
	if amount < 1 || amount > 100 {
		h.respondEphemeral(ctx, i, "⚠️ Informe uma quantidade entre 1 e 100.")
		return
	}

	messages, err := h.discord.session.ChannelMessages(
		i.ChannelID, amount, "", "", "",
	)
	if err != nil {
		logger.Error("could not fetch messages to purge", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Não consegui listar as mensagens deste canal.")
		return
	}

	cutoff := time.Now().Add(-bulkDeleteMaxAge)
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Timestamp.After(cutoff) {
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		h.respondEphemeral(ctx, i, "⚠️ Nenhuma mensagem recente para excluir.")
		return
	}

	if len(ids) == 1 {
		err = h.discord.session.ChannelMessageDelete(i.ChannelID, ids[0])
	} else {
		err = h.discord.session.ChannelMessagesBulkDelete(i.ChannelID, ids)
	}
	if err != nil {
		logger.Error("could not purge messages", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Não consegui excluir as mensagens. Verifique minhas permissões.")
		return
	}

	logger.Info("messages purged", "count", len(ids))

	if logChannelID := h.config.Community.LogChannelID; logChannelID != "" {
		moderator := "desconhecido"
		if user := interactionUser(i.Interaction); user != nil {
			moderator = user.Username
		}
		if _, err = h.discord.session.ChannelMessageSend(
			logChannelID,
			fmt.Sprintf(
				"🧹 **%s** excluiu %d mensagem(ns) em <#%s>.",
				moderator, len(ids), i.ChannelID,
			),
		); err != nil {
			logger.Warn("could not write purge log", tint.Err(err))
		}
	}

	h.respondEphemeral(
		ctx, i,
		fmt.Sprintf("🧹 %d mensagem(ns) excluída(s).", len(ids)),
	)
}

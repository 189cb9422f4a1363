package halion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const ticketChannelPrefix = "ticket-"

// ticketTranscriptFetchLimit caps how much history is pulled into a
// transcript. Discord pages message history 100 at a time.
const ticketTranscriptFetchLimit = 500

// commandTicketPanel posts the ticket panel with the create button.
func (h *Halion) commandTicketPanel(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	embed := &discordgo.MessageEmbed{
		Title: "🎫 Suporte Halion RP",
		Description: "Precisa de ajuda? Clique no botão abaixo para abrir " +
			"um ticket privado com a equipe.",
		Color: 0xFEE75C,
	}
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Abrir Ticket",
					Style:    discordgo.PrimaryButton,
					CustomID: customIDCreateTicket,
					Emoji:    &discordgo.ComponentEmoji{Name: "🎫"},
				},
			},
		},
	}

	_, err := h.discord.session.ChannelMessageSendComplex(
		i.ChannelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
		},
	)
	if err != nil {
		h.ctxLogger(ctx).Error("error posting ticket panel", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Não consegui publicar o painel neste canal.")
		return
	}
	h.respondEphemeral(ctx, i, "✅ Painel de tickets publicado.")
}

// componentCreateTicket opens a private ticket channel for the user,
// refusing if they already have one open. Ticket channels are named
// ticket-<userID>, which doubles as the duplicate guard.
func (h *Halion) componentCreateTicket(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := h.ctxLogger(ctx)
	if i.Member == nil || i.Member.User == nil {
		return
	}
	user := i.Member.User
	channelName := ticketChannelPrefix + user.ID

	channels, err := h.discord.session.GuildChannels(i.GuildID)
	if err != nil {
		logger.Error("could not list channels for ticket guard", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Algo deu errado ao abrir seu ticket. Tente novamente.")
		return
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == channelName {
			h.respondEphemeral(
				ctx, i,
				fmt.Sprintf("⚠️ Você já tem um ticket aberto: <#%s>", ch.ID),
			)
			return
		}
	}

	memberAllow := int64(
		discordgo.PermissionViewChannel |
			discordgo.PermissionSendMessages |
			discordgo.PermissionReadMessageHistory,
	)
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   i.GuildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: int64(discordgo.PermissionViewChannel),
		},
		{
			ID:    user.ID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: memberAllow,
		},
	}
	for _, roleID := range h.config.Tickets.StaffRoleIDs {
		overwrites = append(
			overwrites,
			&discordgo.PermissionOverwrite{
				ID:    roleID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: memberAllow,
			},
		)
	}

	channel, err := h.discord.session.GuildChannelCreateComplex(
		i.GuildID,
		discordgo.GuildChannelCreateData{
			Name:                 channelName,
			Type:                 discordgo.ChannelTypeGuildText,
			Topic:                fmt.Sprintf("Ticket de %s", user.Username),
			ParentID:             h.config.Tickets.CategoryID,
			PermissionOverwrites: overwrites,
		},
	)
	if err != nil {
		logger.Error("could not create ticket channel", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Não consegui criar seu ticket. Avise a equipe!")
		return
	}

	logger.Info("ticket opened", "ticket_channel_id", channel.ID)

	_, err = h.discord.session.ChannelMessageSendComplex(
		channel.ID,
		&discordgo.MessageSend{
			Content: fmt.Sprintf(
				"🎫 Olá <@%s>! Descreva seu problema e a equipe vai te atender em breve.",
				user.ID,
			),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label:    "Fechar Ticket",
							Style:    discordgo.DangerButton,
							CustomID: customIDCloseTicket,
							Emoji:    &discordgo.ComponentEmoji{Name: "🔒"},
						},
					},
				},
			},
		},
	)
	if err != nil {
		logger.Warn("could not send ticket greeting", tint.Err(err))
	}

	h.ticketLog(
		logger,
		fmt.Sprintf("🎫 Ticket aberto por **%s**: <#%s>", user.Username, channel.ID),
	)
	h.respondEphemeral(
		ctx, i,
		fmt.Sprintf("✅ Seu ticket foi criado: <#%s>", channel.ID),
	)
}

// componentCloseTicket archives the ticket transcript to the closed-log
// channel, announces the close, and deletes the channel after a short
// notice. Only staff (or the ticket owner, by channel name) may close.
func (h *Halion) componentCloseTicket(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := h.ctxLogger(ctx)
	if i.Member == nil || i.Member.User == nil {
		return
	}
	user := i.Member.User

	channel, err := h.discord.session.Channel(i.ChannelID)
	if err != nil {
		logger.Error("could not load ticket channel", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Algo deu errado ao fechar o ticket.")
		return
	}
	if !strings.HasPrefix(channel.Name, ticketChannelPrefix) {
		h.respondEphemeral(ctx, i, "⚠️ Este canal não é um ticket.")
		return
	}

	isOwner := channel.Name == ticketChannelPrefix+user.ID
	isStaff := memberHasAnyRole(i.Member, h.config.Tickets.StaffRoleIDs)
	if !isOwner && !isStaff {
		h.respondEphemeral(ctx, i, "⚠️ Apenas a equipe ou o autor pode fechar este ticket.")
		return
	}

	h.respondEphemeral(
		ctx, i,
		fmt.Sprintf(
			"🔒 Fechando o ticket. Este canal será excluído em %d segundos.",
			int(h.config.Tickets.CloseNotice.Seconds()),
		),
	)

	h.archiveTicketTranscript(ctx, logger, channel, user.Username)

	h.ticketLog(
		logger,
		fmt.Sprintf("🔒 Ticket **%s** fechado por **%s**.", channel.Name, user.Username),
	)

	if notice := h.config.Tickets.CloseNotice; notice > 0 {
		timer := time.NewTimer(notice)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if _, err = h.discord.session.ChannelDelete(channel.ID); err != nil {
		if isUnknownChannel(err) {
			logger.Info("ticket channel already gone")
		} else {
			logger.Error("could not delete ticket channel", tint.Err(err))
		}
		return
	}
	logger.Info("ticket closed", "ticket_channel", channel.Name)
}

// archiveTicketTranscript renders the ticket's history oldest-first into
// fenced chunks and posts them to the closed-log channel, paced so a
// long ticket does not trip rate limits.
func (h *Halion) archiveTicketTranscript(
	ctx context.Context,
	logger *slog.Logger,
	channel *discordgo.Channel,
	closedBy string,
) {
	destination := h.config.Tickets.ClosedLogChannelID
	if destination == "" {
		return
	}

	var history []*discordgo.Message
	beforeID := ""
	for len(history) < ticketTranscriptFetchLimit {
		page, err := h.discord.session.ChannelMessages(
			channel.ID, 100, beforeID, "", "",
		)
		if err != nil {
			logger.Warn("could not fetch ticket history", tint.Err(err))
			break
		}
		if len(page) == 0 {
			break
		}
		history = append(history, page...)
		beforeID = page[len(page)-1].ID
	}

	var b strings.Builder
	// ChannelMessages returns newest-first
	for idx := len(history) - 1; idx >= 0; idx-- {
		msg := history[idx]
		author := "desconhecido"
		if msg.Author != nil {
			author = msg.Author.Username
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			msg.Timestamp.Format("02/01 15:04"),
			author,
			msg.Content,
		)
	}
	transcript := b.String()
	if transcript == "" {
		transcript = "(sem mensagens)\n"
	}

	header := fmt.Sprintf(
		"📄 Transcrição de **%s** (fechado por %s):",
		channel.Name,
		closedBy,
	)
	if _, err := h.discord.session.ChannelMessageSend(
		destination, header,
	); err != nil {
		logger.Warn("could not post transcript header", tint.Err(err))
		return
	}

	perSecond := h.config.Tickets.TranscriptPerSecond
	if perSecond <= 0 {
		perSecond = DefaultTicketTranscriptPerSecond
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)

	chunkSize := h.config.Tickets.TranscriptChunkSize
	if chunkSize <= 0 || chunkSize > discordMaxMessageLength-10 {
		chunkSize = DefaultTicketTranscriptChunkSize
	}

	for _, chunk := range chunkString(transcript, chunkSize) {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if _, err := h.discord.session.ChannelMessageSend(
			destination,
			"```\n"+chunk+"```",
		); err != nil {
			logger.Warn("could not post transcript chunk", tint.Err(err))
			return
		}
	}
}

func (h *Halion) ticketLog(logger *slog.Logger, content string) {
	channelID := h.config.Tickets.LogChannelID
	if channelID == "" {
		return
	}
	if _, err := h.discord.session.ChannelMessageSend(channelID, content); err != nil {
		logger.Warn("could not write ticket log", tint.Err(err))
	}
}

package halion

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	announceMessageOption = "mensagem"
	announceChannelOption = "canal"
	purgeAmountOption     = "quantidade"
)

// adminOnly is the default member permission for staff-facing commands.
var adminOnly = int64(discordgo.PermissionAdministrator)

func appCommandWhitelist() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandWhitelist,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Publica o painel de whitelist com o botão de início",
		DefaultMemberPermissions: &adminOnly,
	}
}

func appCommandVerify() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandVerify,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Publica o painel de verificação de membros",
		DefaultMemberPermissions: &adminOnly,
	}
}

func appCommandTicket() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandTicket,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Publica o painel de abertura de tickets",
		DefaultMemberPermissions: &adminOnly,
	}
}

func appCommandAnnounce() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandAnnounce,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Publica ou atualiza o comunicado oficial do servidor",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        announceMessageOption,
				Description: "Texto do comunicado",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        announceChannelOption,
				Description: "Canal de destino (padrão: canal de comunicados)",
				Required:    false,
			},
		},
	}
}

func appCommandPurge() *discordgo.ApplicationCommand {
	minAmount := 1.0
	maxAmount := 100.0
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandPurge,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Exclui as últimas mensagens deste canal",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        purgeAmountOption,
				Description: "Quantidade de mensagens (1 a 100)",
				Required:    true,
				MinValue:    &minAmount,
				MaxValue:    maxAmount,
			},
		},
	}
}

func appCommandConnect() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandConnect,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Mostra como conectar ao servidor",
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		appCommandWhitelist(),
		appCommandVerify(),
		appCommandTicket(),
		appCommandAnnounce(),
		appCommandPurge(),
		appCommandConnect(),
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command_name", c.Name, "command_id", c.ID)
	}
	return created, nil
}

// handlerInteractionCreate routes slash commands and component presses.
// Each interaction is handled in its own goroutine so a slow flow (like
// a questionnaire start) never blocks the gateway event loop.
func (d *Discord) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		logger := d.logger.With(interactionLogAttrs(*i)...)
		ctx := WithLogger(d.bot.ctx(), logger)

		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			name := i.ApplicationCommandData().Name
			logger.Info("received slash command", "command", name)
			go d.bot.handleSlashCommand(ctx, name, i)
		case discordgo.InteractionMessageComponent:
			customID := i.MessageComponentData().CustomID
			logger.Info("received component interaction", "custom_id", customID)
			go d.bot.handleComponent(ctx, customID, i)
		default:
			logger.Warn("unhandled interaction type")
		}
	}
}

func (h *Halion) handleSlashCommand(
	ctx context.Context,
	name string,
	i *discordgo.InteractionCreate,
) {
	switch name {
	case DiscordSlashCommandWhitelist:
		h.commandWhitelistPanel(ctx, i)
	case DiscordSlashCommandVerify:
		h.commandVerifyPanel(ctx, i)
	case DiscordSlashCommandTicket:
		h.commandTicketPanel(ctx, i)
	case DiscordSlashCommandAnnounce:
		h.commandAnnounce(ctx, i)
	case DiscordSlashCommandPurge:
		h.commandPurge(ctx, i)
	case DiscordSlashCommandConnect:
		h.commandConnect(ctx, i)
	default:
		h.logger.Warn("unknown slash command", "command", name)
	}
}

func (h *Halion) handleComponent(
	ctx context.Context,
	customID string,
	i *discordgo.InteractionCreate,
) {
	switch customID {
	case customIDStartWhitelist:
		h.componentStartWhitelist(ctx, i)
	case customIDVerifyMember:
		h.componentVerifyMember(ctx, i)
	case customIDCreateTicket:
		h.componentCreateTicket(ctx, i)
	case customIDCloseTicket:
		h.componentCloseTicket(ctx, i)
	default:
		h.logger.Warn("unknown component", "custom_id", customID)
	}
}

// respondEphemeral answers an interaction with a single ephemeral
// message.
func (h *Halion) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	err := h.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		logger := h.ctxLogger(ctx)
		logger.Error("error responding to interaction", tint.Err(err))
	}
}

// deferEphemeral acknowledges an interaction so a slower flow can edit
// the response later.
func (h *Halion) deferEphemeral(i *discordgo.InteractionCreate) error {
	return h.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags: discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

func (h *Halion) editResponse(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	_, err := h.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
	)
	if err != nil {
		h.ctxLogger(ctx).Error("error editing interaction response", tint.Err(err))
	}
}

// commandWhitelistPanel posts the public whitelist panel with the
// persistent start button into the current channel.
func (h *Halion) commandWhitelistPanel(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	embed := &discordgo.MessageEmbed{
		Title: "📋 Whitelist Halion RP",
		Description: fmt.Sprintf(
			"Clique no botão abaixo para iniciar sua whitelist.\n\n"+
				"• Você responderá **%d perguntas** em um canal privado.\n"+
				"• Tempo total: **%d minutos**.\n"+
				"• Se não passar, poderá tentar novamente após **%d minutos**.",
			len(h.config.Onboarding.Questions),
			int(h.config.Onboarding.TotalDuration.Minutes()),
			int(h.config.Onboarding.Cooldown.Minutes()),
		),
		Color: 0x5865F2,
	}
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Iniciar Whitelist",
					Style:    discordgo.SuccessButton,
					CustomID: customIDStartWhitelist,
					Emoji:    &discordgo.ComponentEmoji{Name: "📝"},
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
		h.ctxLogger(ctx).Error("error posting whitelist panel", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Não consegui publicar o painel neste canal.")
		return
	}
	h.respondEphemeral(ctx, i, "✅ Painel de whitelist publicado.")
}

// componentStartWhitelist is the entry point for an applicant pressing
// the start button: defer, run the admission guards, then either refuse
// with a reason or point the applicant at their new private channel and
// run the questionnaire.
func (h *Halion) componentStartWhitelist(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := h.ctxLogger(ctx)

	if err := h.deferEphemeral(i); err != nil {
		logger.Error("error deferring whitelist start", tint.Err(err))
		return
	}

	sess, err := h.onboarding.Begin(ctx, i.GuildID, i.Member)
	if err != nil {
		h.editResponse(ctx, i, userFacingStartMessage(err))
		return
	}

	h.editResponse(
		ctx,
		i,
		fmt.Sprintf("✅ Seu canal de whitelist foi criado: <#%s>", sess.ChannelID),
	)

	h.runWG.Add(1)
	defer h.runWG.Done()
	h.onboarding.Run(ctx, i.GuildID, sess, i.Member.User)
}

package halion

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// commandVerifyPanel posts the member-verification panel into the
// current channel.
func (h *Halion) commandVerifyPanel(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	cfg := h.config.Verification
	if cfg.VerifiedRoleID == "" {
		h.respondEphemeral(
			ctx, i,
			"⚠️ O cargo de verificado não está configurado. Avise a equipe!",
		)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "✅ Verificação de Membros",
		Description: "Clique no botão abaixo para se verificar e " +
			"liberar o acesso aos canais da comunidade.",
		Color: 0x57F287,
	}
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Verificar",
					Style:    discordgo.SuccessButton,
					CustomID: customIDVerifyMember,
					Emoji:    &discordgo.ComponentEmoji{Name: "✅"},
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
		h.ctxLogger(ctx).Error("error posting verification panel", tint.Err(err))
		h.respondEphemeral(ctx, i, "⚠️ Não consegui publicar o painel neste canal.")
		return
	}
	h.respondEphemeral(ctx, i, "✅ Painel de verificação publicado.")
}

// componentVerifyMember exchanges the visitor role for the verified
// role. The two role operations are independent: a member can end up
// verified but still carrying the visitor role, and the reply says so.
func (h *Halion) componentVerifyMember(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := h.ctxLogger(ctx)
	cfg := h.config.Verification

	if i.Member == nil || i.Member.User == nil {
		return
	}
	user := i.Member.User

	if cfg.VerifiedRoleID == "" {
		h.respondEphemeral(
			ctx, i,
			"⚠️ O cargo de verificado não está configurado. Avise a equipe!",
		)
		return
	}

	if memberHasAnyRole(i.Member, []string{cfg.VerifiedRoleID}) {
		h.respondEphemeral(ctx, i, "✅ Você já está verificado!")
		return
	}

	if err := h.discord.session.GuildMemberRoleAdd(
		i.GuildID, user.ID, cfg.VerifiedRoleID,
	); err != nil {
		logger.Error(
			"could not grant verified role",
			"role_id", cfg.VerifiedRoleID,
			tint.Err(err),
		)
		h.respondEphemeral(
			ctx, i,
			"⚠️ Não consegui te verificar agora. Tente novamente ou avise a equipe.",
		)
		return
	}

	visitorRemoved := true
	if cfg.VisitorRoleID != "" &&
		memberHasAnyRole(i.Member, []string{cfg.VisitorRoleID}) {
		if err := h.discord.session.GuildMemberRoleRemove(
			i.GuildID, user.ID, cfg.VisitorRoleID,
		); err != nil {
			visitorRemoved = false
			logger.Warn(
				"could not remove visitor role",
				"role_id", cfg.VisitorRoleID,
				tint.Err(err),
			)
		}
	}

	logger.Info("member verified", "visitor_removed", visitorRemoved)
	if visitorRemoved {
		h.respondEphemeral(ctx, i, "🎉 Verificação concluída! Bem-vindo(a) à comunidade.")
	} else {
		h.respondEphemeral(
			ctx, i,
			"🎉 Você foi verificado! (Não consegui remover o cargo de visitante, avise a equipe.)",
		)
	}
}

package halion

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const fivemConnectURL = "https://cfx.re/join/halionrp"

// commandConnect shows the connection instructions with a join button.
// Public: any member can use it.
func (h *Halion) commandConnect(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	embed := &discordgo.MessageEmbed{
		Title: "🎮 Conectar ao Halion RP",
		Description: "1. Abra o FiveM\n" +
			"2. Pressione `F8` e digite `connect halionrp`\n" +
			"3. Ou clique no botão abaixo para entrar direto!",
		Color: 0xEB459E,
	}

	err := h.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							discordgo.Button{
								Label: "Conectar",
								Style: discordgo.LinkButton,
								URL:   fivemConnectURL,
								Emoji: &discordgo.ComponentEmoji{Name: "🎮"},
							},
						},
					},
				},
				Flags: discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		h.ctxLogger(ctx).Error("error responding to connect command", tint.Err(err))
	}
}

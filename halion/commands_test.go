package halion

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slashInteraction(
	name string,
	member *discordgo.Member,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "guild-1",
			ChannelID: "chan-cmd",
			Member:    member,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
		},
	}
}

func componentInteraction(
	customID string,
	member *discordgo.Member,
	channelID string,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionMessageComponent,
			GuildID:   "guild-1",
			ChannelID: channelID,
			Member:    member,
			Data: discordgo.MessageComponentInteractionData{
				CustomID: customID,
			},
		},
	}
}

func adminMember(userID string, username string) *discordgo.Member {
	m := testMember(userID, username)
	m.Permissions = discordgo.PermissionAdministrator
	return m
}

func lastEphemeral(t testing.TB, session *mockDiscordSession) string {
	t.Helper()
	session.mu.Lock()
	defer session.mu.Unlock()
	require.NotEmpty(t, session.interactionResponses)
	resp := session.interactionResponses[len(session.interactionResponses)-1]
	require.NotNil(t, resp.Data)
	return resp.Data.Content
}

func TestCommandWhitelistPanel(t *testing.T) {
	h, session := newTestBot(t)

	i := slashInteraction(DiscordSlashCommandWhitelist, adminMember("admin-1", "admin"))
	h.commandWhitelistPanel(context.Background(), i)

	require.Len(t, session.sends, 1)
	assert.Equal(t, "chan-cmd", session.sends[0].ChannelID)
	assert.Equal(t, "✅ Painel de whitelist publicado.", lastEphemeral(t, session))
}

func TestComponentStartWhitelistCooldownRefusal(t *testing.T) {
	h, session := newTestBot(t)
	h.cooldowns.Begin("user-1")

	i := componentInteraction(
		customIDStartWhitelist, testMember("user-1", "fulano"), "chan-panel",
	)
	h.componentStartWhitelist(context.Background(), i)

	// deferred ack, then the refusal as an edit
	require.Len(t, session.interactionResponses, 1)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		session.interactionResponses[0].Type,
	)
	assert.Contains(t, session.lastResponseEdit(), "⏳")
	assert.Empty(t, session.createdChannels)
}

func TestComponentStartWhitelistFullFlow(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Onboarding.Questions = []string{"Q1"}
	// no answers arrive, so the run times out and tears down
	h.config.Onboarding.TotalDuration = 30 * time.Millisecond

	i := componentInteraction(
		customIDStartWhitelist, testMember("user-1", "fulano"), "chan-panel",
	)
	h.componentStartWhitelist(context.Background(), i)

	assert.Contains(
		t, session.lastResponseEdit(), "Seu canal de whitelist foi criado",
	)
	require.Len(t, session.createdChannels, 1)
	require.Len(t, session.deletedChannels, 1)
	assert.Contains(t, session.sentContents(), msgQuestionnaireTimeout)
	assert.Empty(t, h.onboarding.Active())
}

func TestComponentVerifyMember(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Verification.VerifiedRoleID = "role-verified"
	h.config.Verification.VisitorRoleID = "role-visitor"

	member := testMember("user-1", "fulano")
	member.Roles = []string{"role-visitor"}

	i := componentInteraction(customIDVerifyMember, member, "chan-verify")
	h.componentVerifyMember(context.Background(), i)

	require.Len(t, session.roleAdds, 1)
	assert.Equal(t, "role-verified", session.roleAdds[0].RoleID)
	require.Len(t, session.roleRemoves, 1)
	assert.Equal(t, "role-visitor", session.roleRemoves[0].RoleID)
	assert.Contains(t, lastEphemeral(t, session), "Verificação concluída")
}

func TestComponentVerifyMemberAlreadyVerified(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Verification.VerifiedRoleID = "role-verified"

	member := testMember("user-1", "fulano")
	member.Roles = []string{"role-verified"}

	i := componentInteraction(customIDVerifyMember, member, "chan-verify")
	h.componentVerifyMember(context.Background(), i)

	assert.Empty(t, session.roleAdds)
	assert.Contains(t, lastEphemeral(t, session), "já está verificado")
}

func TestComponentVerifyMemberVisitorRemovalFails(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Verification.VerifiedRoleID = "role-verified"
	h.config.Verification.VisitorRoleID = "role-visitor"
	session.errRoleRemove = restErrWithCode(discordgo.ErrCodeMissingPermissions)

	member := testMember("user-1", "fulano")
	member.Roles = []string{"role-visitor"}

	i := componentInteraction(customIDVerifyMember, member, "chan-verify")
	h.componentVerifyMember(context.Background(), i)

	// still verified, but the reply flags the leftover visitor role
	require.Len(t, session.roleAdds, 1)
	assert.Contains(t, lastEphemeral(t, session), "visitante")
}

func TestComponentCreateTicket(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Tickets.CategoryID = "cat-tickets"
	h.config.Tickets.StaffRoleIDs = []string{"role-staff"}
	h.config.Tickets.LogChannelID = "chan-ticket-log"

	i := componentInteraction(
		customIDCreateTicket, testMember("user-1", "fulano"), "chan-panel",
	)
	h.componentCreateTicket(context.Background(), i)

	require.Len(t, session.createdChannels, 1)
	created := session.createdChannels[0]
	assert.Equal(t, "ticket-user-1", created.Name)
	assert.Equal(t, "cat-tickets", created.ParentID)
	require.Len(t, created.PermissionOverwrites, 3)

	// greeting in the ticket, open notice in the log channel
	contents := session.sentContents()
	require.Len(t, contents, 2)
	assert.Contains(t, contents[0], "Descreva seu problema")
	assert.Contains(t, contents[1], "Ticket aberto")
	assert.Contains(t, lastEphemeral(t, session), "Seu ticket foi criado")
}

func TestComponentCreateTicketDuplicate(t *testing.T) {
	h, session := newTestBot(t)
	session.guildChannels = append(
		session.guildChannels,
		&discordgo.Channel{
			ID:   "chan-existing",
			Name: "ticket-user-1",
			Type: discordgo.ChannelTypeGuildText,
		},
	)

	i := componentInteraction(
		customIDCreateTicket, testMember("user-1", "fulano"), "chan-panel",
	)
	h.componentCreateTicket(context.Background(), i)

	assert.Empty(t, session.createdChannels)
	assert.Contains(t, lastEphemeral(t, session), "já tem um ticket aberto")
}

func TestComponentCloseTicket(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Tickets.ClosedLogChannelID = "chan-closed"

	session.channelsByID["chan-ticket"] = &discordgo.Channel{
		ID:   "chan-ticket",
		Name: "ticket-user-1",
		Type: discordgo.ChannelTypeGuildText,
	}
	now := time.Now()
	// newest-first, as discord returns them
	session.messagesByChan["chan-ticket"] = []*discordgo.Message{
		{
			ID:        "m2",
			Content:   "claro, pode falar",
			Author:    &discordgo.User{Username: "staff"},
			Timestamp: now,
		},
		{
			ID:        "m1",
			Content:   "preciso de ajuda",
			Author:    &discordgo.User{Username: "fulano"},
			Timestamp: now.Add(-time.Minute),
		},
	}

	i := componentInteraction(
		customIDCloseTicket, testMember("user-1", "fulano"), "chan-ticket",
	)
	h.componentCloseTicket(context.Background(), i)

	assert.Contains(t, lastEphemeral(t, session), "Fechando o ticket")
	require.Len(t, session.deletedChannels, 1)
	assert.Equal(t, "chan-ticket", session.deletedChannels[0])

	// transcript: header then a fenced chunk, oldest message first
	var closedLog []sentMessage
	for _, sent := range session.sends {
		if sent.ChannelID == "chan-closed" {
			closedLog = append(closedLog, sent)
		}
	}
	require.Len(t, closedLog, 2)
	assert.Contains(t, closedLog[0].Content, "ticket-user-1")
	assert.Contains(t, closedLog[1].Content, "```")
	body := closedLog[1].Content
	assert.Less(
		t,
		strings.Index(body, "preciso de ajuda"),
		strings.Index(body, "claro, pode falar"),
		"transcript should read oldest-first",
	)
}

func TestComponentCloseTicketNotAllowed(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Tickets.StaffRoleIDs = []string{"role-staff"}
	session.channelsByID["chan-ticket"] = &discordgo.Channel{
		ID:   "chan-ticket",
		Name: "ticket-user-1",
		Type: discordgo.ChannelTypeGuildText,
	}

	i := componentInteraction(
		customIDCloseTicket, testMember("user-2", "intruso"), "chan-ticket",
	)
	h.componentCloseTicket(context.Background(), i)

	assert.Empty(t, session.deletedChannels)
	assert.Contains(t, lastEphemeral(t, session), "Apenas a equipe ou o autor")
}

func TestComponentCloseTicketNotATicket(t *testing.T) {
	h, session := newTestBot(t)
	session.channelsByID["chan-general"] = &discordgo.Channel{
		ID:   "chan-general",
		Name: "geral",
		Type: discordgo.ChannelTypeGuildText,
	}

	i := componentInteraction(
		customIDCloseTicket, testMember("user-1", "fulano"), "chan-general",
	)
	h.componentCloseTicket(context.Background(), i)

	assert.Empty(t, session.deletedChannels)
	assert.Contains(t, lastEphemeral(t, session), "não é um ticket")
}

func TestCommandAnnounceOfficial(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Community.AnnouncementChannelID = "chan-ann"

	i := slashInteraction(
		DiscordSlashCommandAnnounce,
		adminMember("admin-1", "admin"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  announceMessageOption,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: "evento hoje às 20h",
		},
	)

	// first publish posts fresh and stores the message ID
	h.commandAnnounce(context.Background(), i)
	require.Len(t, session.sends, 1)
	assert.Equal(t, "chan-ann", session.sends[0].ChannelID)
	assert.Contains(t, session.sends[0].Content, "📢 **Comunicado Oficial**")
	assert.Contains(t, session.sends[0].Content, "evento hoje às 20h")
	assert.Contains(t, lastEphemeral(t, session), "publicado")

	stored, err := os.ReadFile(h.config.Community.AnnouncementMessageIDFile)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	// second publish edits the same message in place
	h.commandAnnounce(context.Background(), i)
	require.Len(t, session.messageEdits, 1)
	assert.Equal(t, string(stored), session.messageEdits[0].ID)
	assert.Len(t, session.sends, 1, "no second message posted")
	assert.Contains(t, lastEphemeral(t, session), "atualizado")
}

func TestCommandAnnounceOfficialRepostsWhenGone(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Community.AnnouncementChannelID = "chan-ann"
	require.NoError(t, h.announcements.Save("msg-deleted"))
	session.errMessageEdit = restErrWithCode(discordgo.ErrCodeUnknownMessage)

	i := slashInteraction(
		DiscordSlashCommandAnnounce,
		adminMember("admin-1", "admin"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  announceMessageOption,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: "novo texto",
		},
	)
	h.commandAnnounce(context.Background(), i)

	require.Len(t, session.sends, 1)
	assert.NotEqual(t, "msg-deleted", h.announcements.Load())
}

func TestCommandAnnounceOtherChannel(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Community.AnnouncementChannelID = "chan-ann"

	i := slashInteraction(
		DiscordSlashCommandAnnounce,
		adminMember("admin-1", "admin"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  announceMessageOption,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: "manutenção amanhã",
		},
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  announceChannelOption,
			Type:  discordgo.ApplicationCommandOptionChannel,
			Value: "chan-other",
		},
	)
	h.commandAnnounce(context.Background(), i)

	require.Len(t, session.sends, 1)
	assert.Equal(t, "chan-other", session.sends[0].ChannelID)

	// a one-off post never touches the stored official message ID
	assert.Empty(t, h.announcements.Load())
}

func TestCommandAnnounceRequiresModerator(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Community.AnnouncementChannelID = "chan-ann"
	h.config.Community.ModRoleIDs = []string{"role-mod"}

	i := slashInteraction(
		DiscordSlashCommandAnnounce,
		testMember("user-1", "fulano"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  announceMessageOption,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: "tentativa",
		},
	)
	h.commandAnnounce(context.Background(), i)
	assert.Empty(t, session.sends)
	assert.Contains(t, lastEphemeral(t, session), "não tem permissão")

	// a moderator role is as good as administrator
	mod := testMember("user-2", "mod")
	mod.Roles = []string{"role-mod"}
	i = slashInteraction(
		DiscordSlashCommandAnnounce,
		mod,
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  announceMessageOption,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: "agora vai",
		},
	)
	h.commandAnnounce(context.Background(), i)
	require.Len(t, session.sends, 1)
}

func TestCommandAnnounceInNoticesChannel(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Community.AnnouncementChannelID = "chan-ann"
	h.config.Community.NoticesChannelID = "chan-cmd"

	i := slashInteraction(
		DiscordSlashCommandAnnounce,
		adminMember("admin-1", "admin"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  announceMessageOption,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: "aviso rápido",
		},
	)
	h.commandAnnounce(context.Background(), i)

	// posted fresh in the notices channel, official message untouched
	require.Len(t, session.sends, 1)
	assert.Equal(t, "chan-cmd", session.sends[0].ChannelID)
	assert.Empty(t, session.messageEdits)
	assert.Empty(t, h.announcements.Load())
}

func TestCommandAnnounceEmptyMessage(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Community.AnnouncementChannelID = "chan-ann"

	i := slashInteraction(
		DiscordSlashCommandAnnounce,
		adminMember("admin-1", "admin"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  announceMessageOption,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: "",
		},
	)
	h.commandAnnounce(context.Background(), i)

	assert.Empty(t, session.sends)
	assert.Contains(t, lastEphemeral(t, session), "não pode ser vazio")
}

func TestCommandPurge(t *testing.T) {
	h, session := newTestBot(t)
	h.config.Community.LogChannelID = "chan-log"
	now := time.Now()
	session.messagesByChan["chan-cmd"] = []*discordgo.Message{
		{ID: "m3", Timestamp: now},
		{ID: "m2", Timestamp: now.Add(-time.Hour)},
		{ID: "m1", Timestamp: now.Add(-20 * 24 * time.Hour)},
	}

	i := slashInteraction(
		DiscordSlashCommandPurge,
		adminMember("admin-1", "admin"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  purgeAmountOption,
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(3),
		},
	)
	h.commandPurge(context.Background(), i)

	// the 20-day-old message is skipped, the rest bulk-deleted
	require.Len(t, session.bulkDeletes, 1)
	assert.Equal(t, []string{"m3", "m2"}, session.bulkDeletes[0])
	assert.Contains(t, lastEphemeral(t, session), "2 mensagem(ns)")

	// moderation action noted in the log channel
	require.Len(t, session.sends, 1)
	assert.Equal(t, "chan-log", session.sends[0].ChannelID)
	assert.Contains(t, session.sends[0].Content, "admin")
}

func TestCommandPurgeSingleMessage(t *testing.T) {
	h, session := newTestBot(t)
	session.messagesByChan["chan-cmd"] = []*discordgo.Message{
		{ID: "m1", Timestamp: time.Now()},
	}

	i := slashInteraction(
		DiscordSlashCommandPurge,
		adminMember("admin-1", "admin"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  purgeAmountOption,
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(1),
		},
	)
	h.commandPurge(context.Background(), i)

	// single deletes skip the bulk endpoint
	assert.Empty(t, session.bulkDeletes)
	assert.Equal(t, []string{"m1"}, session.deletedMessages)
}

func TestCommandPurgeNothingRecent(t *testing.T) {
	h, session := newTestBot(t)
	session.messagesByChan["chan-cmd"] = []*discordgo.Message{
		{ID: "m1", Timestamp: time.Now().Add(-30 * 24 * time.Hour)},
	}

	i := slashInteraction(
		DiscordSlashCommandPurge,
		adminMember("admin-1", "admin"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  purgeAmountOption,
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(5),
		},
	)
	h.commandPurge(context.Background(), i)

	assert.Empty(t, session.bulkDeletes)
	assert.Empty(t, session.deletedMessages)
	assert.Contains(t, lastEphemeral(t, session), "Nenhuma mensagem recente")
}

func TestCommandPurgeRequiresModerator(t *testing.T) {
	h, session := newTestBot(t)
	session.messagesByChan["chan-cmd"] = []*discordgo.Message{
		{ID: "m1", Timestamp: time.Now()},
	}

	i := slashInteraction(
		DiscordSlashCommandPurge,
		testMember("user-1", "fulano"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  purgeAmountOption,
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(1),
		},
	)
	h.commandPurge(context.Background(), i)

	assert.Empty(t, session.deletedMessages)
	assert.Contains(t, lastEphemeral(t, session), "não tem permissão")
}

func TestCommandConnect(t *testing.T) {
	h, session := newTestBot(t)

	i := slashInteraction(DiscordSlashCommandConnect, testMember("user-1", "fulano"))
	h.commandConnect(context.Background(), i)

	require.Len(t, session.interactionResponses, 1)
	resp := session.interactionResponses[0]
	require.NotNil(t, resp.Data)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	require.Len(t, resp.Data.Embeds, 1)
	require.Len(t, resp.Data.Components, 1)

	row, ok := resp.Data.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	button, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, discordgo.LinkButton, button.Style)
	assert.Equal(t, fivemConnectURL, button.URL)
}

package halion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// onboardingTopicMarker prefixes the channel topic of every whitelist
// channel, followed by the applicant's user ID. The duplicate-session
// guard scans for it, so it survives bot restarts.
const onboardingTopicMarker = "halion-wl:"

// ActiveSession is one in-flight whitelist attempt.
type ActiveSession struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ChannelID string    `json:"channel_id"`
	StartedAt time.Time `json:"started_at"`
}

// OnboardingManager owns the lifecycle of whitelist attempts: admission
// guards, private channel creation, handing off to the questionnaire
// engine, and guaranteed channel teardown.
type OnboardingManager struct {
	config    *OnboardingConfig
	session   DiscordSessionHandler
	engine    *QuestionnaireEngine
	cooldowns *CooldownRegistry
	logger    *slog.Logger

	// selfID returns the bot's own user ID, once known
	selfID func() string

	mu     sync.Mutex
	active map[string]ActiveSession
}

func newOnboardingManager(
	config *OnboardingConfig,
	session DiscordSessionHandler,
	engine *QuestionnaireEngine,
	cooldowns *CooldownRegistry,
	selfID func() string,
	logger *slog.Logger,
) *OnboardingManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnboardingManager{
		config:    config,
		session:   session,
		engine:    engine,
		cooldowns: cooldowns,
		selfID:    selfID,
		logger:    logger.With(loggerNameKey, "onboarding"),
		active:    map[string]ActiveSession{},
	}
}

// Active returns a snapshot of in-flight attempts, for the status API.
func (m *OnboardingManager) Active() []ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]ActiveSession, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	return sessions
}

// Begin runs the admission guards and, if they pass, creates the
// applicant's private whitelist channel and starts their cooldown.
// Guard order matters: cooldown is checked before the duplicate scan so
// a user on cooldown gets the wait message even if a stale channel of
// theirs still exists.
//
// Errors map onto the start-refusal taxonomy via userFacingStartMessage.
func (m *OnboardingManager) Begin(
	ctx context.Context,
	guildID string,
	member *discordgo.Member,
) (ActiveSession, error) {
	var sess ActiveSession
	if member == nil || member.User == nil {
		return sess, fmt.Errorf("%w: no guild member on interaction", ErrConfigurationMissing)
	}
	user := member.User

	logger := m.logger.With(
		"guild_id", guildID,
		"user_id", user.ID,
		"username", user.Username,
	)
	if ctxLogger, ok := ContextLogger(ctx); ok {
		logger = ctxLogger.With("user_id", user.ID)
	}

	if remaining, onCooldown := m.cooldowns.Remaining(user.ID); onCooldown {
		logger.Info("start refused, cooldown active", "remaining", remaining)
		return sess, CooldownActiveError{Remaining: remaining}
	}

	if err := m.guardDuplicate(guildID, user.ID); err != nil {
		logger.Info("start refused", tint.Err(err))
		return sess, err
	}

	// best-effort: a missing or mis-ordered role must not block onboarding
	if roleID := m.config.UnderReviewRoleID; roleID != "" {
		if err := m.session.GuildMemberRoleAdd(
			guildID, user.ID, roleID,
		); err != nil {
			logger.Warn(
				"could not grant under-review role",
				"role_id", roleID,
				tint.Err(err),
			)
		}
	}

	channel, err := m.createChannel(guildID, user)
	if err != nil {
		logger.Error("could not create whitelist channel", tint.Err(err))
		// the attempt never started, take the under-review role back
		if roleID := m.config.UnderReviewRoleID; roleID != "" {
			if removeErr := m.session.GuildMemberRoleRemove(
				guildID, user.ID, roleID,
			); removeErr != nil {
				logger.Warn(
					"could not revoke under-review role",
					"role_id", roleID,
					tint.Err(removeErr),
				)
			}
		}
		return sess, classifyDiscordError(err)
	}

	// the cooldown clock starts once the attempt is real, i.e. the
	// channel exists, and runs regardless of how the attempt ends
	m.cooldowns.Begin(user.ID)

	sess = ActiveSession{
		UserID:    user.ID,
		Username:  user.Username,
		ChannelID: channel.ID,
		StartedAt: time.Now(),
	}
	m.mu.Lock()
	m.active[user.ID] = sess
	m.mu.Unlock()

	logger.Info(
		"whitelist attempt started",
		"channel_id", channel.ID,
		"channel_name", channel.Name,
	)
	return sess, nil
}

// Run executes the questionnaire for an admitted session and always
// tears the channel down afterward, whatever the outcome.
func (m *OnboardingManager) Run(
	ctx context.Context,
	guildID string,
	sess ActiveSession,
	user *discordgo.User,
) QuestionnaireResult {
	defer func() {
		m.mu.Lock()
		delete(m.active, user.ID)
		m.mu.Unlock()
	}()

	logger := m.logger.With(
		"guild_id", guildID,
		"channel_id", sess.ChannelID,
		"user_id", user.ID,
	)

	result, err := m.engine.Run(ctx, guildID, sess.ChannelID, user)
	if err != nil {
		logger.Error("questionnaire run failed", tint.Err(err))
	}

	m.teardown(ctx, logger, guildID, sess, user, result.Outcome)
	return result
}

// guardDuplicate refuses a start when the user already has a whitelist
// channel, identified by the topic marker.
func (m *OnboardingManager) guardDuplicate(guildID string, userID string) error {
	channels, err := m.session.GuildChannels(guildID)
	if err != nil {
		return classifyDiscordError(err)
	}
	marker := onboardingTopicMarker + userID
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Topic == marker {
			return ErrDuplicateSession
		}
	}
	return nil
}

func (m *OnboardingManager) createChannel(
	guildID string,
	user *discordgo.User,
) (*discordgo.Channel, error) {
	name := fmt.Sprintf(
		"wl-%s-%s",
		sanitizeChannelName(user.Username),
		lastN(user.ID, 4),
	)

	memberAllow := int64(
		discordgo.PermissionViewChannel |
			discordgo.PermissionSendMessages |
			discordgo.PermissionReadMessageHistory,
	)
	overwrites := []*discordgo.PermissionOverwrite{
		{
			// @everyone
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: int64(discordgo.PermissionViewChannel),
		},
		{
			ID:    user.ID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: memberAllow,
		},
	}
	if selfID := m.selfID(); selfID != "" {
		overwrites = append(
			overwrites,
			&discordgo.PermissionOverwrite{
				ID:   selfID,
				Type: discordgo.PermissionOverwriteTypeMember,
				Allow: memberAllow | int64(
					discordgo.PermissionManageMessages|
						discordgo.PermissionManageChannels,
				),
			},
		)
	}
	for _, roleID := range m.config.StaffRoleIDs {
		overwrites = append(
			overwrites,
			&discordgo.PermissionOverwrite{
				ID:    roleID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: memberAllow,
			},
		)
	}

	return m.session.GuildChannelCreateComplex(
		guildID,
		discordgo.GuildChannelCreateData{
			Name:                 name,
			Type:                 discordgo.ChannelTypeGuildText,
			Topic:                onboardingTopicMarker + user.ID,
			ParentID:             m.config.CategoryID,
			PermissionOverwrites: overwrites,
		},
	)
}

// teardown removes the under-review role, waits out the grace period so
// the applicant can read the final message, then deletes the channel.
// Shutdown cancels the grace wait but never skips the delete.
func (m *OnboardingManager) teardown(
	ctx context.Context,
	logger *slog.Logger,
	guildID string,
	sess ActiveSession,
	user *discordgo.User,
	outcome QuestionnaireOutcome,
) {
	if roleID := m.config.UnderReviewRoleID; roleID != "" {
		if err := m.session.GuildMemberRoleRemove(
			guildID, user.ID, roleID,
		); err != nil {
			logger.Warn(
				"could not remove under-review role",
				"role_id", roleID,
				tint.Err(err),
			)
		}
	}

	grace := m.config.TeardownGrace
	if outcome == OutcomeTimedOut {
		grace = m.config.RejectGrace
	}
	if outcome != OutcomeAborted && grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	_, err := m.session.ChannelDelete(sess.ChannelID)
	switch {
	case err == nil:
		logger.Info("whitelist channel deleted", "outcome", outcome)
	case isUnknownChannel(err):
		logger.Info("whitelist channel already gone", "outcome", outcome)
	case isMissingPermissions(err):
		logger.Error(
			"FATAL: cannot delete whitelist channel, missing permissions, manual cleanup required",
			"channel_id", sess.ChannelID,
			tint.Err(err),
		)
	default:
		logger.Error(
			"FATAL: could not delete whitelist channel, manual cleanup required",
			"channel_id", sess.ChannelID,
			tint.Err(err),
		)
	}
}

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Jhon-Ross/Bot-HalionRP/halion"
	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General config

HALION_LOG_LEVEL=INFO
HALION_STARTUP_TIMEOUT=30s
HALION_SHUTDOWN_TIMEOUT=60s

# Discord bot config

HALION_DISCORD_TOKEN=your-discord-bot-token
HALION_DISCORD_APPLICATION_ID=your-discord-bot-app-id
HALION_DISCORD_GUILD_ID=123456789
HALION_DISCORD_LOG_LEVEL=WARN
HALION_DISCORD_DISCORDGO_LOG_LEVEL=WARN
HALION_DISCORD_STARTUP_MESSAGE="I'm here!"
HALION_DISCORD_GATEWAY_INTENTS=3243773

# Onboarding config

HALION_ONBOARDING_TOTAL_DURATION=20m
HALION_ONBOARDING_COOLDOWN=30m
HALION_ONBOARDING_REVIEW_CHANNEL_NAME=respostas-whitelist
HALION_ONBOARDING_COUNTER_FILE=/var/lib/halion/attempt_id.txt
HALION_ONBOARDING_LEDGER_FILE=/var/lib/halion/respostas.csv
HALION_ONBOARDING_LEDGER_UTC_OFFSET=-3h
HALION_ONBOARDING_TEARDOWN_GRACE=15s
HALION_ONBOARDING_REJECT_GRACE=10s
HALION_ONBOARDING_ANSWER_MAX_CHARS=1000
HALION_ONBOARDING_STAFF_ROLE_IDS=111 222

# Tickets

HALION_TICKETS_TRANSCRIPT_CHUNK_SIZE=1950
HALION_TICKETS_CLOSE_NOTICE=5s

# Verification

HALION_VERIFICATION_VISITOR_ROLE_ID=333
HALION_VERIFICATION_VERIFIED_ROLE_ID=444

# API server

HALION_API_LISTEN=127.0.0.1:5000
HALION_API_LOG_LEVEL=DEBUG
HALION_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
HALION_API_CORS_ALLOW_METHODS=GET OPTIONS HEAD
HALION_API_CORS_MAX_AGE=12h
HALION_API_READ_TIMEOUT=5s
HALION_API_READ_HEADER_TIMEOUT=5s
HALION_API_WRITE_TIMEOUT=10s
HALION_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(
		t,
		"your-discord-bot-app-id",
		viper.GetString("discord.application_id"),
	)
	assert.Equal(t, "123456789", viper.GetString("discord.guild_id"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, "I'm here!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))

	assert.Equal(t, 20*time.Minute, viper.GetDuration("onboarding.total_duration"))
	assert.Equal(t, 30*time.Minute, viper.GetDuration("onboarding.cooldown"))
	assert.Equal(
		t,
		"respostas-whitelist",
		viper.GetString("onboarding.review_channel_name"),
	)
	assert.Equal(
		t,
		[]string{"111", "222"},
		viper.GetStringSlice("onboarding.staff_role_ids"),
	)

	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(
		t,
		[]string{"GET", "OPTIONS", "HEAD"},
		viper.GetStringSlice("api.cors.allow_methods"),
	)

	// Unmarshal the configuration into a halion.Config struct
	var config halion.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "123456789", config.Discord.GuildID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "I'm here!", config.Discord.StartupMessage)
	assert.Equal(t, discordgo.Intent(3243773), config.Discord.GatewayIntents)

	assert.Equal(t, 20*time.Minute, config.Onboarding.TotalDuration)
	assert.Equal(t, 30*time.Minute, config.Onboarding.Cooldown)
	assert.Equal(t, "respostas-whitelist", config.Onboarding.ReviewChannelName)
	assert.Equal(t, "/var/lib/halion/attempt_id.txt", config.Onboarding.CounterFile)
	assert.Equal(t, "/var/lib/halion/respostas.csv", config.Onboarding.LedgerFile)
	assert.Equal(t, -3*time.Hour, config.Onboarding.LedgerUTCOffset)
	assert.Equal(t, 15*time.Second, config.Onboarding.TeardownGrace)
	assert.Equal(t, 10*time.Second, config.Onboarding.RejectGrace)
	assert.Equal(t, 1000, config.Onboarding.AnswerMaxChars)
	assert.Equal(t, halion.DefaultQuestions, config.Onboarding.Questions)

	assert.Equal(t, 1950, config.Tickets.TranscriptChunkSize)
	assert.Equal(t, 5*time.Second, config.Tickets.CloseNotice)

	assert.Equal(t, "333", config.Verification.VisitorRoleID)
	assert.Equal(t, "444", config.Verification.VerifiedRoleID)

	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(t, 12*time.Hour, config.API.CORS.MaxAge)
	assert.Equal(t, 5*time.Second, config.API.ReadTimeout)
	assert.Equal(t, 10*time.Second, config.API.WriteTimeout)
	assert.Equal(t, 30*time.Second, config.API.IdleTimeout)
}

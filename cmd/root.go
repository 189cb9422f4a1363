package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/Jhon-Ross/Bot-HalionRP/halion"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = halion.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "halion [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("log_level", halion.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", halion.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", halion.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		halion.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		halion.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		halion.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.custom_status", halion.DefaultDiscordCustomStatus)
	viper.SetDefault(
		"discord.startup_message",
		halion.DefaultDiscordStartupMessage,
	)

	// Onboarding config
	viper.SetDefault("onboarding.questions", halion.DefaultQuestions)
	viper.SetDefault(
		"onboarding.total_duration",
		halion.DefaultOnboardingTotalDuration,
	)
	viper.SetDefault("onboarding.cooldown", halion.DefaultOnboardingCooldown)
	viper.SetDefault("onboarding.category_id", "")
	viper.SetDefault("onboarding.under_review_role_id", "")
	viper.SetDefault("onboarding.staff_role_ids", []string{})
	viper.SetDefault(
		"onboarding.review_channel_name",
		halion.DefaultReviewChannelName,
	)
	viper.SetDefault("onboarding.counter_file", halion.DefaultAttemptCounterFile)
	viper.SetDefault("onboarding.ledger_file", halion.DefaultResponseLedgerFile)
	viper.SetDefault("onboarding.ledger_utc_offset", halion.DefaultLedgerUTCOffset)
	viper.SetDefault(
		"onboarding.teardown_grace",
		halion.DefaultOnboardingTeardownGrace,
	)
	viper.SetDefault(
		"onboarding.reject_grace",
		halion.DefaultOnboardingRejectGrace,
	)
	viper.SetDefault(
		"onboarding.answer_max_chars",
		halion.DefaultOnboardingAnswerMaxChars,
	)

	// Ticket config
	viper.SetDefault("tickets.category_id", "")
	viper.SetDefault("tickets.staff_role_ids", []string{})
	viper.SetDefault("tickets.log_channel_id", "")
	viper.SetDefault("tickets.closed_log_channel_id", "")
	viper.SetDefault(
		"tickets.transcript_chunk_size",
		halion.DefaultTicketTranscriptChunkSize,
	)
	viper.SetDefault(
		"tickets.transcript_per_second",
		halion.DefaultTicketTranscriptPerSecond,
	)
	viper.SetDefault("tickets.close_notice", halion.DefaultTicketCloseNotice)

	// Verification config
	viper.SetDefault("verification.visitor_role_id", "")
	viper.SetDefault("verification.verified_role_id", "")

	// Community config
	viper.SetDefault("community.welcome_channel_id", "")
	viper.SetDefault("community.log_channel_id", "")
	viper.SetDefault("community.announcement_channel_id", "")
	viper.SetDefault("community.notices_channel_id", "")
	viper.SetDefault(
		"community.announcement_message_id_file",
		halion.DefaultAnnouncementMessageIDFile,
	)
	viper.SetDefault("community.mod_role_ids", []string{})

	// API config
	viper.SetDefault("api.listen", halion.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", halion.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", halion.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		halion.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", halion.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", halion.DefaultIdleTimeout)
	viper.SetDefault("api.development", false)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", halion.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", halion.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", halion.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", false)

	envPrefix := os.Getenv(halion.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = halion.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"onboarding.staff_role_ids",
		viper.GetStringSlice("onboarding.staff_role_ids"),
	)
	viper.Set(
		"tickets.staff_role_ids",
		viper.GetStringSlice("tickets.staff_role_ids"),
	)
	viper.Set(
		"community.mod_role_ids",
		viper.GetStringSlice("community.mod_role_ids"),
	)
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)

	for _, key := range []string{
		"log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}

//nolint:lll // struct tags can't be split
package halion

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "HALION_ENV_PREFIX"
	DefaultEnvPrefix   = "HALION"

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent

	DefaultDiscordCustomStatus   = "Halion RP"
	DefaultDiscordStartupMessage = "🟢 Bot online e pronto para operar!"

	// DiscordSlashCommandWhitelist posts the whitelist panel with the
	// persistent start button.
	DiscordSlashCommandWhitelist = "whitelist"
	DiscordSlashCommandVerify    = "verificar"
	DiscordSlashCommandTicket    = "setup_ticket"
	DiscordSlashCommandAnnounce  = "comunicados"
	DiscordSlashCommandPurge     = "excluir"
	DiscordSlashCommandConnect   = "connect"

	// Component custom IDs. These are persisted in messages, so changing
	// them orphans any previously-posted panel.
	customIDStartWhitelist = "start_whitelist"
	customIDVerifyMember   = "verificar_botao"
	customIDCreateTicket   = "create_ticket_button"
	customIDCloseTicket    = "close_ticket_button"

	DefaultOnboardingTotalDuration  = 20 * time.Minute
	DefaultOnboardingCooldown       = 30 * time.Minute
	DefaultOnboardingTeardownGrace  = 15 * time.Second
	DefaultOnboardingRejectGrace    = 10 * time.Second
	DefaultOnboardingAnswerMaxChars = 1000
	DefaultReviewChannelName        = "respostas-whitelist"
	DefaultAttemptCounterFile       = "data/whitelist_attempt_id.txt"
	DefaultResponseLedgerFile       = "data/whitelist_respostas.csv"

	// DefaultLedgerUTCOffset is the fixed offset applied to completion
	// timestamps written to the ledger (Brasília time). Deadline math always
	// uses UTC.
	DefaultLedgerUTCOffset = -3 * time.Hour

	DefaultTicketTranscriptChunkSize = 1950
	DefaultTicketTranscriptPerSecond = 1.5
	DefaultTicketCloseNotice         = 5 * time.Second

	DefaultAnnouncementMessageIDFile = "data/comunicados_message_id.txt"

	DefaultAPIListen          = "127.0.0.1:5000"
	defaultListenNetwork      = "tcp"
	DefaultReadTimeout        = 5 * time.Second
	DefaultReadHeaderTimeout  = 5 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultIdleTimeout        = 30 * time.Second
	DefaultCORSMaxAge         = 12 * time.Hour
	discordMaxMessageLength   = 2000
	discordMaxEmbedFieldChars = 1024
)

// DefaultQuestions is the whitelist questionnaire, asked in order.
var DefaultQuestions = []string{
	"1️⃣ Qual é a sua idade?",
	"2️⃣ Você já jogou em outros servidores de RP?",
	"3️⃣ O que você entende por 'roleplay'?",
	"4️⃣ Como você reagiria a uma situação de assalto no jogo?",
	"5️⃣ O que você faria se encontrasse um bug no servidor?",
}

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
	}
)

var structValidator = validator.New()

//nolint:gochecknoinits // validator tag registration
func init() {
	structValidator.SetTagName("binding")
}

// Config is the root configuration for the bot. Values are populated by
// the cmd package from env/config file via viper, and validated with
// `binding` tags before Run starts anything.
type Config struct {
	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the gateway connection and bot identity
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Onboarding configures the whitelist questionnaire workflow
	Onboarding *OnboardingConfig `yaml:"onboarding" mapstructure:"onboarding" json:"onboarding"`

	// Tickets configures the support-ticket system
	Tickets *TicketConfig `yaml:"tickets" mapstructure:"tickets" json:"tickets"`

	// Verification configures the visitor->verified role exchange
	Verification *VerificationConfig `yaml:"verification" mapstructure:"verification" json:"verification"`

	// Community configures welcome/announcement/log channels and mod roles
	Community *CommunityConfig `yaml:"community" mapstructure:"community" json:"community"`

	// API configures the operational status HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID of the community this bot manages. Slash commands are
	// registered against this guild only.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set as the bot user's status after connecting
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// StartupMessage is sent to [CommunityConfig.LogChannelID] whenever the
	// bot connects to the gateway, if both are set.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`
}

// OnboardingConfig configures the whitelist onboarding workflow: the
// questionnaire content, its timing, the channel/role scaffolding, and the
// two flat files backing attempt persistence.
//
//nolint:lll // can't break tags
type OnboardingConfig struct {
	// Questions are asked in order, one at a time. Order is significant.
	Questions []string `yaml:"questions" mapstructure:"questions" json:"questions" binding:"min=1"`

	// TotalDuration is the global deadline for the entire questionnaire,
	// measured from the moment the run starts. It is not per-question.
	TotalDuration time.Duration `yaml:"total_duration" mapstructure:"total_duration" json:"total_duration" binding:"min=1m"`

	// Cooldown is the minimum wait between the start of one attempt and the
	// start of the next, for the same user. Applied when an attempt starts,
	// regardless of how it ends.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown" binding:"min=1m"`

	// CategoryID is the channel category under which whitelist channels are
	// created. Empty means top-level.
	CategoryID string `yaml:"category_id" mapstructure:"category_id" json:"category_id"`

	// UnderReviewRoleID is granted for the duration of an attempt,
	// best-effort, and removed on teardown.
	UnderReviewRoleID string `yaml:"under_review_role_id" mapstructure:"under_review_role_id" json:"under_review_role_id"`

	// StaffRoleIDs can see every whitelist channel.
	StaffRoleIDs []string `yaml:"staff_role_ids" mapstructure:"staff_role_ids" json:"staff_role_ids"`

	// ReviewChannelName is the well-known name of the channel completed
	// transcripts are posted to. If no channel by this name exists, the
	// transcript is dropped with a warning.
	ReviewChannelName string `yaml:"review_channel_name" mapstructure:"review_channel_name" json:"review_channel_name" binding:"required"`

	// CounterFile holds the last committed attempt ID as a plain integer.
	CounterFile string `yaml:"counter_file" mapstructure:"counter_file" json:"counter_file" binding:"required"`

	// LedgerFile is the append-only CSV of completed attempts.
	LedgerFile string `yaml:"ledger_file" mapstructure:"ledger_file" json:"ledger_file" binding:"required"`

	// LedgerUTCOffset is the fixed offset applied to completion timestamps
	// written to the ledger. Internal deadline math always uses UTC.
	LedgerUTCOffset time.Duration `yaml:"ledger_utc_offset" mapstructure:"ledger_utc_offset" json:"ledger_utc_offset"`

	// TeardownGrace is how long the channel outlives the final message, so
	// the user can read it before the room disappears.
	TeardownGrace time.Duration `yaml:"teardown_grace" mapstructure:"teardown_grace" json:"teardown_grace"`

	// RejectGrace is the (shorter) delay before deleting a channel whose
	// run ended in timeout.
	RejectGrace time.Duration `yaml:"reject_grace" mapstructure:"reject_grace" json:"reject_grace"`

	// AnswerMaxChars caps a single answer as shown in the review transcript.
	// Longer answers are truncated with a visible marker. The ledger always
	// stores the full text.
	AnswerMaxChars int `yaml:"answer_max_chars" mapstructure:"answer_max_chars" json:"answer_max_chars" binding:"min=1"`
}

// LedgerLocation returns the fixed-offset location used for ledger
// timestamps.
func (c OnboardingConfig) LedgerLocation() *time.Location {
	offset := int(c.LedgerUTCOffset / time.Second)
	return time.FixedZone("ledger", offset)
}

// TicketConfig configures the support-ticket system.
//
//nolint:lll // can't break tags
type TicketConfig struct {
	// CategoryID is the channel category tickets are created under.
	CategoryID string `yaml:"category_id" mapstructure:"category_id" json:"category_id"`

	// StaffRoleIDs can see and close tickets.
	StaffRoleIDs []string `yaml:"staff_role_ids" mapstructure:"staff_role_ids" json:"staff_role_ids"`

	// LogChannelID receives open/close notices. Optional.
	LogChannelID string `yaml:"log_channel_id" mapstructure:"log_channel_id" json:"log_channel_id"`

	// ClosedLogChannelID receives the transcript of closed tickets. Optional.
	ClosedLogChannelID string `yaml:"closed_log_channel_id" mapstructure:"closed_log_channel_id" json:"closed_log_channel_id"`

	// TranscriptChunkSize is the max characters per transcript message.
	TranscriptChunkSize int `yaml:"transcript_chunk_size" mapstructure:"transcript_chunk_size" json:"transcript_chunk_size" binding:"min=100"`

	// TranscriptPerSecond limits how fast transcript chunks are sent, to
	// stay under Discord rate limits.
	TranscriptPerSecond float64 `yaml:"transcript_per_second" mapstructure:"transcript_per_second" json:"transcript_per_second"`

	// CloseNotice is how long the "this ticket will be deleted" message is
	// shown before the channel is removed.
	CloseNotice time.Duration `yaml:"close_notice" mapstructure:"close_notice" json:"close_notice"`
}

// VerificationConfig configures the visitor -> verified role exchange.
type VerificationConfig struct {
	// VisitorRoleID is granted on join and required to verify.
	VisitorRoleID string `yaml:"visitor_role_id" mapstructure:"visitor_role_id" json:"visitor_role_id"`

	// VerifiedRoleID is granted by the verification button.
	VerifiedRoleID string `yaml:"verified_role_id" mapstructure:"verified_role_id" json:"verified_role_id"`
}

// CommunityConfig configures the channels and roles the community features
// hang off of.
//
//nolint:lll // can't break tags
type CommunityConfig struct {
	// WelcomeChannelID receives the welcome embed on member join. Optional.
	WelcomeChannelID string `yaml:"welcome_channel_id" mapstructure:"welcome_channel_id" json:"welcome_channel_id"`

	// LogChannelID receives operational embeds (startup, joins/leaves,
	// moderation). Optional.
	LogChannelID string `yaml:"log_channel_id" mapstructure:"log_channel_id" json:"log_channel_id"`

	// AnnouncementChannelID is the channel whose single official
	// announcement message is edited in place by /comunicados.
	AnnouncementChannelID string `yaml:"announcement_channel_id" mapstructure:"announcement_channel_id" json:"announcement_channel_id"`

	// NoticesChannelID also accepts /comunicados, but always gets a fresh
	// message rather than an edit.
	NoticesChannelID string `yaml:"notices_channel_id" mapstructure:"notices_channel_id" json:"notices_channel_id"`

	// AnnouncementMessageIDFile persists the ID of the official announcement
	// message across restarts.
	AnnouncementMessageIDFile string `yaml:"announcement_message_id_file" mapstructure:"announcement_message_id_file" json:"announcement_message_id_file"`

	// ModRoleIDs gate the moderation/announcement/verification-panel
	// commands.
	ModRoleIDs []string `yaml:"mod_role_ids" mapstructure:"mod_role_ids" json:"mod_role_ids"`
}

// APIConfig configures the status HTTP server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`

	// If true, gin runs without the recovery middleware and allows all origins.
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	questions := make([]string, len(DefaultQuestions))
	copy(questions, DefaultQuestions)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			CustomStatus:      DefaultDiscordCustomStatus,
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		Onboarding: &OnboardingConfig{
			Questions:         questions,
			TotalDuration:     DefaultOnboardingTotalDuration,
			Cooldown:          DefaultOnboardingCooldown,
			ReviewChannelName: DefaultReviewChannelName,
			CounterFile:       DefaultAttemptCounterFile,
			LedgerFile:        DefaultResponseLedgerFile,
			LedgerUTCOffset:   DefaultLedgerUTCOffset,
			TeardownGrace:     DefaultOnboardingTeardownGrace,
			RejectGrace:       DefaultOnboardingRejectGrace,
			AnswerMaxChars:    DefaultOnboardingAnswerMaxChars,
		},
		Tickets: &TicketConfig{
			TranscriptChunkSize: DefaultTicketTranscriptChunkSize,
			TranscriptPerSecond: DefaultTicketTranscriptPerSecond,
			CloseNotice:         DefaultTicketCloseNotice,
		},
		Verification: &VerificationConfig{},
		Community: &CommunityConfig{
			AnnouncementMessageIDFile: DefaultAnnouncementMessageIDFile,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			CORS:              DefaultCORSConfig(),
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}

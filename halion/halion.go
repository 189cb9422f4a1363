// Package halion implements the Halion RP community management bot: a
// timed, resumable whitelist questionnaire run in private channels, plus
// member verification, support tickets, announcements and moderation
// helpers, with a small read-only status API on the side.
package halion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var defaultLogWriter io.Writer = os.Stdout

// Halion is the top-level bot: it owns the configuration, the discord
// session, the onboarding pipeline and the status API, and ties their
// lifecycles together.
type Halion struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	discord       *Discord
	api           *API
	router        *messageRouter
	cooldowns     *CooldownRegistry
	counter       *AttemptCounter
	ledger        *ResponseLedger
	engine        *QuestionnaireEngine
	onboarding    *OnboardingManager
	announcements *messageIDStore

	// runCtx is the context passed to Run, used as the parent for all
	// interaction handling. Set before the gateway opens.
	runCtx context.Context

	// runWG tracks in-flight questionnaire runs so shutdown can wait for
	// their channel teardown.
	runWG sync.WaitGroup

	botUserID atomic.Value

	eventHandlersRegistered atomic.Bool
}

// New assembles a Halion bot from the given config. The config must
// already be fully populated; New validates it and wires every component
// but touches neither discord nor the filesystem.
func New(config *Config) (*Halion, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	h := &Halion{config: config}

	h.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	h.logger = slog.New(h.logHandler)
	slog.SetDefault(h.logger)

	disc, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	disc.bot = h
	h.discord = disc

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	session, err := disc.newSession()
	if err != nil {
		return nil, err
	}
	session.SetIdentify(
		discordgo.Identify{
			Intents: config.Discord.GatewayIntents,
			Token:   config.Discord.Token,
		},
	)
	disc.session = session

	h.router = newMessageRouter(h.logger)
	h.cooldowns = NewCooldownRegistry(config.Onboarding.Cooldown)
	h.counter = NewAttemptCounter(config.Onboarding.CounterFile, h.logger)
	h.ledger = NewResponseLedger(
		config.Onboarding.LedgerFile,
		config.Onboarding.LedgerLocation(),
	)
	h.engine = newQuestionnaireEngine(
		config.Onboarding,
		session,
		h.router,
		h.counter,
		h.ledger,
		h.logger,
	)
	h.onboarding = newOnboardingManager(
		config.Onboarding,
		session,
		h.engine,
		h.cooldowns,
		h.selfID,
		h.logger,
	)
	h.announcements = newMessageIDStore(
		config.Community.AnnouncementMessageIDFile,
	)

	api, err := newAPI(h, config.API)
	if err != nil {
		return nil, err
	}
	h.api = api

	return h, nil
}

func (h *Halion) setSelfID(id string) {
	h.botUserID.Store(id)
}

func (h *Halion) selfID() string {
	id, _ := h.botUserID.Load().(string)
	return id
}

// ctx returns the run context, or a background context if the bot is
// not running (as in tests that call handlers directly).
func (h *Halion) ctx() context.Context {
	if h.runCtx != nil {
		return h.runCtx
	}
	return context.Background()
}

// ctxLogger returns the logger carried by ctx, falling back to the
// bot's logger.
func (h *Halion) ctxLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok && logger != nil {
		return logger
	}
	return h.logger
}

// registerEventHandlers attaches all gateway handlers to the session,
// keeping the removal funcs so Stop can detach them.
func (h *Halion) registerEventHandlers() {
	if !h.eventHandlersRegistered.CompareAndSwap(false, true) {
		return
	}
	d := h.discord
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(d.handlerInteractionCreate()),
		d.session.AddHandler(d.handlerGuildMemberAdd()),
		d.session.AddHandler(d.handlerGuildMemberRemove()),
		d.session.AddHandler(h.router.handlerMessageCreate()),
	)
}

// Run connects to discord, registers commands, serves the status API
// and blocks until ctx is canceled, then shuts everything down.
func (h *Halion) Run(ctx context.Context) error {
	h.runCtx = ctx

	startupCtx, startupCancel := context.WithTimeout(
		ctx,
		h.config.StartupTimeout,
	)
	defer startupCancel()

	h.registerEventHandlers()

	h.logger.Info("opening discord gateway connection")
	if err := h.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}

	if _, err := h.discord.registerCommands(
		discordgo.WithContext(startupCtx),
	); err != nil {
		_ = h.discord.session.Close()
		return fmt.Errorf("error registering commands: %w", err)
	}

	if status := h.config.Discord.CustomStatus; status != "" {
		if err := h.discord.updateCustomStatus(status); err != nil {
			h.logger.Warn("could not set custom status", tint.Err(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(
		func() error {
			if err := h.api.Serve(gctx); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	)
	g.Go(
		func() error {
			<-gctx.Done()
			h.shutdown()
			return nil
		},
	)

	h.logger.Info("bot running", "config", h.config)
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown detaches gateway handlers, closes the session, waits out
// in-flight questionnaire teardowns, and stops the API server. Bounded
// by ShutdownTimeout.
func (h *Halion) shutdown() {
	h.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		h.config.ShutdownTimeout,
	)
	defer cancel()

	for _, removeHandler := range h.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}
	h.discord.discordgoRemoveHandlerFuncs = nil

	done := make(chan struct{})
	go func() {
		h.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info("all questionnaire runs finished")
	case <-shutdownCtx.Done():
		h.logger.Warn(
			"shutdown timeout elapsed with questionnaire runs still active",
		)
	}

	if err := h.discord.session.Close(); err != nil {
		h.logger.Error("error closing discord session", tint.Err(err))
	}

	if err := h.api.Shutdown(shutdownCtx); err != nil {
		h.logger.Error("error shutting down api server", tint.Err(err))
	}

	h.logger.Info("shutdown complete")
}

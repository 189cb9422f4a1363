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

// routerBufferSize is the per-subscription message buffer. An applicant
// would have to outrun the engine by this many messages before anything
// is dropped.
const routerBufferSize = 16

// messageRouter fans MessageCreate gateway events out to questionnaire
// runs. Each run subscribes to exactly one (channel, user) pair and
// receives only that user's messages in that channel, so the engine
// never sees unrelated traffic.
type messageRouter struct {
	mu     sync.Mutex
	subs   map[string]chan *discordgo.Message
	logger *slog.Logger
}

func newMessageRouter(logger *slog.Logger) *messageRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &messageRouter{
		subs:   map[string]chan *discordgo.Message{},
		logger: logger.With(loggerNameKey, "message_router"),
	}
}

func routerKey(channelID string, userID string) string {
	return channelID + ":" + userID
}

// Subscribe registers interest in messages from userID in channelID.
// The returned cancel function removes the subscription and must be
// called on every exit path, or the slot leaks and a later run for the
// same pair cannot subscribe.
func (r *messageRouter) Subscribe(
	channelID string,
	userID string,
) (<-chan *discordgo.Message, func(), error) {
	key := routerKey(channelID, userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[key]; exists {
		return nil, nil, fmt.Errorf(
			"subscription already exists for %s", key,
		)
	}
	ch := make(chan *discordgo.Message, routerBufferSize)
	r.subs[key] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.subs[key]; ok && existing == ch {
			delete(r.subs, key)
		}
	}
	return ch, cancel, nil
}

// handlerMessageCreate routes incoming guild messages to the matching
// subscription, if any. Bot messages are ignored.
func (r *messageRouter) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}

		r.mu.Lock()
		ch, ok := r.subs[routerKey(m.ChannelID, m.Author.ID)]
		r.mu.Unlock()
		if !ok {
			return
		}

		select {
		case ch <- m.Message:
		default:
			r.logger.Warn(
				"dropping message, subscriber buffer full",
				"channel_id", m.ChannelID,
				"user_id", m.Author.ID,
			)
		}
	}
}

// QuestionnaireOutcome describes how a run ended.
type QuestionnaireOutcome string

const (
	OutcomeCompleted QuestionnaireOutcome = "completed"
	OutcomeTimedOut  QuestionnaireOutcome = "timed_out"
	OutcomeAborted   QuestionnaireOutcome = "aborted"
)

// QuestionnaireResult is what a finished run reports back to the
// onboarding manager.
type QuestionnaireResult struct {
	Outcome   QuestionnaireOutcome
	AttemptID int
	Answers   []string
	StartedAt time.Time
	EndedAt   time.Time
}

// Questionnaire-facing user messages.
const (
	msgQuestionnaireTimeout = "⏰ O tempo para completar a whitelist acabou! " +
		"Este canal será excluído em instantes. Você poderá tentar novamente após o período de espera."
	msgQuestionnaireDone = "✅ Suas respostas foram registradas! " +
		"A equipe vai analisar sua whitelist e você será notificado do resultado. " +
		"Este canal será excluído em instantes."
	msgQuestionnaireAborted = "⚠️ Sua whitelist foi interrompida. " +
		"Tente novamente ou procure a equipe."
	answerTruncationMarker = " […]"
)

// QuestionnaireEngine runs the whitelist questionnaire inside an
// already-created channel: asks each question in order, waits for the
// applicant's answer under a single global deadline, and on completion
// persists the attempt and posts a transcript for staff review.
type QuestionnaireEngine struct {
	config  *OnboardingConfig
	session DiscordSessionHandler
	router  *messageRouter
	counter *AttemptCounter
	ledger  *ResponseLedger
	logger  *slog.Logger

	// persistMu serializes propose-append-commit so concurrent
	// completions never persist the same attempt ID.
	persistMu sync.Mutex

	// clock is overridable for tests
	clock func() time.Time
}

func newQuestionnaireEngine(
	config *OnboardingConfig,
	session DiscordSessionHandler,
	router *messageRouter,
	counter *AttemptCounter,
	ledger *ResponseLedger,
	logger *slog.Logger,
) *QuestionnaireEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionnaireEngine{
		config:  config,
		session: session,
		router:  router,
		counter: counter,
		ledger:  ledger,
		logger:  logger.With(loggerNameKey, "questionnaire"),
		clock:   time.Now,
	}
}

// Run executes the full questionnaire for user in channelID. The global
// deadline starts counting immediately, covers all questions together,
// and is recomputed before each wait rather than reset per question.
//
// Run always returns a result describing the outcome. The returned error
// is non-nil only for unexpected failures (a failed send, a ledger
// error); timeout and context cancellation are outcomes, not errors.
func (q *QuestionnaireEngine) Run(
	ctx context.Context,
	guildID string,
	channelID string,
	user *discordgo.User,
) (QuestionnaireResult, error) {
	startedAt := q.clock()
	deadline := startedAt.Add(q.config.TotalDuration)

	result := QuestionnaireResult{
		Outcome:   OutcomeAborted,
		StartedAt: startedAt,
	}

	logger := q.logger.With(
		"channel_id", channelID,
		"user_id", user.ID,
		"username", user.Username,
	)

	answers, cancelSub, err := q.router.Subscribe(channelID, user.ID)
	if err != nil {
		result.EndedAt = q.clock()
		q.notifyAbort(logger, channelID)
		return result, fmt.Errorf("subscribing to answers: %w", err)
	}
	defer cancelSub()

	if _, err = q.session.ChannelMessageSend(
		channelID,
		fmt.Sprintf(
			"📋 Olá <@%s>! Sua whitelist começou.\n"+
				"Responda **%d perguntas**, uma de cada vez, neste canal. "+
				"Você tem **%d minutos** no total. Boa sorte!",
			user.ID,
			len(q.config.Questions),
			int(q.config.TotalDuration.Minutes()),
		),
	); err != nil {
		result.EndedAt = q.clock()
		q.notifyAbort(logger, channelID)
		return result, fmt.Errorf("sending questionnaire intro: %w", err)
	}

	for i, question := range q.config.Questions {
		// the budget can already be spent before the question goes out
		if deadline.Sub(q.clock()) <= 0 {
			logger.Info(
				"questionnaire timed out",
				"question", i+1,
				"elapsed", q.clock().Sub(startedAt),
			)
			result.Outcome = OutcomeTimedOut
			result.EndedAt = q.clock()
			q.notifyTimeout(logger, channelID)
			return result, nil
		}

		questionMsg, sendErr := q.session.ChannelMessageSend(channelID, question)
		if sendErr != nil {
			result.EndedAt = q.clock()
			q.notifyAbort(logger, channelID)
			return result, fmt.Errorf(
				"sending question %d: %w", i+1, sendErr,
			)
		}

		answer, waitErr := q.awaitAnswer(ctx, answers, deadline)

		// keep the channel clean between questions
		q.deleteMessage(logger, channelID, questionMsg)
		q.deleteMessage(logger, channelID, answer)

		switch {
		case waitErr == nil:
			result.Answers = append(result.Answers, answer.Content)
		case ctx.Err() != nil:
			logger.Info("questionnaire aborted", "question", i+1)
			result.EndedAt = q.clock()
			q.notifyAbort(logger, channelID)
			return result, nil
		default:
			logger.Info(
				"questionnaire timed out",
				"question", i+1,
				"elapsed", q.clock().Sub(startedAt),
			)
			result.Outcome = OutcomeTimedOut
			result.EndedAt = q.clock()
			q.notifyTimeout(logger, channelID)
			return result, nil
		}
	}

	result.EndedAt = q.clock()
	result.Outcome = OutcomeCompleted

	entry, runErr := q.persistAttempt(logger, user, result)
	result.AttemptID = entry.AttemptID

	q.postTranscript(logger, guildID, user, entry)

	if _, err = q.session.ChannelMessageSend(
		channelID,
		msgQuestionnaireDone,
	); err != nil {
		logger.Warn("could not send completion notice", tint.Err(err))
	}

	logger.Info(
		"questionnaire completed",
		"attempt_id", result.AttemptID,
		"duration", result.EndedAt.Sub(startedAt),
	)
	return result, runErr
}

// persistAttempt assigns the next attempt ID and durably records the
// completed run. The whole propose-append-commit sequence runs under one
// lock: concurrent completions persist one at a time, so attempt IDs are
// strictly increasing across the ledger. The counter is committed only
// after the ledger append succeeds, so a failed append leaves the ID
// free for the next successful attempt and the ledger stays gapless.
func (q *QuestionnaireEngine) persistAttempt(
	logger *slog.Logger,
	user *discordgo.User,
	result QuestionnaireResult,
) (LedgerEntry, error) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	entry := LedgerEntry{
		AttemptID:   q.counter.Next(),
		CompletedAt: result.EndedAt,
		UserID:      user.ID,
		Username:    user.Username,
		Questions:   q.config.Questions,
		Answers:     result.Answers,
	}

	if err := q.ledger.Append(entry); err != nil {
		logger.Error("could not append to response ledger", tint.Err(err))
		return entry, fmt.Errorf("appending to ledger: %w", err)
	}
	if err := q.counter.Commit(entry.AttemptID); err != nil {
		logger.Error("could not commit attempt counter", tint.Err(err))
		return entry, fmt.Errorf("committing attempt counter: %w", err)
	}
	return entry, nil
}

// notifyTimeout posts the timeout notice to the whitelist channel,
// best-effort.
func (q *QuestionnaireEngine) notifyTimeout(
	logger *slog.Logger,
	channelID string,
) {
	if _, err := q.session.ChannelMessageSend(
		channelID,
		msgQuestionnaireTimeout,
	); err != nil {
		logger.Warn("could not send timeout notice", tint.Err(err))
	}
}

// notifyAbort posts a generic interruption notice to the whitelist
// channel, best-effort. Aborted runs should not end silently.
func (q *QuestionnaireEngine) notifyAbort(
	logger *slog.Logger,
	channelID string,
) {
	if _, err := q.session.ChannelMessageSend(
		channelID,
		msgQuestionnaireAborted,
	); err != nil {
		logger.Warn("could not send abort notice", tint.Err(err))
	}
}

// awaitAnswer blocks until the applicant sends a non-empty message, the
// global deadline passes, or ctx is canceled. Empty messages (e.g.
// attachment-only) are ignored and the wait continues.
func (q *QuestionnaireEngine) awaitAnswer(
	ctx context.Context,
	answers <-chan *discordgo.Message,
	deadline time.Time,
) (*discordgo.Message, error) {
	for {
		remaining := deadline.Sub(q.clock())
		if remaining <= 0 {
			return nil, ErrQuestionnaireTimeout
		}
		timer := time.NewTimer(remaining)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrQuestionnaireTimeout
		case msg := <-answers:
			timer.Stop()
			if msg == nil || msg.Content == "" {
				continue
			}
			return msg, nil
		}
	}
}

// deleteMessage removes a questionnaire message, best-effort. A message
// that is already gone is not worth logging about.
func (q *QuestionnaireEngine) deleteMessage(
	logger *slog.Logger,
	channelID string,
	msg *discordgo.Message,
) {
	if msg == nil {
		return
	}
	err := q.session.ChannelMessageDelete(channelID, msg.ID)
	if err != nil && !isUnknownMessage(err) {
		logger.Debug(
			"could not delete questionnaire message",
			"message_id", msg.ID,
			tint.Err(err),
		)
	}
}

// postTranscript posts the completed attempt to the staff review channel,
// located by its well-known name. A missing review channel drops the
// transcript with a warning; the ledger row is the durable record.
func (q *QuestionnaireEngine) postTranscript(
	logger *slog.Logger,
	guildID string,
	user *discordgo.User,
	entry LedgerEntry,
) {
	channels, err := q.session.GuildChannels(guildID)
	if err != nil {
		logger.Warn(
			"could not list guild channels for transcript",
			tint.Err(err),
		)
		return
	}

	var reviewChannelID string
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText &&
			ch.Name == q.config.ReviewChannelName {
			reviewChannelID = ch.ID
			break
		}
	}
	if reviewChannelID == "" {
		logger.Warn(
			"review channel not found, dropping transcript",
			"review_channel_name", q.config.ReviewChannelName,
		)
		return
	}

	maxChars := q.config.AnswerMaxChars
	if maxChars <= 0 || maxChars > discordMaxEmbedFieldChars {
		maxChars = discordMaxEmbedFieldChars
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(entry.Questions))
	for i, question := range entry.Questions {
		fields = append(
			fields,
			&discordgo.MessageEmbedField{
				Name: truncateWithMarker(
					question, discordMaxEmbedFieldChars, answerTruncationMarker,
				),
				Value: truncateWithMarker(
					entry.Answers[i], maxChars, answerTruncationMarker,
				),
			},
		)
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("📋 Whitelist #%d", entry.AttemptID),
		Description: fmt.Sprintf(
			"Candidato: <@%s> (`%s`)", user.ID, user.Username,
		),
		Color:     0x5865F2,
		Fields:    fields,
		Timestamp: entry.CompletedAt.UTC().Format(time.RFC3339),
	}

	if _, err = q.session.ChannelMessageSendEmbed(
		reviewChannelID,
		embed,
	); err != nil {
		logger.Warn("could not post transcript", tint.Err(err))
	}
}

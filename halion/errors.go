package halion

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrConfigurationMissing indicates a required guild/channel/role ID
	// is unset or points at something that no longer exists.
	ErrConfigurationMissing = errors.New("required configuration missing")

	// ErrPermissionDenied indicates discord rejected an operation with a
	// missing-permissions or missing-access error.
	ErrPermissionDenied = errors.New("missing permissions")

	// ErrDuplicateSession indicates the user already has a whitelist
	// channel open.
	ErrDuplicateSession = errors.New("session already in progress")

	// ErrQuestionnaireTimeout indicates the global questionnaire deadline
	// elapsed before all questions were answered.
	ErrQuestionnaireTimeout = errors.New("questionnaire deadline elapsed")
)

// CooldownActiveError is returned when a user attempts to start the
// questionnaire before their cooldown from a previous attempt expires.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active (%s remaining)", e.Remaining)
}

// User-facing refusal/outcome messages. Each start failure mode has a
// distinct message so users know whether to wait, retry, or call staff.
const (
	msgConfigurationMissing = "⚠️ O sistema de whitelist não está configurado corretamente. Avise a equipe!"
	msgPermissionDenied     = "⚠️ Não tenho permissão para criar seu canal de whitelist. Avise a equipe!"
	msgDuplicateSession     = "⚠️ Você já tem uma whitelist em andamento! Responda as perguntas no seu canal."
	msgUnexpectedFailure    = "⚠️ Algo deu errado ao iniciar sua whitelist. Tente novamente em instantes."
	msgNotModerator         = "⚠️ Você não tem permissão para usar este comando."
)

// userFacingStartMessage maps a Start error to the ephemeral message
// shown to the applicant.
func userFacingStartMessage(err error) string {
	var cooldownErr CooldownActiveError
	switch {
	case errors.As(err, &cooldownErr):
		// partial minutes count as a whole minute, never promise less
		// waiting than the cooldown enforces
		minutes := int((cooldownErr.Remaining + time.Minute - 1) / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf(
			"⏳ Você precisa aguardar %d minuto(s) para tentar a whitelist novamente.",
			minutes,
		)
	case errors.Is(err, ErrDuplicateSession):
		return msgDuplicateSession
	case errors.Is(err, ErrConfigurationMissing):
		return msgConfigurationMissing
	case errors.Is(err, ErrPermissionDenied):
		return msgPermissionDenied
	default:
		return msgUnexpectedFailure
	}
}

// classifyDiscordError maps discord REST errors onto the local error
// taxonomy, keeping the original error wrapped for logs.
func classifyDiscordError(err error) error {
	if err == nil {
		return nil
	}
	switch restErrorCode(err) {
	case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case discordgo.ErrCodeUnknownChannel:
		return fmt.Errorf("%w: %w", ErrConfigurationMissing, err)
	default:
		return err
	}
}

// isUnknownChannel reports whether err is discord's "unknown channel"
// error, i.e. the channel was already deleted.
func isUnknownChannel(err error) bool {
	return restErrorCode(err) == discordgo.ErrCodeUnknownChannel
}

// isUnknownMessage reports whether err is discord's "unknown message"
// error, i.e. the message was already deleted.
func isUnknownMessage(err error) bool {
	return restErrorCode(err) == discordgo.ErrCodeUnknownMessage
}

// isMissingPermissions reports whether err is a discord
// missing-permissions or missing-access error.
func isMissingPermissions(err error) bool {
	code := restErrorCode(err)
	return code == discordgo.ErrCodeMissingPermissions ||
		code == discordgo.ErrCodeMissingAccess
}

package halion

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const loggerContextKey contextKey = "logger"

type contextKey string

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// truncateWithMarker shortens s to at most n runes, replacing the tail
// with marker when truncation happens. If n is too small to fit the
// marker, the marker alone is truncated to n.
func truncateWithMarker(s string, n int, marker string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	markerLen := utf8.RuneCountInString(marker)
	if markerLen >= n {
		return truncate(marker, n)
	}
	return truncate(s, n-markerLen) + marker
}

// sanitizeChannelName converts an arbitrary display name into a string
// safe for a discord channel name: lowercase, spaces to hyphens, anything
// outside [a-z0-9-] dropped. Returns "user" if nothing survives.
func sanitizeChannelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if s == "" {
		return "user"
	}
	return s
}

// lastN returns the last n characters of s (all of s if shorter).
func lastN(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// chunkString splits s into pieces of at most size runes, preferring to
// break on newlines so fenced blocks read cleanly.
func chunkString(s string, size int) []string {
	if s == "" {
		return nil
	}
	var chunks []string
	for utf8.RuneCountInString(s) > size {
		runes := []rune(s)
		cut := size
		for i := size - 1; i > size/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		s = string(runes[cut:])
	}
	chunks = append(chunks, s)
	return chunks
}

// interactionUser returns the invoking user for both guild and DM
// interactions.
func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// isModerator reports whether the member may use staff commands: guild
// administrators always qualify, plus any configured moderator role.
func isModerator(member *discordgo.Member, modRoleIDs []string) bool {
	if member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return memberHasAnyRole(member, modRoleIDs)
}

// memberHasAnyRole reports whether the member holds at least one of the
// given role IDs. An empty roleIDs list matches nothing.
func memberHasAnyRole(member *discordgo.Member, roleIDs []string) bool {
	if member == nil {
		return false
	}
	for _, have := range member.Roles {
		for _, want := range roleIDs {
			if have == want {
				return true
			}
		}
	}
	return false
}

// restErrorCode extracts the discord API error code from err, if err is
// (or wraps) a *discordgo.RESTError with a parsed body. Returns 0
// otherwise.
func restErrorCode(err error) int {
	if err == nil {
		return 0
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return 0
	}
	if restErr.Message == nil {
		return 0
	}
	return restErr.Message.Code
}

func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	logAttrs := []any{
		"id", i.ID,
		"type", i.Type.String(),
	}
	if i.ChannelID != "" {
		logAttrs = append(logAttrs, "channel_id", i.ChannelID)
	}
	if i.GuildID != "" {
		logAttrs = append(logAttrs, "guild_id", i.GuildID)
	}
	if u := interactionUser(i.Interaction); u != nil {
		logAttrs = append(logAttrs, "user_id", u.ID, "username", u.Username)
	}
	return logAttrs
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip struct values that are nil or empty
		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" || fv.Len() == 0 {
				skip = true
			}
		}

		if skip {
			continue
		}

		fieldValue := fv.Interface()
		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fieldValue)},
		)
	}
	rv := slog.GroupValue(groupAttrs...)

	return rv
}

package halion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB) (*Halion, *API) {
	t.Helper()
	h, _ := newTestBot(t)
	api, err := newAPI(h, h.config.API)
	require.NoError(t, err)
	h.api = api
	return h, api
}

func apiGet(t testing.TB, api *API, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestAPIHealthCheck(t *testing.T) {
	_, api := newTestAPI(t)
	code, body := apiGet(t, api, apiHealthCheck)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIBotStatus(t *testing.T) {
	h, api := newTestAPI(t)
	h.discord.connected.Store(true)
	h.discord.metricConnects.Add(2)

	code, body := apiGet(t, api, apiPathBotStatus)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, float64(2), body["gateway_connects"])
	assert.Equal(t, float64(0), body["active_onboardings"])
}

func TestAPIActiveOnboarding(t *testing.T) {
	h, api := newTestAPI(t)

	code, body := apiGet(t, api, apiPathOnboarding)
	assert.Equal(t, http.StatusOK, code)
	// empty list, not null
	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	assert.Empty(t, sessions)

	_, err := h.onboarding.Begin(
		context.Background(), "guild-1", testMember("user-1", "fulano"),
	)
	require.NoError(t, err)

	_, body = apiGet(t, api, apiPathOnboarding)
	sessions, ok = body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	first, ok := sessions[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user-1", first["user_id"])
	assert.NotEmpty(t, first["channel_id"])
}

func TestAPIActiveCooldowns(t *testing.T) {
	h, api := newTestAPI(t)

	code, body := apiGet(t, api, apiPathCooldowns)
	assert.Equal(t, http.StatusOK, code)
	cooldowns, ok := body["cooldowns"].([]any)
	require.True(t, ok)
	assert.Empty(t, cooldowns)

	h.cooldowns.Begin("user-1")

	_, body = apiGet(t, api, apiPathCooldowns)
	cooldowns, ok = body["cooldowns"].([]any)
	require.True(t, ok)
	require.Len(t, cooldowns, 1)
	first, ok := cooldowns[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user-1", first["user_id"])
}

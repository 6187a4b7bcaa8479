package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/astrodesk/sessiongate/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlerApp(f *fixture) *fiber.App {
	h := NewHandler(f.mgr)
	app := fiber.New(fiber.Config{ErrorHandler: utils.ErrorHandler})
	app.Get("/sessions/stats", h.Stats)
	app.Get("/sessions/:id", h.Get)
	app.Get("/users/:id/sessions", h.ListBySubject)
	return app
}

func getJSON(t *testing.T, app *fiber.App, target string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", target, nil))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func TestHandler_Stats(t *testing.T) {
	f := newFixture(t)
	app := setupHandlerApp(f)
	ctx := context.Background()

	_, _, err := f.mgr.CreateSession(ctx, "user-1", "phone", "Phone", Tokens{AuthToken: "a1"})
	require.NoError(t, err)
	_, _, err = f.mgr.CreateSession(ctx, "user-1", "laptop", "Laptop", Tokens{AuthToken: "a2"})
	require.NoError(t, err)

	status, body := getJSON(t, app, "/sessions/stats")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 2, data["total_sessions"])
	assert.EqualValues(t, 2, data["total_devices"])
}

func TestHandler_Get(t *testing.T) {
	f := newFixture(t)
	app := setupHandlerApp(f)

	sid, _, err := f.mgr.CreateSession(context.Background(), "user-1", "phone", "Phone", Tokens{AuthToken: "a1"})
	require.NoError(t, err)

	status, body := getJSON(t, app, "/sessions/"+sid)
	require.Equal(t, fiber.StatusOK, status)
	rec := body["data"].(map[string]any)["session"].(map[string]any)
	assert.Equal(t, sid, rec["id"])
	assert.Equal(t, "phone", rec["device_id"])

	status, _ = getJSON(t, app, "/sessions/"+uuid.NewString())
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = getJSON(t, app, "/sessions/not-a-session")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", body["error"].(map[string]any)["code"])
}

func TestHandler_ListBySubject(t *testing.T) {
	f := newFixture(t)
	app := setupHandlerApp(f)
	ctx := context.Background()

	first, _, err := f.mgr.CreateSession(ctx, "user-1", "phone", "Phone", Tokens{AuthToken: "a1"})
	require.NoError(t, err)
	f.advance(time.Second)
	_, _, err = f.mgr.CreateSession(ctx, "user-1", "laptop", "Laptop", Tokens{AuthToken: "a2"})
	require.NoError(t, err)
	require.NoError(t, f.mgr.RevokeSession(ctx, first))

	status, body := getJSON(t, app, "/users/user-1/sessions")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 1, data["count"])
}

func TestHandler_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	app := setupHandlerApp(f)
	f.mr.Close()

	status, body := getJSON(t, app, "/sessions/stats")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "SESSION_STORE_UNAVAILABLE", body["error"].(map[string]any)["code"])
}

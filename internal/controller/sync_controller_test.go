package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/pkg/apperror"
	"bioai-workspace-be/internal/pkg/serverutils"
	"bioai-workspace-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSessions struct {
	service.ISessionService
	patched []uuid.UUID
	saved   []uuid.UUID
	owner   uuid.UUID
}

func (s *stubSessions) PatchChat(ctx context.Context, userId, sessionId uuid.UUID, req *dto.ChatPatchRequest) (*dto.PatchResponse, error) {
	if userId != s.owner {
		return nil, apperror.Unauthorized("session %s is not owned by user %s", sessionId, userId)
	}
	s.patched = append(s.patched, sessionId)
	return &dto.PatchResponse{SessionId: sessionId, PendingUpdates: len(req.Messages)}, nil
}

func (s *stubSessions) ForceSave(ctx context.Context, userId, sessionId uuid.UUID) error {
	s.saved = append(s.saved, sessionId)
	return nil
}

type stubSync struct {
	service.ISyncService
}

func (stubSync) Status(ctx context.Context, userId uuid.UUID) (*dto.SyncStatusResponse, error) {
	return &dto.SyncStatusResponse{PendingUpdates: 3, Online: true, Visible: true}, nil
}

func (stubSync) Cancel(ctx context.Context, userId uuid.UUID, operationId string) error {
	return apperror.NotFound("operation %s is not queued", operationId)
}

func newSyncApp(t *testing.T, sessions *stubSessions) *fiber.App {
	t.Helper()
	t.Setenv("JWT_SECRET", "controller-secret")
	app := fiber.New(fiber.Config{ErrorHandler: serverutils.ErrorHandler})
	NewSyncController(sessions, stubSync{}).RegisterRoutes(app.Group("/api"))
	return app
}

func bearer(t *testing.T, user uuid.UUID) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": user.String()}).SignedString([]byte("controller-secret"))
	require.NoError(t, err)
	return "Bearer " + signed
}

func call(t *testing.T, app *fiber.App, method, path, auth, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestSyncControllerPatchChat(t *testing.T) {
	user := uuid.New()
	sessions := &stubSessions{owner: user}
	app := newSyncApp(t, sessions)
	sessionID := uuid.New()
	body := `{"messages":[{"role":"user","content":"Load 1CRN"}]}`

	code, out := call(t, app, "PATCH", "/api/sync/v1/"+sessionID.String()+"/chat", bearer(t, user), body)
	assert.Equal(t, fiber.StatusAccepted, code)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]interface{})
	assert.Equal(t, sessionID.String(), data["session_id"])
	assert.EqualValues(t, 1, data["pending_updates"])
	assert.Equal(t, []uuid.UUID{sessionID}, sessions.patched)
}

func TestSyncControllerRejections(t *testing.T) {
	user := uuid.New()
	sessions := &stubSessions{owner: user}
	app := newSyncApp(t, sessions)
	path := "/api/sync/v1/" + uuid.NewString() + "/chat"
	body := `{"messages":[{"role":"user","content":"hi"}]}`

	tests := []struct {
		name string
		path string
		auth string
		body string
		want int
	}{
		{name: "missing token", path: path, body: body, want: fiber.StatusUnauthorized},
		{name: "foreign session", path: path, auth: bearer(t, uuid.New()), body: body, want: fiber.StatusForbidden},
		{name: "bad session id", path: "/api/sync/v1/not-a-uuid/chat", auth: bearer(t, user), body: body, want: fiber.StatusUnprocessableEntity},
		{name: "no messages", path: path, auth: bearer(t, user), body: `{"messages":[]}`, want: fiber.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := call(t, app, "PATCH", tt.path, tt.auth, tt.body)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, false, out["success"])
		})
	}
	assert.Empty(t, sessions.patched)
}

func TestSyncControllerStatusAndCancel(t *testing.T) {
	user := uuid.New()
	app := newSyncApp(t, &stubSessions{owner: user})

	code, out := call(t, app, "GET", "/api/sync/v1/status", bearer(t, user), "")
	assert.Equal(t, fiber.StatusOK, code)
	data := out["data"].(map[string]interface{})
	assert.EqualValues(t, 3, data["pending_updates"])
	assert.Equal(t, true, data["online"])

	code, out = call(t, app, "DELETE", "/api/sync/v1/operations/op-1", bearer(t, user), "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "not_found", out["kind"])
}

func TestSyncControllerSave(t *testing.T) {
	user := uuid.New()
	sessions := &stubSessions{owner: user}
	app := newSyncApp(t, sessions)
	sessionID := uuid.New()

	code, out := call(t, app, "POST", "/api/sync/v1/"+sessionID.String()+"/save", bearer(t, user), "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "Session saved", out["message"])
	assert.Equal(t, []uuid.UUID{sessionID}, sessions.saved)
}

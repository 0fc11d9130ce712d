package service

import (
	"context"
	"strings"
	"testing"

	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatMessage(sessionID uuid.UUID, role, content string) entity.Message {
	return entity.Message{
		Id:        uuid.New(),
		SessionId: sessionID,
		Role:      role,
		Content:   content,
		Status:    entity.MessageStatusSent,
		Timestamp: workspaceEpoch,
	}
}

func TestSessionCreateAppliesMetadata(t *testing.T) {
	w := newWorkspace(t)
	svc := NewSessionService(w.factory, w.agg)
	description := "binding pocket survey"

	res, err := svc.Create(context.Background(), w.user, &dto.CreateSessionRequest{
		Title:       "Kinase",
		Description: &description,
		Tags:        []string{"kinase", "atp"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Kinase", res.Title)
	assert.True(t, res.IsActive)
	assert.Equal(t, []string{"kinase", "atp"}, res.Tags)
	require.NotNil(t, res.Description)
	assert.Equal(t, description, *res.Description)

	all, err := svc.GetAll(context.Background(), w.user)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, res.Id, all[0].Id)
}

func TestSessionPatchChatThenSave(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()
	svc := NewSessionService(w.factory, w.agg)
	sessionID := w.session(t, "Lysozyme")

	res, err := svc.PatchChat(ctx, w.user, sessionID, &dto.ChatPatchRequest{Messages: []entity.Message{
		chatMessage(sessionID, "user", "What binds lysozyme?"),
		chatMessage(sessionID, "assistant", "NAG oligomers bind in the cleft."),
	}})
	require.NoError(t, err)
	assert.Equal(t, sessionID, res.SessionId)
	assert.Positive(t, res.PendingUpdates)
	assert.Empty(t, w.storedMessages(t, sessionID))

	require.NoError(t, svc.ForceSave(ctx, w.user, sessionID))
	assert.Len(t, w.storedMessages(t, sessionID), 2)
	assert.Zero(t, w.agg.GetPendingUpdatesCount())
}

func TestSessionPatchRejectsForeignUser(t *testing.T) {
	w := newWorkspace(t)
	svc := NewSessionService(w.factory, w.agg)
	sessionID := w.session(t, "Private")

	_, err := svc.PatchChat(context.Background(), uuid.New(), sessionID, &dto.ChatPatchRequest{
		Messages: []entity.Message{chatMessage(sessionID, "user", "hi")},
	})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.ErrorIs(t, svc.ForceSave(context.Background(), uuid.New(), sessionID), apperror.ErrUnauthorized)
}

func TestSessionExportFormats(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()
	svc := NewSessionService(w.factory, w.agg)
	sessionID := w.session(t, "Hemoglobin")
	_, err := svc.PatchChat(ctx, w.user, sessionID, &dto.ChatPatchRequest{Messages: []entity.Message{
		chatMessage(sessionID, "user", "Load 4HHB"),
	}})
	require.NoError(t, err)

	tests := []struct {
		format      string
		extension   string
		contentType string
		contains    string
	}{
		{format: "", extension: "json", contentType: "application/json", contains: `"Load 4HHB"`},
		{format: "md", extension: "md", contentType: "text/markdown", contains: "Load 4HHB"},
		{format: "text", extension: "txt", contentType: "text/plain", contains: "User: Load 4HHB"},
		{format: "yaml", extension: "yaml", contentType: "application/yaml", contains: "Load 4HHB"},
	}
	for _, tt := range tests {
		t.Run("format "+tt.extension, func(t *testing.T) {
			// unsaved messages are part of the export
			file, err := svc.Export(ctx, w.user, sessionID, tt.format)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(file.Filename, "."+tt.extension))
			assert.Contains(t, file.ContentType, tt.contentType)
			assert.Contains(t, string(file.Content), tt.contains)
		})
	}

	_, err = svc.Export(ctx, w.user, sessionID, "pdf")
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = svc.Export(ctx, uuid.New(), sessionID, "md")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestSessionActivateSwitches(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()
	svc := NewSessionService(w.factory, w.agg)
	first := w.session(t, "first")
	w.session(t, "second")

	state, err := svc.Activate(ctx, w.user, first)
	require.NoError(t, err)
	assert.Equal(t, first, state.Session.Id)
	assert.True(t, state.Session.IsActive)

	all, err := svc.GetAll(ctx, w.user)
	require.NoError(t, err)
	active := 0
	for _, s := range all {
		if s.IsActive {
			active++
			assert.Equal(t, first, s.Id)
		}
	}
	assert.Equal(t, 1, active)
}

package mapper

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleViewer(interactions int) *entity.ViewerState {
	v := &entity.ViewerState{
		Id:        uuid.New(),
		SessionId: uuid.New(),
		Structures: []entity.Structure{
			{Id: "s1", Name: "Hemoglobin", Source: "pdb", PdbId: "1HHO", Visible: true, LoadedAt: time.Unix(1700000000, 0).UTC()},
		},
		Camera: &entity.CameraPose{Position: [3]float64{1, 2, 3}, Target: [3]float64{0, 0, 0}, Up: [3]float64{0, 1, 0}, Fov: 45, Zoom: 1.5},
		Representations: []entity.Representation{
			{StructureId: "s1", Type: "cartoon", ColorScheme: "chain-id", Visible: true},
		},
		Selections:   []entity.Selection{{Id: "sel1", StructureId: "s1", Expression: "chain A", Label: "A"}},
		Measurements: []entity.Measurement{{Id: "m1", Kind: "distance", AtomRefs: []string{"A:12:CA", "A:40:CA"}, Value: 7.25, Unit: "Å"}},
		Annotations:  []entity.Annotation{{Id: "a1", Text: "heme pocket", Position: [3]float64{4, 5, 6}, CreatedAt: time.Unix(1700000100, 0).UTC()}},
		LastSaved:    time.Unix(1700000200, 0).UTC(),
	}
	for i := 0; i < interactions; i++ {
		v.Interactions = append(v.Interactions, entity.InteractionEvent{
			Type:   "click",
			Target: fmt.Sprintf("atom-%d", i),
			At:     time.Unix(int64(1700000000+i), 0).UTC(),
		})
	}
	return v
}

func TestViewerStateRoundTrip(t *testing.T) {
	m := NewWorkspaceMapper()
	in := sampleViewer(12)

	out := m.ViewerStateToEntity(m.ViewerStateToModel(in))

	assert.Equal(t, in, out)
}

func TestViewerStateRoundTripCapsInteractions(t *testing.T) {
	m := NewWorkspaceMapper()
	in := sampleViewer(130)

	out := m.ViewerStateToEntity(m.ViewerStateToModel(in))

	require.Len(t, out.Interactions, entity.MaxInteractions)
	assert.Equal(t, in.Interactions[30:], out.Interactions)
	assert.Equal(t, in.Structures, out.Structures)
	assert.Equal(t, in.Camera, out.Camera)
}

func TestSessionSettingsRoundTrip(t *testing.T) {
	m := NewWorkspaceMapper()
	desc := "lysozyme binding study"
	in := &entity.Session{
		Id:          uuid.New(),
		UserId:      uuid.New(),
		Title:       "Lysozyme",
		Description: &desc,
		Tags:        []string{"enzyme"},
		Settings:    map[string]string{"theme": "dark"},
		Revision:    4,
	}

	out := m.SessionToEntity(m.SessionToModel(in))

	assert.Equal(t, in.Tags, out.Tags)
	assert.Equal(t, in.Settings, out.Settings)
	assert.Equal(t, desc, *out.Description)
	assert.Equal(t, int64(4), out.Revision)
}

func TestMessageDefaultsToSent(t *testing.T) {
	m := NewWorkspaceMapper()

	out := m.MessageToModel(&entity.Message{Id: uuid.New(), Role: "user", Content: "hi"})

	assert.Equal(t, "sent", out.Status)
	assert.Nil(t, out.Metadata)
}

func TestWorkflowContextMigratesV1(t *testing.T) {
	m := NewWorkspaceMapper()
	legacy, err := json.Marshal(map[string]interface{}{
		"workflow_id":   "wf-1",
		"workflow_type": "protein_analysis",
		"status":        "running",
		"current_step":  "search",
		"tool_counts":   map[string]int{"pdb_search": 3},
		"node_history":  []string{"start", "search"},
	})
	require.NoError(t, err)

	wc, err := m.WorkflowContextToEntity(&model.WorkflowContext{
		WorkflowId:    "wf-1",
		WorkflowType:  "protein_analysis",
		SchemaVersion: 1,
		Status:        "running",
		Context:       legacy,
	})
	require.NoError(t, err)

	assert.Equal(t, entity.WorkflowSchemaVersion, wc.SchemaVersion)
	require.Contains(t, wc.Tools, "pdb_search")
	assert.Equal(t, 3, wc.Tools["pdb_search"].Invocations)
	assert.Equal(t, []string{"start", "search"}, wc.Trace.NodeHistory)
	assert.Equal(t, "search", wc.Trace.CurrentNode)
	assert.NotNil(t, wc.Memory.Entities)
}

func TestWorkflowContextRejectsUnknownVersion(t *testing.T) {
	m := NewWorkspaceMapper()

	_, err := m.WorkflowContextToEntity(&model.WorkflowContext{SchemaVersion: 9, Context: []byte("{}")})

	assert.Error(t, err)
}

func TestSnapshotDataCompression(t *testing.T) {
	m := NewSnapshotMapper()
	data := &entity.SnapshotData{
		Version:  entity.SnapshotDataVersion,
		Session:  entity.SnapshotSession{Id: uuid.New(), Title: "Insulin", MessageCount: 1},
		Messages: []entity.Message{{Id: uuid.New(), Role: "user", Content: "show insulin", Status: entity.MessageStatusSent}},
		Viewer:   sampleViewer(3),
	}

	compressed, size, err := m.EncodeData(data)
	require.NoError(t, err)
	assert.Positive(t, size)

	decoded, err := m.DecodeData(compressed)
	require.NoError(t, err)
	assert.Equal(t, data.Session, decoded.Session)
	assert.Equal(t, data.Viewer, decoded.Viewer)
	assert.Equal(t, data.Messages[0].Content, decoded.Messages[0].Content)

	_, err = m.DecodeData([]byte("not zstd"))
	assert.Error(t, err)
}

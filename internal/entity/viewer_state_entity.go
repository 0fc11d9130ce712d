package entity

import (
	"time"

	"github.com/google/uuid"
)

// MaxInteractions bounds the interaction log kept with a viewer state.
const MaxInteractions = 100

type ViewerState struct {
	Id              uuid.UUID          `json:"id"`
	SessionId       uuid.UUID          `json:"session_id"`
	Structures      []Structure        `json:"structures"`
	Camera          *CameraPose        `json:"camera,omitempty"`
	Representations []Representation   `json:"representations"`
	Selections      []Selection        `json:"selections"`
	Measurements    []Measurement      `json:"measurements"`
	Annotations     []Annotation       `json:"annotations"`
	Interactions    []InteractionEvent `json:"interactions"`
	LastSaved       time.Time          `json:"last_saved"`
}

type Structure struct {
	Id       string    `json:"id"`
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	PdbId    string    `json:"pdb_id,omitempty"`
	Format   string    `json:"format,omitempty"`
	Url      string    `json:"url,omitempty"`
	Visible  bool      `json:"visible"`
	LoadedAt time.Time `json:"loaded_at"`
}

type CameraPose struct {
	Position [3]float64 `json:"position"`
	Target   [3]float64 `json:"target"`
	Up       [3]float64 `json:"up"`
	Fov      float64    `json:"fov"`
	Zoom     float64    `json:"zoom"`
}

type Representation struct {
	StructureId string `json:"structure_id"`
	Type        string `json:"type"`
	ColorScheme string `json:"color_scheme,omitempty"`
	Selection   string `json:"selection,omitempty"`
	Visible     bool   `json:"visible"`
}

type Selection struct {
	Id          string `json:"id"`
	StructureId string `json:"structure_id"`
	Expression  string `json:"expression"`
	Label       string `json:"label,omitempty"`
}

type Measurement struct {
	Id       string   `json:"id"`
	Kind     string   `json:"kind"`
	AtomRefs []string `json:"atom_refs"`
	Value    float64  `json:"value"`
	Unit     string   `json:"unit,omitempty"`
}

type Annotation struct {
	Id          string     `json:"id"`
	StructureId string     `json:"structure_id,omitempty"`
	Text        string     `json:"text"`
	Position    [3]float64 `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
}

type InteractionEvent struct {
	Type    string            `json:"type"`
	Target  string            `json:"target,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	At      time.Time         `json:"at"`
}

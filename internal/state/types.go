package state

// Lifecycle is the entity state machine: active, then completed or abandoned.
type Lifecycle string

const (
	Active    Lifecycle = "active"
	Completed Lifecycle = "completed"
	Abandoned Lifecycle = "abandoned"
)

// Soil is the resource ledger. Available is always within [0, Capacity].
type Soil struct {
	Available float64 `json:"available"`
	Capacity  float64 `json:"capacity"`
}

// Progress is one entry in an entity's progress sub-log.
type Progress struct {
	Timestamp string `json:"timestamp"`
	ClientID  string `json:"client_id,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Entity is the aggregate built from an entity's events.
type Entity struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	ChildID   string     `json:"child_id,omitempty"`
	Cost      float64    `json:"cost"`
	State     Lifecycle  `json:"state"`
	CreatedAt string     `json:"created_at"`
	Progress  []Progress `json:"progress,omitempty"`

	// Set when the entity leaves the active state.
	ClosedAt      string  `json:"closed_at,omitempty"`
	Result        int     `json:"result,omitempty"`
	CapacityDelta float64 `json:"capacity_delta,omitempty"`
	Refund        float64 `json:"refund,omitempty"`
	Note          string  `json:"note,omitempty"`
}

func (e *Entity) clone() Entity {
	out := *e
	if e.Progress != nil {
		out.Progress = make([]Progress, len(e.Progress))
		copy(out.Progress, e.Progress)
	}
	return out
}

// Child groups entities under a parent.
type Child struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// Reflection is one entry of the global reflection log.
type Reflection struct {
	Timestamp string `json:"timestamp"`
	ClientID  string `json:"client_id,omitempty"`
	Text      string `json:"text"`
}

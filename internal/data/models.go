package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Event phases. DETECTION_ERROR is not a phase: a detector wipeout is recorded
// in ErrorNote while the phase still advances to RESOLVED.
type EventPhase string

const (
	PhasePending      EventPhase = "PENDING"
	PhaseBurstDone    EventPhase = "BURST_DONE"
	PhaseVideoPending EventPhase = "VIDEO_PENDING"
	PhaseVideoTimeout EventPhase = "VIDEO_TIMEOUT"
	PhaseResolved     EventPhase = "RESOLVED"
)

// VerdictSource identifies which analysis phase produced a verdict.
type VerdictSource string

const (
	SourceBurst VerdictSource = "BURST"
	SourceVideo VerdictSource = "VIDEO"
)

// ActuationProvenance records what evidence caused (or extended) a trigger.
type ActuationProvenance string

const (
	ProvenanceBurst       ActuationProvenance = "BURST"
	ProvenanceVideoExtend ActuationProvenance = "VIDEO_EXTEND"
	ProvenanceVideoLate   ActuationProvenance = "VIDEO_LATE"
)

const ErrNoteDetectionError = "DETECTION_ERROR"

// DetectionVerdict is the fused result of analyzing one set of frames.
// Immutable once produced.
type DetectionVerdict struct {
	Detected   bool          `json:"detected"`
	Confidence float64       `json:"confidence"`
	FrameCount int           `json:"frame_count"`
	Source     VerdictSource `json:"source"`
}

// Actuation describes the sprinkler call taken for an event, if any.
type Actuation struct {
	Triggered       bool                `json:"triggered"`
	Zone            string              `json:"zone,omitempty"`
	DurationSeconds int                 `json:"duration_seconds,omitempty"`
	TriggeredAt     *time.Time          `json:"triggered_at,omitempty"`
	Provenance      ActuationProvenance `json:"provenance,omitempty"`
}

// MotionEvent is the durable record of one camera motion trigger. One row per
// (camera, trigger); burst and video phases mutate it in place until RESOLVED.
type MotionEvent struct {
	ID          uuid.UUID         `json:"id"`
	CameraID    string            `json:"camera_id"`
	ReceivedAt  time.Time         `json:"received_at"`
	Phase       EventPhase        `json:"phase"`
	BurstResult *DetectionVerdict `json:"burst_result,omitempty"`
	VideoResult *DetectionVerdict `json:"video_result,omitempty"`
	Final       DetectionVerdict  `json:"final"`
	Actuation   Actuation         `json:"actuation"`
	ErrorNote   string            `json:"error_note,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// EventUpdate carries the mutable fields for UpdateEvent. Nil pointer = leave
// the column alone.
type EventUpdate struct {
	Phase       *EventPhase
	BurstResult *DetectionVerdict
	VideoResult *DetectionVerdict
	Final       *DetectionVerdict
	Actuation   *Actuation
	ErrorNote   *string
}

// EventStore is the durable record of motion events. Persistence backend is a
// collaborator concern; the coordinator only sees this interface.
type EventStore interface {
	CreateEvent(ctx context.Context, ev *MotionEvent) error
	UpdateEvent(ctx context.Context, id uuid.UUID, upd EventUpdate) error
	GetEvent(ctx context.Context, id uuid.UUID) (*MotionEvent, error)
	// GetInFlight returns the event for a camera that has not reached
	// RESOLVED yet, or nil if none.
	GetInFlight(ctx context.Context, cameraID string) (*MotionEvent, error)
	ListRecent(ctx context.Context, limit int) ([]*MotionEvent, error)
}

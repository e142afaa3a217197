package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventModel persists motion events in postgres. Verdicts and actuation are
// JSONB columns: the dashboard reads them as documents and the core never
// queries inside them except for phase, which has its own column.
type EventModel struct {
	DB DBTX
}

func (m EventModel) CreateEvent(ctx context.Context, ev *MotionEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	finalJSON, err := json.Marshal(ev.Final)
	if err != nil {
		return fmt.Errorf("marshal final verdict: %w", err)
	}
	actJSON, err := json.Marshal(ev.Actuation)
	if err != nil {
		return fmt.Errorf("marshal actuation: %w", err)
	}

	query := `
		INSERT INTO motion_events (id, camera_id, received_at, phase, final, actuation, error_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING updated_at`

	return m.DB.QueryRowContext(ctx, query,
		ev.ID, ev.CameraID, ev.ReceivedAt.UTC(), string(ev.Phase),
		finalJSON, actJSON, ev.ErrorNote,
	).Scan(&ev.UpdatedAt)
}

// UpdateEvent writes only the fields set in upd. Burst and video results are
// separate columns so the ordering guarantee (burst written before video) is
// visible in the row history.
func (m EventModel) UpdateEvent(ctx context.Context, id uuid.UUID, upd EventUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if upd.Phase != nil {
		sets = append(sets, "phase = "+arg(string(*upd.Phase)))
	}
	verdictCols := []struct {
		col string
		v   *DetectionVerdict
	}{
		{"burst_result", upd.BurstResult},
		{"video_result", upd.VideoResult},
		{"final", upd.Final},
	}
	for _, vc := range verdictCols {
		if vc.v == nil {
			continue
		}
		b, err := json.Marshal(vc.v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", vc.col, err)
		}
		sets = append(sets, vc.col+" = "+arg(b))
	}
	if upd.Actuation != nil {
		b, err := json.Marshal(upd.Actuation)
		if err != nil {
			return fmt.Errorf("marshal actuation: %w", err)
		}
		sets = append(sets, "actuation = "+arg(b))
	}
	if upd.ErrorNote != nil {
		sets = append(sets, "error_note = "+arg(*upd.ErrorNote))
	}

	query := fmt.Sprintf(`UPDATE motion_events SET %s WHERE id = %s`,
		strings.Join(sets, ", "), arg(id))

	res, err := m.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

const eventColumns = `id, camera_id, received_at, phase, burst_result, video_result, final, actuation, error_note, updated_at`

func (m EventModel) GetEvent(ctx context.Context, id uuid.UUID) (*MotionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM motion_events WHERE id = $1`
	return scanEvent(m.DB.QueryRowContext(ctx, query, id))
}

func (m EventModel) GetInFlight(ctx context.Context, cameraID string) (*MotionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM motion_events
		WHERE camera_id = $1 AND phase NOT IN ('RESOLVED')
		ORDER BY received_at DESC
		LIMIT 1`

	ev, err := scanEvent(m.DB.QueryRowContext(ctx, query, cameraID))
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	return ev, err
}

func (m EventModel) ListRecent(ctx context.Context, limit int) ([]*MotionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `
		SELECT ` + eventColumns + `
		FROM motion_events
		ORDER BY received_at DESC
		LIMIT $1`

	rows, err := m.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MotionEvent
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row *sql.Row) (*MotionEvent, error) {
	ev, err := scanEventRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return ev, err
}

func scanEventRow(r rowScanner) (*MotionEvent, error) {
	var (
		ev                  MotionEvent
		phase               string
		burstRaw, videoRaw  []byte
		finalRaw, actRaw    []byte
		errNote             sql.NullString
		receivedAt, updated time.Time
	)
	err := r.Scan(&ev.ID, &ev.CameraID, &receivedAt, &phase,
		&burstRaw, &videoRaw, &finalRaw, &actRaw, &errNote, &updated)
	if err != nil {
		return nil, err
	}
	ev.ReceivedAt = receivedAt
	ev.UpdatedAt = updated
	ev.Phase = EventPhase(phase)
	ev.ErrorNote = errNote.String

	if len(burstRaw) > 0 {
		ev.BurstResult = &DetectionVerdict{}
		if err := json.Unmarshal(burstRaw, ev.BurstResult); err != nil {
			return nil, fmt.Errorf("unmarshal burst_result: %w", err)
		}
	}
	if len(videoRaw) > 0 {
		ev.VideoResult = &DetectionVerdict{}
		if err := json.Unmarshal(videoRaw, ev.VideoResult); err != nil {
			return nil, fmt.Errorf("unmarshal video_result: %w", err)
		}
	}
	if len(finalRaw) > 0 {
		if err := json.Unmarshal(finalRaw, &ev.Final); err != nil {
			return nil, fmt.Errorf("unmarshal final: %w", err)
		}
	}
	if len(actRaw) > 0 {
		if err := json.Unmarshal(actRaw, &ev.Actuation); err != nil {
			return nil, fmt.Errorf("unmarshal actuation: %w", err)
		}
	}
	return &ev, nil
}

package lightstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
)

// timestampLayout is fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one stored light.
type Record struct {
	DeviceID  string
	TopicID   string
	State     govee.State
	UpdatedAt time.Time
}

// SQLiteRepository implements state persistence using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository backed by db. The light_state
// and state_history tables must already exist.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadState implements govee.StateLoader.
func (r *SQLiteRepository) LoadState(ctx context.Context, deviceID string) (govee.State, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_id, topic_id, power, brightness, color_mode, red, green, blue, kelvin, segment, updated_at
		FROM light_state
		WHERE device_id = ?`,
		deviceID,
	)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return govee.State{}, false, nil
	}
	if err != nil {
		return govee.State{}, false, fmt.Errorf("loading light state: %w", err)
	}
	return rec.State, true, nil
}

// SaveState inserts or replaces the stored state of one light.
func (r *SQLiteRepository) SaveState(ctx context.Context, rec Record) error {
	return saveState(ctx, r.db, rec)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveState(ctx context.Context, ex execer, rec Record) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if rec.TopicID == "" {
		rec.TopicID = rec.DeviceID
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	st := rec.State
	_, err := ex.ExecContext(ctx, `
		INSERT INTO light_state (device_id, topic_id, power, brightness, color_mode, red, green, blue, kelvin, segment, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			topic_id = excluded.topic_id,
			power = excluded.power,
			brightness = excluded.brightness,
			color_mode = excluded.color_mode,
			red = excluded.red,
			green = excluded.green,
			blue = excluded.blue,
			kelvin = excluded.kelvin,
			segment = excluded.segment,
			updated_at = excluded.updated_at`,
		rec.DeviceID,
		rec.TopicID,
		boolToInt(st.Power),
		st.Brightness,
		st.Color.Mode.String(),
		int(st.Color.R),
		int(st.Color.G),
		int(st.Color.B),
		st.Color.Kelvin,
		st.Color.Segment,
		rec.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("saving light state: %w", err)
	}
	return nil
}

// List returns every stored light ordered by device id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, topic_id, power, brightness, color_mode, red, green, blue, kelvin, segment, updated_at
		FROM light_state
		ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("querying light state: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning light state: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating light state: %w", err)
	}

	return records, nil
}

// Delete removes the stored state of one light. Deleting an unknown light
// is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM light_state WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting light state: %w", err)
	}
	return nil
}

// HandleStatus implements govee.StatusSink. The state is stored and the
// change appended to the history in one transaction.
func (r *SQLiteRepository) HandleStatus(ctx context.Context, s govee.Status) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	rec := Record{DeviceID: s.DeviceID, TopicID: s.TopicID, State: s.State, UpdatedAt: s.Timestamp}
	if err := saveState(ctx, tx, rec); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, s); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		power     int
		mode      string
		red       int
		green     int
		blue      int
		updatedAt string
	)

	err := row.Scan(
		&rec.DeviceID,
		&rec.TopicID,
		&power,
		&rec.State.Brightness,
		&mode,
		&red,
		&green,
		&blue,
		&rec.State.Color.Kelvin,
		&rec.State.Color.Segment,
		&updatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.State.Power = power != 0
	rec.State.Color.Mode = govee.ParseColorMode(mode)
	rec.State.Color.R = uint8(red)   //nolint:gosec // Stored from a uint8
	rec.State.Color.G = uint8(green) //nolint:gosec // Stored from a uint8
	rec.State.Color.B = uint8(blue)  //nolint:gosec // Stored from a uint8

	rec.UpdatedAt, err = parseTimestamp(updatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ govee.StateLoader = (*SQLiteRepository)(nil)
	_ govee.StatusSink  = (*SQLiteRepository)(nil)
)

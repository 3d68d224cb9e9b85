package lightstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryEntry is one confirmed state change.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	DeviceID string `json:"device_id"`

	// Field is the state group whose frame was confirmed (power, brightness, color).
	Field string `json:"field"`

	// State is the status document published for the change.
	State govee.StatusMessage `json:"state"`

	CreatedAt time.Time `json:"created_at"`
}

func appendHistory(ctx context.Context, ex execer, s govee.Status) error {
	stateJSON, err := json.Marshal(govee.NewStatusMessage(s.State))
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	at := s.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	_, err = ex.ExecContext(ctx,
		"INSERT INTO state_history (device_id, field, state, created_at) VALUES (?, ?, ?, ?)",
		s.DeviceID,
		s.Changed.String(),
		string(stateJSON),
		at.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent state changes of a light, newest first.
// limit defaults to 50 and is capped at 200.
func (r *SQLiteRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, field, state, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var stateJSON string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Field, &stateJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}

		entry.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes history entries older than olderThan and returns the
// number of rows removed.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

package accessory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StateRepository keeps each accessory's last-known state across restarts.
// It holds one record per accessory; saving overwrites it.
type StateRepository interface {
	// Load returns the saved state, or ErrNotFound.
	Load(ctx context.Context, accessoryID string) (State, error)
	Save(ctx context.Context, identity Identity, st State) error
}

// SQLiteStateRepository implements StateRepository on the accessory_state table.
type SQLiteStateRepository struct {
	db *sql.DB
}

// NewSQLiteStateRepository creates a repository on an open, migrated database.
func NewSQLiteStateRepository(db *sql.DB) *SQLiteStateRepository {
	return &SQLiteStateRepository{db: db}
}

// Load returns the last saved state for accessoryID.
func (r *SQLiteStateRepository) Load(ctx context.Context, accessoryID string) (State, error) {
	var (
		st          State
		isOn        int
		temperature sql.NullFloat64
		humidity    sql.NullFloat64
		source      string
		updatedAt   string
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT is_on, temperature, humidity, source, updated_at
		 FROM accessory_state WHERE accessory_id = ?`,
		accessoryID,
	).Scan(&isOn, &temperature, &humidity, &source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("querying accessory state: %w", err)
	}

	st.On = isOn == 1
	st.Temperature = temperature.Float64
	st.Humidity = humidity.Float64
	st.Source = Source(source)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		st.LastUpdated = t
	}

	return st, nil
}

// Save upserts the state for identity.
func (r *SQLiteStateRepository) Save(ctx context.Context, identity Identity, st State) error {
	if identity.ID == "" {
		return fmt.Errorf("accessory id is required")
	}

	isOn := 0
	if st.On {
		isOn = 1
	}
	updated := st.LastUpdated
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accessory_state
			(accessory_id, device_name, device_type, is_on, temperature, humidity, source, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(accessory_id) DO UPDATE SET
			device_name = excluded.device_name,
			device_type = excluded.device_type,
			is_on       = excluded.is_on,
			temperature = excluded.temperature,
			humidity    = excluded.humidity,
			source      = excluded.source,
			updated_at  = excluded.updated_at`,
		identity.ID,
		identity.Name,
		string(identity.Type),
		isOn,
		st.Temperature,
		st.Humidity,
		string(st.Source),
		updated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving accessory state: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tatianab/terranaut/internal/models"
)

// SessionRow is the persisted summary of a playthrough.
type SessionRow struct {
	ID           string         `db:"id" json:"id"`
	UserID       string         `db:"user_id" json:"user_id"`
	FarmID       sql.NullString `db:"farm_id" json:"-"`
	Mode         string         `db:"mode" json:"mode"`
	Location     string         `db:"location" json:"location"`
	Latitude     float64        `db:"latitude" json:"latitude"`
	Longitude    float64        `db:"longitude" json:"longitude"`
	CropType     string         `db:"crop_type" json:"crop_type"`
	StartDate    string         `db:"start_date" json:"start_date"`
	CurrentDay   int            `db:"current_day" json:"current_day"`
	WaterReserve float64        `db:"water_reserve" json:"water_reserve"`
	Budget       float64        `db:"budget" json:"budget"`
	EnvScore     float64        `db:"env_score" json:"env_score"`
	Completed    bool           `db:"completed" json:"completed"`
	CreatedAt    string         `db:"created_at" json:"created_at"`
	UpdatedAt    string         `db:"updated_at" json:"updated_at"`
}

const sessionColumns = `id, user_id, farm_id, mode, location, latitude, longitude, crop_type,
	start_date, current_day, water_reserve, budget, env_score, completed, created_at, updated_at`

// NewSessionRow builds the row for a freshly created playthrough.
func NewSessionRow(id, userID, farmID string, setup models.Setup, state models.FarmSession) SessionRow {
	row := SessionRow{
		ID:           id,
		UserID:       userID,
		Mode:         string(setup.Mode),
		Location:     setup.Location.Name,
		Latitude:     setup.Location.Lat,
		Longitude:    setup.Location.Lon,
		CropType:     setup.Crop.Name,
		StartDate:    setup.StartDate.Format(dateLayout),
		CurrentDay:   state.CurrentDay,
		WaterReserve: state.WaterReserve,
		Budget:       state.Budget,
		EnvScore:     state.EnvironmentalScore,
	}
	if farmID != "" {
		row.FarmID = sql.NullString{String: farmID, Valid: true}
	}
	return row
}

func (s *Store) CreateSession(ctx context.Context, row SessionRow) error {
	if row.ID == "" || row.UserID == "" {
		return fmt.Errorf("session id and owner are required")
	}
	row.CreatedAt = s.stamp()
	row.UpdatedAt = row.CreatedAt
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO game_sessions (`+sessionColumns+`) VALUES (
			:id, :user_id, :farm_id, :mode, :location, :latitude, :longitude, :crop_type,
			:start_date, :current_day, :water_reserve, :budget, :env_score, :completed, :created_at, :updated_at)`,
		row)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (SessionRow, error) {
	var row SessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+sessionColumns+` FROM game_sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, ErrNotFound
	}
	if err != nil {
		return SessionRow{}, fmt.Errorf("get session: %w", err)
	}
	return row, nil
}

// LatestActiveSession finds the user's newest incomplete session.
func (s *Store) LatestActiveSession(ctx context.Context, userID string) (SessionRow, error) {
	var row SessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+sessionColumns+` FROM game_sessions
		 WHERE user_id = ? AND completed = ? ORDER BY created_at DESC LIMIT 1`), userID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, ErrNotFound
	}
	if err != nil {
		return SessionRow{}, fmt.Errorf("latest session: %w", err)
	}
	return row, nil
}

// UpdateProgress writes the live counters of a session.
func (s *Store) UpdateProgress(ctx context.Context, id string, state models.FarmSession, completed bool) error {
	n, err := s.exec(ctx,
		`UPDATE game_sessions SET current_day = ?, water_reserve = ?, budget = ?, env_score = ?,
		 completed = ?, updated_at = ? WHERE id = ?`,
		state.CurrentDay, state.WaterReserve, state.Budget, state.EnvironmentalScore, completed, s.stamp(), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// OwnedBy reports whether session id belongs to userID.
func (s *Store) OwnedBy(ctx context.Context, id, userID string) (bool, error) {
	row, err := s.GetSession(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.UserID == userID, nil
}

// SaveSnapshot stores the full save of a session, replacing any earlier one.
// The payload uses the same YAML encoding as save files.
func (s *Store) SaveSnapshot(ctx context.Context, save models.GameSave) error {
	if save.ID == "" {
		return fmt.Errorf("snapshot needs a session id")
	}
	payload, err := yaml.Marshal(save)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO session_snapshots (session_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		save.ID, string(payload), s.stamp())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the last snapshot saved for session id.
func (s *Store) LoadSnapshot(ctx context.Context, id string) (models.GameSave, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, s.db.Rebind(`SELECT payload FROM session_snapshots WHERE session_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GameSave{}, ErrNotFound
	}
	if err != nil {
		return models.GameSave{}, fmt.Errorf("load snapshot: %w", err)
	}
	var save models.GameSave
	if err := yaml.Unmarshal([]byte(payload), &save); err != nil {
		return models.GameSave{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return save, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tatianab/terranaut/internal/models"
)

// Data sources recorded on satellite rows.
const (
	SourceReal      = "MODIS_REAL"
	SourceSimulated = "MODIS_SIMULATED"
	SourceResolved  = "RESOLVED"
)

// positionTolerance is how close (in degrees) a stored row must be to match a location.
const positionTolerance = 0.01

// QualityFlags records which metrics of an uploaded row were gap-filled.
type QualityFlags struct {
	NDVISynthetic bool `json:"ndvi_synthetic"`
	LSTSynthetic  bool `json:"lst_synthetic"`
	SMSynthetic   bool `json:"sm_synthetic"`
}

// SatelliteRow is one day of stored satellite values for a session.
type SatelliteRow struct {
	ID             string         `db:"id" json:"id"`
	SessionID      string         `db:"game_session_id" json:"game_session_id"`
	Latitude       float64        `db:"latitude" json:"latitude"`
	Longitude      float64        `db:"longitude" json:"longitude"`
	Date           string         `db:"date" json:"date"`
	NDVI           *float64       `db:"ndvi" json:"ndvi"`
	LSTKelvin      *float64       `db:"lst_kelvin" json:"lst_kelvin"`
	LSTCelsius     *float64       `db:"lst_celsius" json:"lst_celsius"`
	SoilMoisture   *float64       `db:"soil_moisture" json:"soil_moisture"`
	IsInterpolated bool           `db:"is_interpolated" json:"is_interpolated"`
	DataAgeDays    int            `db:"data_age_days" json:"data_age_days"`
	DataSource     string         `db:"data_source" json:"data_source"`
	QualityFlags   sql.NullString `db:"quality_flags" json:"-"`
	CreatedAt      string         `db:"created_at" json:"created_at"`
}

const satelliteColumns = `id, game_session_id, latitude, longitude, date, ndvi, lst_kelvin, lst_celsius,
	soil_moisture, is_interpolated, data_age_days, data_source, quality_flags, created_at`

// SetFlags encodes f into the row's quality_flags column.
func (r *SatelliteRow) SetFlags(f QualityFlags) {
	b, _ := json.Marshal(f)
	r.QualityFlags = sql.NullString{String: string(b), Valid: true}
}

// Flags decodes the row's quality_flags column.
func (r SatelliteRow) Flags() QualityFlags {
	var f QualityFlags
	if r.QualityFlags.Valid {
		_ = json.Unmarshal([]byte(r.QualityFlags.String), &f)
	}
	return f
}

// ReplaceSessionData deletes every row of sessionID and inserts rows in one transaction.
func (s *Store) ReplaceSessionData(ctx context.Context, sessionID string, rows []SatelliteRow) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM satellite_data WHERE game_session_id = ?`), sessionID); err != nil {
		return 0, fmt.Errorf("clear session rows: %w", err)
	}
	created := s.stamp()
	for i := range rows {
		rows[i].ID = uuid.NewString()
		rows[i].SessionID = sessionID
		rows[i].CreatedAt = created
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO satellite_data (`+satelliteColumns+`) VALUES (
			:id, :game_session_id, :latitude, :longitude, :date, :ndvi, :lst_kelvin, :lst_celsius,
			:soil_moisture, :is_interpolated, :data_age_days, :data_source, :quality_flags, :created_at)`, rows[i]); err != nil {
			return 0, fmt.Errorf("insert satellite row %s: %w", rows[i].Date, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// InsertRow appends one row without touching existing data.
func (s *Store) InsertRow(ctx context.Context, row SatelliteRow) error {
	row.ID = uuid.NewString()
	row.CreatedAt = s.stamp()
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO satellite_data (`+satelliteColumns+`) VALUES (
		:id, :game_session_id, :latitude, :longitude, :date, :ndvi, :lst_kelvin, :lst_celsius,
		:soil_moisture, :is_interpolated, :data_age_days, :data_source, :quality_flags, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("insert satellite row: %w", err)
	}
	return nil
}

// SessionData returns the session's rows ordered by date.
func (s *Store) SessionData(ctx context.Context, sessionID string) ([]SatelliteRow, error) {
	var out []SatelliteRow
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT `+satelliteColumns+` FROM satellite_data WHERE game_session_id = ? ORDER BY date ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("session data: %w", err)
	}
	return out, nil
}

// CountSessionData reports how many rows exist for sessionID.
func (s *Store) CountSessionData(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM satellite_data WHERE game_session_id = ?`), sessionID)
	if err != nil {
		return 0, fmt.Errorf("count session data: %w", err)
	}
	return n, nil
}

// Recorded is a previously stored value of one metric.
type Recorded struct {
	Value float64
	Date  time.Time
}

// LatestQuery selects the stored value LatestRecorded looks for.
type LatestQuery struct {
	Metric     models.Metric
	SessionID  string
	Lat, Lon   float64
	OnOrBefore time.Time
}

// LatestRecorded returns the most recent non-null value of q.Metric on or before
// q.OnOrBefore, scoped to the session when one is given and to the position otherwise.
func (s *Store) LatestRecorded(ctx context.Context, q LatestQuery) (Recorded, error) {
	var column string
	switch q.Metric {
	case models.MetricNDVI:
		column = "ndvi"
	case models.MetricLST:
		column = "lst_kelvin"
	case models.MetricSoilMoisture:
		column = "soil_moisture"
	default:
		return Recorded{}, fmt.Errorf("unknown metric %q", q.Metric)
	}

	query := `SELECT ` + column + ` AS value, date FROM satellite_data WHERE ` + column + ` IS NOT NULL AND date <= ?`
	args := []any{q.OnOrBefore.Format(dateLayout)}
	if q.SessionID != "" {
		query += ` AND game_session_id = ?`
		args = append(args, q.SessionID)
	} else {
		query += ` AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`
		args = append(args, q.Lat-positionTolerance, q.Lat+positionTolerance, q.Lon-positionTolerance, q.Lon+positionTolerance)
	}
	query += ` ORDER BY date DESC, created_at DESC LIMIT 1`

	var row struct {
		Value float64 `db:"value"`
		Date  string  `db:"date"`
	}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return Recorded{}, ErrNotFound
	}
	if err != nil {
		return Recorded{}, fmt.Errorf("latest %s: %w", q.Metric, err)
	}
	d, err := time.Parse(dateLayout, row.Date)
	if err != nil {
		return Recorded{}, fmt.Errorf("stored date %q: %w", row.Date, err)
	}
	return Recorded{Value: row.Value, Date: d}, nil
}

// RecordObservation stores the REAL readings of obs so later lookups can fall back to them.
// Readings of other provenance are left null.
func (s *Store) RecordObservation(ctx context.Context, sessionID string, lat, lon float64, obs models.EnvironmentalObservation) error {
	row := SatelliteRow{
		SessionID:  sessionID,
		Latitude:   lat,
		Longitude:  lon,
		Date:       obs.Date.Format(dateLayout),
		DataSource: SourceResolved,
	}
	observed := func(r models.Reading) *float64 {
		if r.Provenance != models.ProvenanceReal && r.Provenance != models.ProvenanceInterpolated {
			return nil
		}
		v := r.Value
		return &v
	}
	row.NDVI = observed(obs.NDVI)
	row.SoilMoisture = observed(obs.SoilMoisture)
	if k := observed(obs.LST); k != nil {
		c := *k - 273.15
		row.LSTKelvin, row.LSTCelsius = k, &c
	}
	if row.NDVI == nil && row.SoilMoisture == nil && row.LSTKelvin == nil {
		return nil
	}
	row.IsInterpolated = obs.NDVI.Provenance == models.ProvenanceInterpolated ||
		obs.SoilMoisture.Provenance == models.ProvenanceInterpolated ||
		obs.LST.Provenance == models.ProvenanceInterpolated
	row.DataAgeDays = obs.OldestAgeDays()
	return s.InsertRow(ctx, row)
}

// ClearFilter selects which rows ClearSatelliteData removes. Exactly one of
// SessionID or OlderThan narrows the delete; with neither, all of the user's rows go.
type ClearFilter struct {
	UserID    string
	SessionID string
	OlderThan time.Duration
}

// ClearSatelliteData deletes rows belonging to the user's sessions.
func (s *Store) ClearSatelliteData(ctx context.Context, f ClearFilter) (int64, error) {
	owned := `game_session_id IN (SELECT id FROM game_sessions WHERE user_id = ?)`
	switch {
	case f.SessionID != "":
		return s.exec(ctx, `DELETE FROM satellite_data WHERE game_session_id = ? AND `+owned, f.SessionID, f.UserID)
	case f.OlderThan > 0:
		cutoff := s.now().Add(-f.OlderThan).UTC().Format(timeLayout)
		return s.exec(ctx, `DELETE FROM satellite_data WHERE created_at < ? AND `+owned, cutoff, f.UserID)
	default:
		return s.exec(ctx, `DELETE FROM satellite_data WHERE `+owned, f.UserID)
	}
}

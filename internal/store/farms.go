package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Farm is a named plot owned by a user.
type Farm struct {
	ID        string  `db:"id" json:"id"`
	UserID    string  `db:"user_id" json:"user_id"`
	FarmName  string  `db:"farm_name" json:"farm_name"`
	FarmSize  float64 `db:"farm_size" json:"farm_size"` // hectares
	CreatedAt string  `db:"created_at" json:"created_at"`
}

// CreateFarm inserts f, assigning its id and creation time.
func (s *Store) CreateFarm(ctx context.Context, f Farm) (Farm, error) {
	f.FarmName = strings.TrimSpace(f.FarmName)
	if f.UserID == "" || f.FarmName == "" || f.FarmSize <= 0 {
		return Farm{}, fmt.Errorf("farm name, size and owner are required")
	}
	f.ID = uuid.NewString()
	f.CreatedAt = s.stamp()
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO farms (id, user_id, farm_name, farm_size, created_at)
		 VALUES (:id, :user_id, :farm_name, :farm_size, :created_at)`, f)
	if err != nil {
		return Farm{}, fmt.Errorf("insert farm: %w", err)
	}
	return f, nil
}

// ListFarms returns the user's farms, newest first.
func (s *Store) ListFarms(ctx context.Context, userID string) ([]Farm, error) {
	var out []Farm
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT id, user_id, farm_name, farm_size, created_at FROM farms
		 WHERE user_id = ? ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list farms: %w", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
)

const unitColumns = `id, call_sign, ST_Y(location::geometry), ST_X(location::geometry),
	status, center_id, crew, equipment, assignment, updated_at`

const upsertUnit = `INSERT INTO ambulance_units (
	id, call_sign, location, status, center_id, crew, equipment, assignment, updated_at
) VALUES (
	$1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (id) DO UPDATE SET
	call_sign = EXCLUDED.call_sign,
	location = EXCLUDED.location,
	status = EXCLUDED.status,
	center_id = EXCLUDED.center_id,
	crew = EXCLUDED.crew,
	equipment = EXCLUDED.equipment,
	assignment = EXCLUDED.assignment,
	updated_at = EXCLUDED.updated_at`

func (s *Store) ListUnits(ctx context.Context) ([]domain.AmbulanceUnit, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+unitColumns+` FROM ambulance_units ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AmbulanceUnit, 0)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) LoadUnit(ctx context.Context, id string) (domain.AmbulanceUnit, error) {
	u, err := scanUnit(s.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM ambulance_units WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AmbulanceUnit{}, apperr.NotFound("ambulance unit", id)
	}
	if err != nil {
		return domain.AmbulanceUnit{}, fmt.Errorf("load unit %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) SaveUnit(ctx context.Context, u domain.AmbulanceUnit) error {
	if err := u.Validate(); err != nil {
		return err
	}
	crew, err := json.Marshal(u.Crew)
	if err != nil {
		return fmt.Errorf("encode crew: %w", err)
	}
	assignment, err := nullableJSON(u.Assignment)
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}
	equipment := u.Equipment
	if equipment == nil {
		equipment = []string{}
	}

	_, err = s.pool.Exec(ctx, upsertUnit,
		u.ID, u.CallSign, u.Location.Longitude, u.Location.Latitude,
		string(u.Status), u.CenterID, crew, equipment, assignment, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert unit %s: %w", u.ID, err)
	}
	return nil
}

func scanUnit(row pgx.Row) (domain.AmbulanceUnit, error) {
	var (
		u                domain.AmbulanceUnit
		status           string
		crew, assignment []byte
	)
	err := row.Scan(
		&u.ID, &u.CallSign, &u.Location.Latitude, &u.Location.Longitude,
		&status, &u.CenterID, &crew, &u.Equipment, &assignment, &u.UpdatedAt,
	)
	if err != nil {
		return domain.AmbulanceUnit{}, err
	}
	u.Status = domain.UnitStatus(status)
	if err := json.Unmarshal(crew, &u.Crew); err != nil {
		return domain.AmbulanceUnit{}, fmt.Errorf("decode crew: %w", err)
	}
	if u.Assignment, err = decodeNullableJSON[domain.UnitAssignment](assignment); err != nil {
		return domain.AmbulanceUnit{}, fmt.Errorf("decode assignment: %w", err)
	}
	return u, nil
}

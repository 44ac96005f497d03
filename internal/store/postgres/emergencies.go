package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
	"golden/hour/internal/store"
)

const emergencyColumns = `id, patient, ST_Y(location::geometry), ST_X(location::geometry), address,
	type, severity, description, status, assigned_hospital, ambulance, milestones, created_at, updated_at`

const upsertEmergency = `INSERT INTO emergencies (
	id, patient, location, address, type, severity, description, status,
	assigned_hospital, ambulance, milestones, created_at, updated_at
) VALUES (
	$1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8, $9,
	$10, $11, $12, $13, $14
)
ON CONFLICT (id) DO UPDATE SET
	address = EXCLUDED.address,
	status = EXCLUDED.status,
	assigned_hospital = EXCLUDED.assigned_hospital,
	ambulance = EXCLUDED.ambulance,
	milestones = EXCLUDED.milestones,
	updated_at = EXCLUDED.updated_at`

const insertTimelineEntry = `INSERT INTO emergency_timeline (emergency_id, seq, occurred_at, event, actor, details)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (emergency_id, seq) DO NOTHING`

func (s *Store) SaveEmergency(ctx context.Context, e domain.Emergency) error {
	patient, err := json.Marshal(e.Patient)
	if err != nil {
		return fmt.Errorf("encode patient: %w", err)
	}
	hospital, err := nullableJSON(e.AssignedHospital)
	if err != nil {
		return fmt.Errorf("encode hospital assignment: %w", err)
	}
	ambulance, err := nullableJSON(e.Ambulance)
	if err != nil {
		return fmt.Errorf("encode ambulance assignment: %w", err)
	}
	milestones, err := json.Marshal(e.Milestones)
	if err != nil {
		return fmt.Errorf("encode milestones: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var stored int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM emergency_timeline WHERE emergency_id = $1`, e.ID).Scan(&stored); err != nil {
			return fmt.Errorf("count timeline of %s: %w", e.ID, err)
		}
		if len(e.Timeline) < stored {
			return apperr.Validation("emergency %s timeline would shrink from %d to %d entries", e.ID, stored, len(e.Timeline))
		}

		if _, err := tx.Exec(ctx, upsertEmergency,
			e.ID, patient, e.Location.Longitude, e.Location.Latitude, e.Address,
			string(e.Type), string(e.Severity), e.Description, string(e.Status),
			hospital, ambulance, milestones, e.CreatedAt, e.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert emergency %s: %w", e.ID, err)
		}

		batch := &pgx.Batch{}
		for seq := stored; seq < len(e.Timeline); seq++ {
			entry := e.Timeline[seq]
			batch.Queue(insertTimelineEntry, e.ID, seq, entry.Timestamp, entry.Event, entry.Actor, entry.Details)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("append timeline of %s: %w", e.ID, err)
		}
		return nil
	})
}

func (s *Store) LoadEmergency(ctx context.Context, id string) (domain.Emergency, error) {
	e, err := scanEmergency(s.pool.QueryRow(ctx, `SELECT `+emergencyColumns+` FROM emergencies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Emergency{}, apperr.NotFound("emergency", id)
	}
	if err != nil {
		return domain.Emergency{}, fmt.Errorf("load emergency %s: %w", id, err)
	}

	timelines, err := s.loadTimelines(ctx, []string{id})
	if err != nil {
		return domain.Emergency{}, err
	}
	e.Timeline = timelines[id]
	return e, nil
}

func (s *Store) ListEmergencies(ctx context.Context, filter store.EmergencyFilter) ([]domain.Emergency, error) {
	query := `SELECT ` + emergencyColumns + ` FROM emergencies
WHERE ($1 = '' OR status = $1)
  AND (NOT $2 OR status NOT IN ('completed', 'cancelled'))
ORDER BY created_at DESC, id DESC`
	args := []any{string(filter.Status), filter.ActiveOnly}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list emergencies: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Emergency, 0)
	ids := make([]string, 0)
	for rows.Next() {
		e, err := scanEmergency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emergency: %w", err)
		}
		out = append(out, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	timelines, err := s.loadTimelines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Timeline = timelines[out[i].ID]
	}
	return out, nil
}

func (s *Store) loadTimelines(ctx context.Context, ids []string) (map[string][]domain.TimelineEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT emergency_id, occurred_at, event, actor, details
FROM emergency_timeline
WHERE emergency_id = ANY($1)
ORDER BY emergency_id, seq`, ids)
	if err != nil {
		return nil, fmt.Errorf("load timelines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.TimelineEntry, len(ids))
	for rows.Next() {
		var (
			id    string
			entry domain.TimelineEntry
		)
		if err := rows.Scan(&id, &entry.Timestamp, &entry.Event, &entry.Actor, &entry.Details); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		out[id] = append(out[id], entry)
	}
	return out, rows.Err()
}

func scanEmergency(row pgx.Row) (domain.Emergency, error) {
	var (
		e                                domain.Emergency
		patient, milestones              []byte
		hospital, ambulance              []byte
		etype, severity, status, address string
	)
	err := row.Scan(
		&e.ID, &patient, &e.Location.Latitude, &e.Location.Longitude, &address,
		&etype, &severity, &e.Description, &status,
		&hospital, &ambulance, &milestones, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.Emergency{}, err
	}
	e.Address = address
	e.Type = domain.EmergencyType(etype)
	e.Severity = domain.Severity(severity)
	e.Status = domain.Status(status)

	if err := json.Unmarshal(patient, &e.Patient); err != nil {
		return domain.Emergency{}, fmt.Errorf("decode patient: %w", err)
	}
	if err := json.Unmarshal(milestones, &e.Milestones); err != nil {
		return domain.Emergency{}, fmt.Errorf("decode milestones: %w", err)
	}
	if e.AssignedHospital, err = decodeNullableJSON[domain.HospitalAssignment](hospital); err != nil {
		return domain.Emergency{}, fmt.Errorf("decode hospital assignment: %w", err)
	}
	if e.Ambulance, err = decodeNullableJSON[domain.AmbulanceAssignment](ambulance); err != nil {
		return domain.Emergency{}, fmt.Errorf("decode ambulance assignment: %w", err)
	}
	return e, nil
}

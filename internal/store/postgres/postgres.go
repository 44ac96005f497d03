// Package postgres implements store.Store on Postgres with PostGIS.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/store"
)

// Store is backed by a pgx connection pool it owns.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps pool. Close releases it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const hospitalColumns = `id, name, address, phone,
	ST_Y(location::geometry), ST_X(location::geometry),
	total_beds, available_beds, icu_beds, available_icu_beds, emergency_rooms, available_emergency_rooms,
	trauma_level, stroke_center, heart_attack_center, burn_center, poison_control, psychiatric_center, pediatric_center,
	ct_scanner, mri_scanner, ventilators, defibrillators, blood_bank,
	specialties, status, rating_overall, rating_emergency, rating_review_count`

const findHospitalsNear = `SELECT ` + hospitalColumns + `
FROM hospitals
WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
  AND ($4 = '' OR status = $4)
  AND available_beds >= $5
ORDER BY id`

func (s *Store) FindHospitalsNear(ctx context.Context, center geo.Point, radiusMeters float64, filter store.HospitalFilter) ([]domain.Hospital, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, findHospitalsNear,
		center.Longitude, center.Latitude, radiusMeters, string(filter.Status), filter.MinAvailableBeds)
	if err != nil {
		return nil, fmt.Errorf("query hospitals near: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Hospital, 0)
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) LoadHospital(ctx context.Context, id string) (domain.Hospital, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospitals WHERE id = $1`, id)
	h, err := scanHospital(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Hospital{}, apperr.NotFound("hospital", id)
	}
	return h, err
}

const upsertHospital = `INSERT INTO hospitals (
	id, name, address, phone, location,
	total_beds, available_beds, icu_beds, available_icu_beds, emergency_rooms, available_emergency_rooms,
	trauma_level, stroke_center, heart_attack_center, burn_center, poison_control, psychiatric_center, pediatric_center,
	ct_scanner, mri_scanner, ventilators, defibrillators, blood_bank,
	specialties, status, rating_overall, rating_emergency, rating_review_count
) VALUES (
	$1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography,
	$7, $8, $9, $10, $11, $12,
	$13, $14, $15, $16, $17, $18, $19,
	$20, $21, $22, $23, $24,
	$25, $26, $27, $28, $29
)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name, address = EXCLUDED.address, phone = EXCLUDED.phone, location = EXCLUDED.location,
	total_beds = EXCLUDED.total_beds, available_beds = EXCLUDED.available_beds,
	icu_beds = EXCLUDED.icu_beds, available_icu_beds = EXCLUDED.available_icu_beds,
	emergency_rooms = EXCLUDED.emergency_rooms, available_emergency_rooms = EXCLUDED.available_emergency_rooms,
	trauma_level = EXCLUDED.trauma_level, stroke_center = EXCLUDED.stroke_center,
	heart_attack_center = EXCLUDED.heart_attack_center, burn_center = EXCLUDED.burn_center,
	poison_control = EXCLUDED.poison_control, psychiatric_center = EXCLUDED.psychiatric_center,
	pediatric_center = EXCLUDED.pediatric_center, ct_scanner = EXCLUDED.ct_scanner,
	mri_scanner = EXCLUDED.mri_scanner, ventilators = EXCLUDED.ventilators,
	defibrillators = EXCLUDED.defibrillators, blood_bank = EXCLUDED.blood_bank,
	specialties = EXCLUDED.specialties, status = EXCLUDED.status,
	rating_overall = EXCLUDED.rating_overall, rating_emergency = EXCLUDED.rating_emergency,
	rating_review_count = EXCLUDED.rating_review_count`

func (s *Store) SaveHospital(ctx context.Context, h domain.Hospital) error {
	if err := h.Validate(); err != nil {
		return err
	}
	trauma := h.Capabilities.TraumaLevel
	if trauma == "" {
		trauma = domain.TraumaNone
	}
	_, err := s.pool.Exec(ctx, upsertHospital,
		h.ID, h.Name, h.Address, h.Phone, h.Location.Longitude, h.Location.Latitude,
		h.Capacity.TotalBeds, h.Capacity.AvailableBeds, h.Capacity.ICUBeds, h.Capacity.AvailableICUBeds,
		h.Capacity.EmergencyRooms, h.Capacity.AvailableEmergencyRooms,
		string(trauma), h.Capabilities.StrokeCenter, h.Capabilities.HeartAttackCenter, h.Capabilities.BurnCenter,
		h.Capabilities.PoisonControl, h.Capabilities.PsychiatricCenter, h.Capabilities.PediatricCenter,
		h.Equipment.CTScanner, h.Equipment.MRIScanner, h.Equipment.Ventilators, h.Equipment.Defibrillators,
		h.Equipment.BloodBank,
		specialtiesToStrings(h.Specialties), string(h.Status),
		h.Rating.Overall, h.Rating.Emergency, h.Rating.ReviewCount,
	)
	if err != nil {
		return fmt.Errorf("upsert hospital %s: %w", h.ID, err)
	}
	return nil
}

// adjustCapacity only matches when the result stays inside the bounds, so a
// concurrent writer that got there first turns into zero affected rows.
const adjustCapacity = `UPDATE hospitals
SET available_beds = available_beds + $2,
    available_icu_beds = available_icu_beds + $3
WHERE id = $1
  AND available_beds + $2 BETWEEN 0 AND total_beds
  AND available_icu_beds + $3 BETWEEN 0 AND icu_beds
RETURNING ` + hospitalColumns

func (s *Store) AdjustCapacity(ctx context.Context, id string, delta domain.CapacityDelta) (domain.Hospital, error) {
	h, err := scanHospital(s.pool.QueryRow(ctx, adjustCapacity, id, delta.Beds, delta.ICUBeds))
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Hospital{}, fmt.Errorf("adjust capacity of %s: %w", id, err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM hospitals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Hospital{}, fmt.Errorf("check hospital %s: %w", id, err)
	}
	if !exists {
		return domain.Hospital{}, apperr.NotFound("hospital", id)
	}
	return domain.Hospital{}, apperr.ReservationConflict(id, nil)
}

func scanHospital(row pgx.Row) (domain.Hospital, error) {
	var (
		h           domain.Hospital
		trauma      string
		status      string
		specialties []string
	)
	err := row.Scan(
		&h.ID, &h.Name, &h.Address, &h.Phone,
		&h.Location.Latitude, &h.Location.Longitude,
		&h.Capacity.TotalBeds, &h.Capacity.AvailableBeds, &h.Capacity.ICUBeds, &h.Capacity.AvailableICUBeds,
		&h.Capacity.EmergencyRooms, &h.Capacity.AvailableEmergencyRooms,
		&trauma, &h.Capabilities.StrokeCenter, &h.Capabilities.HeartAttackCenter, &h.Capabilities.BurnCenter,
		&h.Capabilities.PoisonControl, &h.Capabilities.PsychiatricCenter, &h.Capabilities.PediatricCenter,
		&h.Equipment.CTScanner, &h.Equipment.MRIScanner, &h.Equipment.Ventilators, &h.Equipment.Defibrillators,
		&h.Equipment.BloodBank,
		&specialties, &status, &h.Rating.Overall, &h.Rating.Emergency, &h.Rating.ReviewCount,
	)
	if err != nil {
		return domain.Hospital{}, err
	}
	h.Capabilities.TraumaLevel = domain.TraumaLevel(trauma)
	h.Status = domain.HospitalStatus(status)
	h.Specialties = stringsToSpecialties(specialties)
	return h, nil
}

func specialtiesToStrings(in []domain.Specialty) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func stringsToSpecialties(in []string) []domain.Specialty {
	out := make([]domain.Specialty, len(in))
	for i, s := range in {
		out[i] = domain.Specialty(s)
	}
	return out
}

// nullableJSON encodes v as JSON, or returns nil for a nil pointer so the
// column is stored as NULL.
func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeNullableJSON[T any](raw []byte) (*T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

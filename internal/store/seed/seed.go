// Package seed loads hospitals, ambulance units and dispatch centers from a
// YAML fixture.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"golden/hour/internal/domain"
	"golden/hour/internal/store"
)

// File is the top-level document.
type File struct {
	Hospitals       []domain.Hospital       `yaml:"hospitals"`
	Units           []domain.AmbulanceUnit  `yaml:"units"`
	DispatchCenters []domain.DispatchCenter `yaml:"dispatch_centers"`
}

// Load reads and validates the fixture at path.
func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a fixture and fills defaults: hospitals without a status
// are active, units without a status are available, and an omitted
// trauma level means none.
func Parse(r io.Reader) (File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}

	for i := range file.Hospitals {
		h := &file.Hospitals[i]
		if h.Status == "" {
			h.Status = domain.HospitalActive
		}
		if h.Capabilities.TraumaLevel == "" {
			h.Capabilities.TraumaLevel = domain.TraumaNone
		}
		if err := h.Validate(); err != nil {
			return File{}, fmt.Errorf("hospital #%d (%s): %w", i, h.ID, err)
		}
	}
	for i := range file.Units {
		u := &file.Units[i]
		if u.Status == "" {
			u.Status = domain.UnitAvailable
		}
		if err := u.Validate(); err != nil {
			return File{}, fmt.Errorf("unit #%d (%s): %w", i, u.ID, err)
		}
	}
	for i, c := range file.DispatchCenters {
		if c.ID == "" {
			return File{}, fmt.Errorf("dispatch center #%d has no id", i)
		}
		if err := c.Location.Validate(); err != nil {
			return File{}, fmt.Errorf("dispatch center %s: %w", c.ID, err)
		}
	}
	return file, nil
}

// Writer is the subset of store.Store needed by Apply.
type Writer interface {
	SaveHospital(ctx context.Context, h domain.Hospital) error
	SaveUnit(ctx context.Context, u domain.AmbulanceUnit) error
}

var _ Writer = store.Store(nil)

// Apply persists every hospital and unit of file.
func Apply(ctx context.Context, w Writer, file File) error {
	for _, h := range file.Hospitals {
		if err := w.SaveHospital(ctx, h); err != nil {
			return fmt.Errorf("save hospital %s: %w", h.ID, err)
		}
	}
	for _, u := range file.Units {
		if err := w.SaveUnit(ctx, u); err != nil {
			return fmt.Errorf("save unit %s: %w", u.ID, err)
		}
	}
	return nil
}

// Package notify delivers emergency events to external parties. Delivery
// is always asynchronous through an Outbox; a failed gateway is logged and
// never affects the emergency itself.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"golden/hour/internal/domain"
)

// Kind names an event.
type Kind string

const (
	KindSubmitted     Kind = "emergency.submitted"
	KindDispatched    Kind = "ambulance.dispatched"
	KindNoResource    Kind = "emergency.no_resource"
	KindStatusChanged Kind = "emergency.status_changed"
	KindCancelled     Kind = "emergency.cancelled"
)

// Gateway delivers one event to one channel.
type Gateway interface {
	Name() string
	Notify(ctx context.Context, e domain.Emergency, kind Kind, payload map[string]any) error
}

// Envelope is the wire form shared by the webhook and stream gateways.
type Envelope struct {
	Kind        Kind                 `json:"kind"`
	EmergencyID string               `json:"emergency_id"`
	Status      domain.Status        `json:"status"`
	Type        domain.EmergencyType `json:"type"`
	Severity    domain.Severity      `json:"severity"`
	PatientName string               `json:"patient_name,omitempty"`
	Phone       string               `json:"phone"`
	HospitalID  string               `json:"hospital_id,omitempty"`
	UnitID      string               `json:"unit_id,omitempty"`
	Payload     map[string]any       `json:"payload,omitempty"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// NewEnvelope flattens e into the wire form.
func NewEnvelope(e domain.Emergency, kind Kind, payload map[string]any) Envelope {
	env := Envelope{
		Kind:        kind,
		EmergencyID: e.ID,
		Status:      e.Status,
		Type:        e.Type,
		Severity:    e.Severity,
		PatientName: e.Patient.Name,
		Phone:       e.Patient.Phone,
		Payload:     payload,
		OccurredAt:  e.UpdatedAt,
	}
	if e.AssignedHospital != nil {
		env.HospitalID = e.AssignedHospital.HospitalID
	}
	if e.Ambulance != nil {
		env.UnitID = e.Ambulance.UnitID
	}
	return env
}

// LogGateway writes every event to the structured log.
type LogGateway struct {
	log zerolog.Logger
}

// NewLogGateway returns a LogGateway.
func NewLogGateway(log zerolog.Logger) *LogGateway {
	return &LogGateway{log: log.With().Str("gateway", "log").Logger()}
}

func (g *LogGateway) Name() string { return "log" }

func (g *LogGateway) Notify(_ context.Context, e domain.Emergency, kind Kind, payload map[string]any) error {
	g.log.Info().
		Str("kind", string(kind)).
		Str("emergency_id", e.ID).
		Str("status", string(e.Status)).
		Interface("payload", payload).
		Msg("emergency notification")
	return nil
}

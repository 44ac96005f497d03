package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
)

// MQTTConfig describes the broker used for crew terminals.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// DialMQTT connects to the broker with auto-reconnect enabled.
func DialMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}
	return client, nil
}

// Publisher is the part of an mqtt client used by CrewGateway.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// CrewGateway pushes assignment updates to the terminal of the dispatched
// unit. Events for emergencies without a unit are skipped.
type CrewGateway struct {
	client Publisher
	prefix string
	qos    byte
}

// NewCrewGateway publishes under prefix/units/<unit id>/assignment.
func NewCrewGateway(client Publisher, prefix string, qos byte) *CrewGateway {
	return &CrewGateway{client: client, prefix: prefix, qos: qos}
}

type crewMessage struct {
	Kind        Kind                 `json:"kind"`
	EmergencyID string               `json:"emergency_id"`
	Status      domain.Status        `json:"status"`
	Type        domain.EmergencyType `json:"type"`
	Severity    domain.Severity      `json:"severity"`
	Pickup      geo.Point            `json:"pickup"`
	Address     string               `json:"address,omitempty"`
	Phone       string               `json:"patient_phone"`
	Hospital    string               `json:"hospital,omitempty"`
	HospitalID  string               `json:"hospital_id,omitempty"`
	ETAMinutes  int                  `json:"eta_minutes"`
}

func (g *CrewGateway) Name() string { return "mqtt" }

// Topic returns the assignment topic of unitID.
func (g *CrewGateway) Topic(unitID string) string {
	return fmt.Sprintf("%s/units/%s/assignment", g.prefix, unitID)
}

func (g *CrewGateway) Notify(ctx context.Context, e domain.Emergency, kind Kind, _ map[string]any) error {
	if e.Ambulance == nil {
		return nil
	}
	msg := crewMessage{
		Kind:        kind,
		EmergencyID: e.ID,
		Status:      e.Status,
		Type:        e.Type,
		Severity:    e.Severity,
		Pickup:      e.Location,
		Address:     e.Address,
		Phone:       e.Patient.Phone,
		ETAMinutes:  e.Ambulance.ETAMinutes,
	}
	if e.AssignedHospital != nil {
		msg.Hospital = e.AssignedHospital.Name
		msg.HospitalID = e.AssignedHospital.HospitalID
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	token := g.client.Publish(g.Topic(e.Ambulance.UnitID), g.qos, false, body)
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return apperr.External("mqtt", context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return apperr.External("mqtt", err)
	}
	return nil
}

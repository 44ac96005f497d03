package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
)

func sampleEmergency() domain.Emergency {
	return domain.Emergency{
		ID:       "e1",
		Patient:  domain.Patient{Name: "Ada", Phone: "+1-555-0101"},
		Location: geo.Point{Latitude: 40.7128, Longitude: -74.006},
		Type:     domain.TypeStroke,
		Severity: domain.SeverityCritical,
		Status:   domain.StatusAmbulanceDispatched,
		AssignedHospital: &domain.HospitalAssignment{
			HospitalID: "h1", Name: "General",
		},
		Ambulance: &domain.AmbulanceAssignment{UnitID: "u7", CallSign: "MEDIC-7", ETAMinutes: 9},
	}
}

type recordingGateway struct {
	mu     sync.Mutex
	name   string
	kinds  []Kind
	err    error
	block  chan struct{}
	called chan struct{}
}

func (g *recordingGateway) Name() string { return g.name }

func (g *recordingGateway) Notify(ctx context.Context, e domain.Emergency, kind Kind, _ map[string]any) error {
	if g.called != nil {
		g.called <- struct{}{}
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kinds = append(g.kinds, kind)
	return g.err
}

func (g *recordingGateway) seen() []Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Kind(nil), g.kinds...)
}

func TestOutboxFansOutToEveryGateway(t *testing.T) {
	ok := &recordingGateway{name: "ok"}
	broken := &recordingGateway{name: "broken", err: errors.New("down")}
	o := NewOutbox(OutboxConfig{QueueSize: 8, Workers: 1, Timeout: time.Second}, zerolog.Nop(), ok, broken)

	assert.True(t, o.Publish(sampleEmergency(), KindSubmitted, nil))
	assert.True(t, o.Publish(sampleEmergency(), KindDispatched, nil))
	require.NoError(t, o.Close(context.Background()))

	assert.Equal(t, []Kind{KindSubmitted, KindDispatched}, ok.seen())
	assert.Equal(t, []Kind{KindSubmitted, KindDispatched}, broken.seen())
	assert.False(t, o.Publish(sampleEmergency(), KindCancelled, nil))
}

func TestOutboxDropsWhenFull(t *testing.T) {
	slow := &recordingGateway{name: "slow", block: make(chan struct{}), called: make(chan struct{}, 4)}
	o := NewOutbox(OutboxConfig{QueueSize: 1, Workers: 1, Timeout: time.Minute}, zerolog.Nop(), slow)

	require.True(t, o.Publish(sampleEmergency(), KindSubmitted, nil))
	<-slow.called // the worker holds the first event
	require.True(t, o.Publish(sampleEmergency(), KindDispatched, nil))
	assert.False(t, o.Publish(sampleEmergency(), KindCancelled, nil))

	close(slow.block)
	require.NoError(t, o.Close(context.Background()))
	assert.Equal(t, []Kind{KindSubmitted, KindDispatched}, slow.seen())
}

func TestWebhookGatewayPostsEnvelope(t *testing.T) {
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewWebhookGateway(srv.URL, "s3cret", time.Second, 0)
	require.NoError(t, g.Notify(context.Background(), sampleEmergency(), KindDispatched, map[string]any{"eta": 9}))

	assert.Equal(t, KindDispatched, got.Kind)
	assert.Equal(t, "e1", got.EmergencyID)
	assert.Equal(t, "h1", got.HospitalID)
	assert.Equal(t, "u7", got.UnitID)
	assert.EqualValues(t, 9, got.Payload["eta"])
}

func TestWebhookGatewayReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookGateway(srv.URL, "", time.Second, 0).Notify(context.Background(), sampleEmergency(), KindSubmitted, nil)
	assert.True(t, apperr.Is(err, apperr.KindExternalService))
}

type fakeStream struct {
	args *redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = a
	return redis.NewStringResult("1700000000000-0", f.err)
}

func TestStreamGatewayAddsEntry(t *testing.T) {
	fs := &fakeStream{}
	g := NewStreamGateway(fs, "emergencies", 1000)
	require.NoError(t, g.Notify(context.Background(), sampleEmergency(), KindStatusChanged, nil))

	require.NotNil(t, fs.args)
	assert.Equal(t, "emergencies", fs.args.Stream)
	assert.Equal(t, int64(1000), fs.args.MaxLen)
	assert.True(t, fs.args.Approx)
	values, ok := fs.args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "emergency.status_changed", values["kind"])

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &env))
	assert.Equal(t, domain.StatusAmbulanceDispatched, env.Status)

	fs.err = errors.New("connection refused")
	err := g.Notify(context.Background(), sampleEmergency(), KindStatusChanged, nil)
	assert.True(t, apperr.Is(err, apperr.KindExternalService))
}

type fakeToken struct {
	mqtt.Token
	err error
}

func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topics   []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return fakeToken{}
}

func TestCrewGatewayPublishesToUnitTopic(t *testing.T) {
	pub := &fakePublisher{}
	g := NewCrewGateway(pub, "golden-hour", 1)

	require.NoError(t, g.Notify(context.Background(), sampleEmergency(), KindDispatched, nil))
	require.Equal(t, []string{"golden-hour/units/u7/assignment"}, pub.topics)

	var msg crewMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "General", msg.Hospital)
	assert.Equal(t, 9, msg.ETAMinutes)

	noUnit := sampleEmergency()
	noUnit.Ambulance = nil
	require.NoError(t, g.Notify(context.Background(), noUnit, KindSubmitted, nil))
	assert.Len(t, pub.topics, 1)
}

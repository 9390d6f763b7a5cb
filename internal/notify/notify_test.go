package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	tok := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(tok.done)
	}
	return tok
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	connected    bool
	token        *fakeToken
	messages     []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) mqtt.Token {
	data, _ := payload.([]byte)
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: data})
	return c.token
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
	c.connected = false
}

func newTestPublisher(client *fakeClient) *MQTTPublisher {
	p := NewMQTTPublisher(&conf.MQTTSettings{
		Enabled: true,
		Broker:  "tcp://127.0.0.1:1883",
		Topic:   "soundbird/recordings",
		Retain:  true,
	}, "test-node", nil)
	if client != nil {
		p.client = client
	}
	return p
}

func sampleEvent() RecordingEvent {
	recordedAt := time.Date(2023, 10, 1, 12, 34, 56, 0, time.Local)
	rec := &datastore.Recording{
		ID:                7,
		FileName:          "20231001_123456.wav",
		RecordingDatetime: &recordedAt,
		Lat:               48.4,
		Lon:               -123.4,
		Status:            datastore.StatusCompleted,
	}
	return NewRecordingEvent("test-node", rec, []datastore.Detection{
		{Species: "American Robin", ScientificName: "Turdus migratorius", Confidence: 0.6},
		{Species: "Blue Jay", ScientificName: "Cyanocitta cristata", Confidence: 0.9},
		{Species: "American Robin", ScientificName: "Turdus migratorius", Confidence: 0.8},
		{Species: "Song Sparrow", ScientificName: "Melospiza melodia", Confidence: 0.95},
	})
}

func TestNewRecordingEventAggregatesSpecies(t *testing.T) {
	t.Parallel()

	ev := sampleEvent()
	assert.Equal(t, uint(7), ev.RecordingID)
	assert.Equal(t, "completed", ev.Status)
	assert.Equal(t, 4, ev.DetectionCount)
	require.Len(t, ev.Species, 3)

	assert.Equal(t, "American Robin", ev.Species[0].CommonName)
	assert.Equal(t, 2, ev.Species[0].Count)
	assert.InDelta(t, 0.8, ev.Species[0].MaxConfidence, 1e-9)
	assert.Equal(t, "Song Sparrow", ev.Species[1].CommonName)
	assert.Equal(t, "Blue Jay", ev.Species[2].CommonName)
}

func TestNewRecordingEventWithoutDetections(t *testing.T) {
	t.Parallel()

	ev := NewRecordingEvent("n", &datastore.Recording{ID: 1, Status: datastore.StatusCompleted}, nil)
	assert.Zero(t, ev.DetectionCount)
	assert.NotNil(t, ev.Species)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"species":[]`)
	assert.NotContains(t, string(data), "recording_datetime")
}

func TestPublishRecording(t *testing.T) {
	t.Parallel()

	client := &fakeClient{connected: true, token: newFakeToken(nil, true)}
	p := newTestPublisher(client)

	require.NoError(t, p.PublishRecording(context.Background(), sampleEvent()))
	require.Len(t, client.messages, 1)

	msg := client.messages[0]
	assert.Equal(t, "soundbird/recordings", msg.topic)
	assert.True(t, msg.retained)

	var decoded RecordingEvent
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, uint(7), decoded.RecordingID)
	assert.Equal(t, "test-node", decoded.Node)
}

func TestPublishRecordingNotConnected(t *testing.T) {
	t.Parallel()

	p := newTestPublisher(nil)
	err := p.PublishRecording(context.Background(), sampleEvent())
	require.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

func TestPublishRecordingBrokerError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{connected: true, token: newFakeToken(errors.NewStd("not authorized"), true)}
	p := newTestPublisher(client)

	err := p.PublishRecording(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestPublishRecordingHonorsContext(t *testing.T) {
	t.Parallel()

	client := &fakeClient{connected: true, token: newFakeToken(nil, false)}
	p := newTestPublisher(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.PublishRecording(ctx, sampleEvent())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloseDisconnects(t *testing.T) {
	t.Parallel()

	client := &fakeClient{connected: true, token: newFakeToken(nil, true)}
	p := newTestPublisher(client)
	p.Close()

	assert.True(t, client.disconnected)
	require.ErrorIs(t, p.PublishRecording(context.Background(), sampleEvent()), ErrNotConnected)
}

func TestConnectRejectsBadBrokerURL(t *testing.T) {
	t.Parallel()

	p := NewMQTTPublisher(&conf.MQTTSettings{Broker: "://bad"}, "n", nil)
	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectionapi/internal/model"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	token        mqtt.Token
	topic        string
	qos          byte
	payload      []byte
	disconnected bool
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	c.qos = qos
	c.payload = payload.([]byte)
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestPublisher_Notify(t *testing.T) {
	c := &fakeClient{connected: true, token: completedToken(nil)}
	p := newPublisher(c, "detections", nil)

	record := &model.ResultRecord{
		ID:         "Zx81Qw2e",
		Detections: model.DetectionSet{{Label: "car", Box: model.BoundingBox{X1: 5, Y1: 5, X2: 50, Y2: 40}}},
		ImageURL:   "https://storage.googleapis.com/bucket/annotated_images/Zx81Qw2e.jpg",
	}
	require.NoError(t, p.Notify(context.Background(), record))

	assert.Equal(t, "detections", c.topic)
	assert.Equal(t, byte(1), c.qos)

	var event model.ResultEvent
	require.NoError(t, json.Unmarshal(c.payload, &event))
	assert.Equal(t, model.EventDetection, event.Type)
	assert.Equal(t, record.ID, event.Record.ID)
	assert.Equal(t, record.ImageURL, event.Record.ImageURL)
}

func TestPublisher_NotConnected(t *testing.T) {
	c := &fakeClient{connected: false}
	p := newPublisher(c, "detections", nil)

	err := p.Notify(context.Background(), &model.ResultRecord{ID: "a"})
	assert.ErrorContains(t, err, "not connected")
	assert.Nil(t, c.payload)
}

func TestPublisher_BrokerError(t *testing.T) {
	c := &fakeClient{connected: true, token: completedToken(errors.New("not authorized"))}
	p := newPublisher(c, "detections", nil)

	err := p.Notify(context.Background(), &model.ResultRecord{ID: "a"})
	assert.ErrorContains(t, err, "not authorized")
}

func TestPublisher_ContextCancelled(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	c := &fakeClient{connected: true, token: pending}
	p := newPublisher(c, "detections", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Notify(ctx, &model.ResultRecord{ID: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublisher_Close(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(c, "detections", nil)
	require.NoError(t, p.Close())
	assert.True(t, c.disconnected)
}

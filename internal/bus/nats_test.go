package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"chat-core/internal/models"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startNATS(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func newNATSBus(t *testing.T, url, name string) *NATSBus {
	t.Helper()
	b, err := NewNATSBus(NATSConfig{URL: url, Subject: "test.events", Name: name})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

type collector struct {
	mu  sync.Mutex
	got []Delivery
}

func (c *collector) handle(d Delivery) {
	c.mu.Lock()
	c.got = append(c.got, d)
	c.mu.Unlock()
}

func (c *collector) deliveries() []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Delivery(nil), c.got...)
}

func TestNATSBus_FansOutToEveryProcessInOrder(t *testing.T) {
	url := startNATS(t)
	a := newNATSBus(t, url, "gateway-a")
	b := newNATSBus(t, url, "gateway-b")

	var gotA, gotB collector
	require.NoError(t, a.Subscribe(gotA.handle))
	require.NoError(t, b.Subscribe(gotB.handle))
	require.NoError(t, a.nc.Flush())
	require.NoError(t, b.nc.Flush())

	ctx := context.Background()
	const n = 50
	for i := 0; i < n; i++ {
		frame, err := models.NewFrame(models.EventMessageReceive, models.Message{ID: fmt.Sprintf("m%d", i), ConversationID: "c1"})
		require.NoError(t, err)
		require.NoError(t, a.Publish(ctx, Delivery{Room: models.ConversationRoom("c1"), Exclude: "conn-1", Frame: frame}))
	}

	for name, c := range map[string]*collector{"publisher": &gotA, "peer": &gotB} {
		require.Eventually(t, func() bool { return len(c.deliveries()) == n }, 2*time.Second, 10*time.Millisecond, name)
		for i, d := range c.deliveries() {
			assert.Equal(t, models.ConversationRoom("c1"), d.Room)
			assert.Equal(t, "conn-1", d.Exclude)
			assert.Equal(t, models.EventMessageReceive, d.Frame.Event)
			var m models.Message
			require.NoError(t, d.Frame.Decode(&m))
			assert.Equal(t, fmt.Sprintf("m%d", i), m.ID, "%s delivery %d out of order", name, i)
		}
	}
}

func TestNATSBus_DropsMalformedEnvelopes(t *testing.T) {
	url := startNATS(t)
	b := newNATSBus(t, url, "gateway")

	var got collector
	require.NoError(t, b.Subscribe(got.handle))

	require.NoError(t, b.nc.Publish("test.events", []byte("{not json")))
	valid, err := json.Marshal(Delivery{Frame: models.Frame{Event: models.EventUserOnline}})
	require.NoError(t, err)
	require.NoError(t, b.nc.Publish("test.events", valid))

	require.Eventually(t, func() bool { return len(got.deliveries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.EventUserOnline, got.deliveries()[0].Frame.Event)
	assert.Empty(t, got.deliveries()[0].Room, "an empty room means every connection")
}

func TestNATSBus_SingleSubscriber(t *testing.T) {
	b := newNATSBus(t, startNATS(t), "gateway")

	require.NoError(t, b.Subscribe(func(Delivery) {}))
	assert.Error(t, b.Subscribe(func(Delivery) {}))
}

func TestNewNATSBus_RequiresURL(t *testing.T) {
	_, err := NewNATSBus(NATSConfig{})
	assert.Error(t, err)
}

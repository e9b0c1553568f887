//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package intake

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/notifyroute/internal/testutil/containers"
)

var mqttBroker *containers.MosquittoContainer

func TestMain(m *testing.M) {
	var err error
	mqttBroker, err = containers.NewMosquittoContainer(context.Background(), "")
	if err != nil {
		panic("failed to create MQTT broker: " + err.Error())
	}
	code := m.Run()
	_ = mqttBroker.Terminate(context.Background())
	os.Exit(code)
}

func TestMQTTIntegration_IngestsPublishedEvents(t *testing.T) {
	settings := testSettings()
	settings.Broker = mqttBroker.BrokerURL()
	settings.ClientID = "intake-" + t.Name()

	ing := &fakeIngester{}
	s, err := NewSubscriber(settings, ing, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 15*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)
	assert.True(t, s.IsConnected())

	// The subscription is made from the connect handler; retry the publish
	// until it lands.
	require.Eventually(t, func() bool {
		_ = mqttBroker.Publish(settings.Topic, []byte(`{"event_id":"evt-mqtt","severity":"critical"}`))
		ing.mu.Lock()
		defer ing.mu.Unlock()
		return len(ing.events) > 0
	}, 10*time.Second, 250*time.Millisecond)

	ing.mu.Lock()
	assert.Equal(t, "evt-mqtt", ing.events[0].EventID)
	assert.Equal(t, "critical", ing.events[0].Severity)
	ing.mu.Unlock()

	s.Stop()
	assert.False(t, s.IsConnected())
}

func TestMQTTIntegration_StartTwice(t *testing.T) {
	settings := testSettings()
	settings.Broker = mqttBroker.BrokerURL()
	settings.ClientID = "intake-" + t.Name()

	s, err := NewSubscriber(settings, &fakeIngester{}, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(s.Stop)

	assert.Error(t, s.Start(t.Context()))
}

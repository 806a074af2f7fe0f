package pulsar

import (
	"testing"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoulas/profitsharing-migrator/internal/queue"
)

// fakeMessage satisfies pulsar.Message for the accessors decodeMessage uses.
type fakeMessage struct {
	pulsar.Message
	payload []byte
	props   map[string]string
	key     string
}

func (m fakeMessage) Payload() []byte               { return m.payload }
func (m fakeMessage) Properties() map[string]string { return m.props }
func (m fakeMessage) Key() string                   { return m.key }

func TestNewMessage(t *testing.T) {
	msg, err := newMessage(&queue.Job{ID: "j1", Connection: "profitsharing", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "profitsharing", msg.Key)
	assert.Equal(t, "j1", msg.Properties["job-id"])
	assert.Equal(t, "up", msg.Properties["action"])

	job, err := decodeMessage(fakeMessage{payload: msg.Payload, props: msg.Properties})
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.True(t, job.DryRun)
}

func TestDecodeMessageFallbacks(t *testing.T) {
	job, err := decodeMessage(fakeMessage{payload: []byte(`{}`), props: map[string]string{"job-id": "p1"}, key: "k1"})
	require.NoError(t, err)
	assert.Equal(t, "p1", job.ID)

	job, err = decodeMessage(fakeMessage{payload: []byte(`{}`), key: "k1"})
	require.NoError(t, err)
	assert.Equal(t, "k1", job.ID)

	_, err = decodeMessage(fakeMessage{payload: []byte(`{`)})
	require.Error(t, err)
}

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{Topic: "mesh", Payload: []byte{1, 2, 3, 4}}
	data, err := MarshalEnvelope(env)
	require.NoError(t, err)

	got, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.Topic, got.Topic)
	assert.Equal(t, env.Payload, got.Payload)
}

func TestPublisherAddRemoveClientUpdatesStats(t *testing.T) {
	p := NewPublisher(DefaultConfig())
	c := p.addClient("c1", nil)
	require.NotNil(t, c)
	assert.Equal(t, int32(1), p.Stats().Clients)

	p.removeClient("c1")
	assert.Equal(t, int32(0), p.Stats().Clients)
}

func TestPublisherBroadcastDeliversToSubscribedClient(t *testing.T) {
	p := NewPublisher(DefaultConfig())
	p.running.Store(true)
	defer p.running.Store(false)

	c := p.addClient("c1", []string{"mesh"})
	other := p.addClient("c2", []string{"submap"})

	p.wg.Add(1)
	go p.broadcastLoop()
	defer func() {
		close(p.stopCh)
		p.wg.Wait()
	}()

	p.Publish(Envelope{Topic: "mesh", Payload: []byte("hi")})

	select {
	case env := <-c.envChan:
		assert.Equal(t, "mesh", env.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected envelope on subscribed client channel")
	}

	select {
	case <-other.envChan:
		t.Fatal("non-subscribed client should not receive mesh topic")
	default:
	}
}

func TestPublisherPublishIsNoOpWhenNotRunning(t *testing.T) {
	p := NewPublisher(DefaultConfig())
	// running is false by default; Publish should be a silent no-op.
	p.Publish(Envelope{Topic: "mesh"})
	assert.Equal(t, uint64(0), p.Stats().Published)
}

func TestCommandHandlerReceivesRequestFields(t *testing.T) {
	req := CommandRequest{Name: "save_map", Arg: "/data/submaps"}
	handler := CommandHandler(func(r CommandRequest) CommandResult {
		assert.Equal(t, req.Name, r.Name)
		assert.Equal(t, req.Arg, r.Arg)
		return CommandResult{Ok: true}
	})
	res := handler(req)
	assert.True(t, res.Ok)
}

func TestSubscribeRequestStructRoundTrip(t *testing.T) {
	req := &SubscribeRequest{Topics: []string{"mesh", "submap_out"}}
	s, err := req.toStruct()
	require.NoError(t, err)

	got := subscribeRequestFromStruct(s)
	assert.Equal(t, req.Topics, got.Topics)
}

func TestIngestHandlerReceivesRequestFields(t *testing.T) {
	req := IngestRequest{
		Frame: "sensor", TimestampUnixNano: 42, Schema: 1, Stride: 4,
		Data: []float32{1, 2, 3, 4}, ColorMap: 2, IntensityMax: 5.5, IsFreespace: true,
	}
	handler := IngestHandler(func(r IngestRequest) IngestResult {
		assert.Equal(t, req.Frame, r.Frame)
		assert.Equal(t, req.TimestampUnixNano, r.TimestampUnixNano)
		assert.Equal(t, req.Schema, r.Schema)
		assert.Equal(t, req.Stride, r.Stride)
		assert.Equal(t, req.Data, r.Data)
		assert.Equal(t, req.ColorMap, r.ColorMap)
		assert.InDelta(t, req.IntensityMax, r.IntensityMax, 1e-9)
		assert.Equal(t, req.IsFreespace, r.IsFreespace)
		return IngestResult{Accepted: true}
	})
	res := handler(req)
	assert.True(t, res.Accepted)
}

func TestTsdfMapInHandlerReceivesRequestFields(t *testing.T) {
	req := TsdfMapInRequest{Data: []byte{1, 2, 3, 4}, ForceReplace: true}
	handler := TsdfMapInHandler(func(r TsdfMapInRequest) TsdfMapInResult {
		assert.Equal(t, req.Data, r.Data)
		assert.Equal(t, req.ForceReplace, r.ForceReplace)
		return TsdfMapInResult{Applied: true}
	})
	res := handler(req)
	assert.True(t, res.Applied)
}

func TestRawEnvelopeStructRoundTrip(t *testing.T) {
	re := &RawEnvelope{Data: []byte{9, 8, 7}}
	s, err := re.toStruct()
	require.NoError(t, err)

	got, err := rawEnvelopeFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, re.Data, got.Data)
}

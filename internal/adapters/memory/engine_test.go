package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closed(h core.Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

func newRouterForTest(t *testing.T) (*Engine, core.Worker, core.Router) {
	t.Helper()
	e := NewEngine()
	w, err := e.CreateWorker(context.Background(), core.WorkerSettings{RTCMinPort: 40000})
	require.NoError(t, err)
	r, err := w.CreateRouter(context.Background(), nil)
	require.NoError(t, err)
	return e, w, r
}

func TestFailNext(t *testing.T) {
	e := NewEngine()
	e.FailNext(OpCreateWorker)

	_, err := e.CreateWorker(context.Background(), core.WorkerSettings{})
	assert.ErrorIs(t, err, ErrInjected)
	_, err = e.CreateWorker(context.Background(), core.WorkerSettings{})
	assert.NoError(t, err)
}

func TestTransportParams(t *testing.T) {
	e, _, r := newRouterForTest(t)
	ctx := context.Background()

	tr, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend})
	require.NoError(t, err)
	p := tr.Params()
	assert.Equal(t, tr.ID(), p.ID)
	assert.NotEmpty(t, p.IceParameters.UsernameFragment)
	require.Len(t, p.IceCandidates, 1)
	assert.Equal(t, uint16(40000), p.IceCandidates[0].Port)
	require.Len(t, p.DtlsParameters.Fingerprints, 1)
	assert.Nil(t, p.SctpParameters)
	assert.EqualValues(t, 1, e.TransportsCreated())

	assert.Error(t, tr.Connect(ctx, core.ConnectParams{}))
	assert.NoError(t, tr.Connect(ctx, core.ConnectParams{DtlsParameters: p.DtlsParameters}))

	_, err = tr.ProduceData(ctx, core.DataProduceOptions{Label: "chat"})
	assert.ErrorIs(t, err, errNoSctp)
}

func TestProducerCloseClosesConsumers(t *testing.T) {
	_, _, r := newRouterForTest(t)
	ctx := context.Background()
	send, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend})
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionRecv})
	require.NoError(t, err)

	prod, err := send.Produce(ctx, core.ProduceOptions{Kind: domain.KindVideo})
	require.NoError(t, err)
	caps := core.RtpCapabilities{Codecs: core.DefaultCodecs()}
	assert.True(t, r.CanConsume(prod.ID(), caps))
	assert.False(t, r.CanConsume("nope", caps))

	cons, err := recv.Consume(ctx, core.ConsumeOptions{ProducerID: prod.ID(), RtpCapabilities: caps, Paused: true})
	require.NoError(t, err)
	assert.True(t, cons.Paused())
	assert.Equal(t, prod.ID(), cons.ProducerID())

	require.NoError(t, prod.Close())
	assert.True(t, closed(cons))
	assert.False(t, r.CanConsume(prod.ID(), caps))
	_, err = recv.Consume(ctx, core.ConsumeOptions{ProducerID: prod.ID(), RtpCapabilities: caps})
	assert.ErrorIs(t, err, errUnknownProducer)
}

func TestTransportCloseClosesChildren(t *testing.T) {
	_, _, r := newRouterForTest(t)
	ctx := context.Background()
	tr, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend, EnableSctp: true})
	require.NoError(t, err)
	prod, err := tr.Produce(ctx, core.ProduceOptions{Kind: domain.KindAudio})
	require.NoError(t, err)
	dp, err := tr.ProduceData(ctx, core.DataProduceOptions{Label: "chat"})
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	assert.True(t, closed(prod))
	assert.True(t, closed(dp))
	_, err = tr.Produce(ctx, core.ProduceOptions{Kind: domain.KindAudio})
	assert.ErrorIs(t, err, errTransportClosed)
}

func TestDataConsumerStreams(t *testing.T) {
	_, _, r := newRouterForTest(t)
	ctx := context.Background()
	send, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend, EnableSctp: true})
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionRecv, EnableSctp: true})
	require.NoError(t, err)
	dp, err := send.ProduceData(ctx, core.DataProduceOptions{Label: "chat", Protocol: "json"})
	require.NoError(t, err)

	first, err := recv.ConsumeData(ctx, core.DataConsumeOptions{DataProducerID: dp.ID()})
	require.NoError(t, err)
	second, err := recv.ConsumeData(ctx, core.DataConsumeOptions{DataProducerID: dp.ID()})
	require.NoError(t, err)
	assert.NotEqual(t, first.Params().SctpStreamParameters.StreamID, second.Params().SctpStreamParameters.StreamID)
	assert.Equal(t, "chat", first.Params().Label)
}

func TestKill(t *testing.T) {
	e, w, r := newRouterForTest(t)
	cause := errors.New("segfault")

	require.True(t, e.Kill(w.ID(), cause))
	<-w.Died()
	assert.ErrorIs(t, w.Err(), cause)
	assert.True(t, closed(r))
	assert.Equal(t, 0, w.Load())
	assert.False(t, e.Kill(w.ID(), cause))

	_, err := w.CreateRouter(context.Background(), nil)
	assert.ErrorIs(t, err, errWorkerClosed)
}

func TestCloseIsNotDeath(t *testing.T) {
	_, w, _ := newRouterForTest(t)
	require.NoError(t, w.Close())
	select {
	case <-w.Died():
		t.Fatal("Died closed on a clean shutdown")
	default:
	}
	assert.NoError(t, w.Err())
}

func TestRouterLookupsForgetClosed(t *testing.T) {
	_, _, r := newRouterForTest(t)
	ctx := context.Background()
	mr := r.(*Router)

	tr, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend})
	require.NoError(t, err)
	prod, err := tr.Produce(ctx, core.ProduceOptions{Kind: domain.KindAudio})
	require.NoError(t, err)

	got, ok := mr.Transport(tr.ID())
	require.True(t, ok)
	assert.Equal(t, tr.ID(), got.ID())
	_, ok = mr.Producer(prod.ID())
	require.True(t, ok)

	require.NoError(t, tr.Close())
	_, ok = mr.Transport(tr.ID())
	assert.False(t, ok)
	_, ok = mr.Producer(prod.ID())
	assert.False(t, ok)
}

package core

import (
	"context"

	"github.com/parbhatia/gospace-sub000/internal/domain"
)

// Handle is the part every engine resource shares. Done is closed exactly once
// when the resource is closed, whoever closed it.
type Handle interface {
	ID() string
	Close() error
	Done() <-chan struct{}
}

// Engine creates workers. It is the only entry point into the media engine.
type Engine interface {
	CreateWorker(ctx context.Context, settings WorkerSettings) (Worker, error)
}

type WorkerSettings struct {
	// RTCMinPort and RTCMaxPort bound the UDP ports used by transports.
	RTCMinPort uint16
	RTCMaxPort uint16
	LogLevel   string
}

// Worker hosts routers. Died is closed when the worker stops on its own; the
// cause is available from Err afterwards.
type Worker interface {
	ID() string
	PID() int
	Died() <-chan struct{}
	Err() error
	// Load is the number of live routers hosted by the worker.
	Load() int
	CreateRouter(ctx context.Context, codecs []RtpCodecCapability) (Router, error)
	Close() error
}

// Router is a routing context: it forwards media between the producers and
// consumers of transports created on it.
type Router interface {
	Handle
	WorkerID() string
	RtpCapabilities() RtpCapabilities
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error)
}

type TransportOptions struct {
	Direction  domain.Direction
	EnableSctp bool
	AppData    map[string]any
}

type Transport interface {
	Handle
	Params() TransportParams
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	ProduceData(ctx context.Context, opts DataProduceOptions) (DataProducer, error)
	ConsumeData(ctx context.Context, opts DataConsumeOptions) (DataConsumer, error)
}

// Pausable is implemented by producers and consumers of both kinds.
type Pausable interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Paused() bool
}

type Producer interface {
	Handle
	Pausable
	Kind() domain.MediaKind
	RtpParameters() RtpParameters
}

type Consumer interface {
	Handle
	Pausable
	ProducerID() string
	Params() ConsumerParams
}

type DataProducer interface {
	Handle
	Pausable
	Label() string
	Protocol() string
	SctpStreamParameters() SctpStreamParameters
}

type DataConsumer interface {
	Handle
	Pausable
	DataProducerID() string
	Params() DataConsumerParams
}

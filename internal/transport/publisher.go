package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/kabilan-n/tsdf-fusion/internal/diag"
)

const dropLogInterval = time.Second

// Config holds the gRPC listener configuration for a Publisher.
type Config struct {
	ListenAddr      string
	ClientChanDepth int // per-client buffered channel depth
}

// DefaultConfig returns sensible defaults for an in-process fusion node.
func DefaultConfig() Config {
	return Config{ListenAddr: "localhost:50061", ClientChanDepth: 16}
}

// clientStream is one subscriber's outbound channel: topic filter plus a
// buffered Envelope channel the broadcast loop writes into.
type clientStream struct {
	id      string
	topics  map[string]struct{} // empty means "all topics"
	envChan chan Envelope
}

// Publisher is the in-process broadcast hub: callers Publish an Envelope,
// a single broadcastLoop goroutine fans it out to every registered
// client's buffered channel, dropping it for any client whose channel is
// full rather than blocking the dispatch thread. This is a direct
// generalization of the reference corpus's visualiser.Publisher
// (frameChan + clients map + atomic counters + stop/wg lifecycle),
// retargeted from LiDAR frames to topic-tagged Envelopes.
type Publisher struct {
	cfg Config

	server   *grpc.Server
	listener net.Listener

	envChan chan Envelope

	clientsMu sync.RWMutex
	clients   map[string]*clientStream

	publishedCount atomic.Uint64
	droppedCount   atomic.Uint64
	clientCount    atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	commandHandler CommandHandler
	ingestHandler  IngestHandler
	layerInHandler TsdfMapInHandler
}

// SetCommandHandler registers the handler invoked by incoming Command
// RPCs. Must be called before Start to take effect on the first request.
func (p *Publisher) SetCommandHandler(h CommandHandler) {
	p.commandHandler = h
}

// SetIngestHandler registers the handler invoked by incoming Ingest
// RPCs (inbound point clouds). Must be called before Start.
func (p *Publisher) SetIngestHandler(h IngestHandler) {
	p.ingestHandler = h
}

// SetLayerInHandler registers the handler invoked by incoming
// TsdfMapIn RPCs (inbound layer deltas from a peer node). Must be
// called before Start.
func (p *Publisher) SetLayerInHandler(h TsdfMapInHandler) {
	p.layerInHandler = h
}

// NewPublisher constructs a Publisher. Call Start to begin serving.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientChanDepth <= 0 {
		cfg.ClientChanDepth = 16
	}
	return &Publisher{
		cfg:     cfg,
		envChan: make(chan Envelope, 256),
		clients: make(map[string]*clientStream),
		stopCh:  make(chan struct{}),
	}
}

// Start opens the listener, registers the FusionService, and begins the
// broadcast loop. Safe to call once per Publisher.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("transport: publisher already running")
	}
	lis, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", p.cfg.ListenAddr, err)
	}
	p.listener = lis
	p.server = grpc.NewServer()
	p.server.RegisterService(&fusionServiceDesc, p)

	p.running.Store(true)
	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		diag.Opsf("transport: gRPC server listening on %s", p.cfg.ListenAddr)
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			diag.Opsf("transport: gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server and broadcast loop down, blocking
// until both have exited.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	p.wg.Wait()
}

// Publish enqueues env for broadcast to every subscribed client. Never
// blocks: if the shared broadcast queue is full, the envelope is dropped
// and counted.
func (p *Publisher) Publish(env Envelope) {
	if !p.running.Load() {
		return
	}
	select {
	case p.envChan <- env:
		p.publishedCount.Add(1)
	default:
		p.droppedCount.Add(1)
		diag.OpsThrottled("transport.publish.full", dropLogInterval, "transport: broadcast queue full, dropping topic %q", env.Topic)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case env := <-p.envChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if !c.wants(env.Topic) {
					continue
				}
				select {
				case c.envChan <- env:
				default:
					diag.OpsThrottled("transport.client.full."+c.id, dropLogInterval, "transport: client %s slow, dropping topic %q", c.id, env.Topic)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (c *clientStream) wants(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

func (p *Publisher) addClient(id string, topics []string) *clientStream {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	c := &clientStream{id: id, topics: set, envChan: make(chan Envelope, p.cfg.ClientChanDepth)}
	p.clientsMu.Lock()
	p.clients[id] = c
	p.clientsMu.Unlock()
	p.clientCount.Add(1)
	return c
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		p.clientCount.Add(-1)
	}
}

// Stats reports live publisher counters, used by the command server's
// diagnostics surface.
type Stats struct {
	Published uint64
	Dropped   uint64
	Clients   int32
}

func (p *Publisher) Stats() Stats {
	return Stats{Published: p.publishedCount.Load(), Dropped: p.droppedCount.Load(), Clients: p.clientCount.Load()}
}

// Subscribe implements the server-streaming half of FusionService: a
// client calls it with a topic filter and receives every matching
// Envelope published until it disconnects or ctx is canceled.
func (p *Publisher) Subscribe(req *SubscribeRequest, stream FusionService_SubscribeServer) error {
	id := fmt.Sprintf("client-%p", req)
	c := p.addClient(id, req.Topics)
	defer p.removeClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case env := <-c.envChan:
			data, err := MarshalEnvelope(env)
			if err != nil {
				diag.Opsf("transport: marshal envelope for topic %q: %v", env.Topic, err)
				continue
			}
			if err := stream.SendMsg(&RawEnvelope{Data: data}); err != nil {
				return err
			}
		}
	}
}

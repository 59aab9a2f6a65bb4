package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/srg/printlink/internal/capability"
	"github.com/srg/printlink/internal/device"
	"github.com/srg/printlink/internal/protocol"
)

// Session is one link to one device. It is created by Manager.Connect and
// ends on Disconnect or link loss; an ended session refuses every operation.
type Session struct {
	id      string
	manager *Manager

	mu      sync.RWMutex
	state   State
	client  device.Client
	caps    capability.Set
	closing bool
	endErr  error
	done    chan struct{}
}

func newSession(id string, m *Manager) *Session {
	return &Session{
		id:      id,
		manager: m,
		state:   Discovering,
		done:    make(chan struct{}),
	}
}

// DeviceID returns the device this session is bound to.
func (s *Session) DeviceID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Client returns the underlying link, nil before the dial completes.
func (s *Session) Client() device.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, nil while it is live.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endErr
}

// Capabilities returns the resolved set; ok is false until resolution succeeds.
func (s *Session) Capabilities() (capability.Set, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps, s.state == ConnectedReady && s.caps.Ready()
}

// SetCapabilities pins the endpoint for this session, bypassing the heuristic.
func (s *Session) SetCapabilities(set capability.Set) error {
	valid, err := set.Validate()
	if err != nil {
		return err
	}
	valid.Pinned = true

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Connected() {
		return s.notLive()
	}
	s.caps = valid
	s.state = ConnectedReady
	return nil
}

// Resolve reruns capability resolution, typically after Connect reported
// CapabilityUnresolved.
func (s *Session) Resolve(ctx context.Context) (capability.Set, error) {
	client, err := s.live()
	if err != nil {
		return capability.Set{}, err
	}
	return s.manager.resolve(ctx, s, client)
}

// notLive must be called with s.mu held.
func (s *Session) notLive() error {
	if s.endErr != nil {
		return s.endErr
	}
	return &device.ConnectionError{State: device.NotConnected, Msg: fmt.Sprintf("device %s is %s", s.id, s.state)}
}

func (s *Session) live() (device.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Connected() || s.client == nil {
		return nil, s.notLive()
	}
	return s.client, nil
}

// SendOption adjusts a single request.
type SendOption func(*protocol.Request)

// WithTimeout bounds the exchange by d instead of the engine timeout.
func WithTimeout(d time.Duration) SendOption {
	return func(req *protocol.Request) {
		req.Timeout = d
	}
}

// request builds a protocol request for the resolved endpoint.
func (s *Session) request(payload []byte, opts []SendOption) (device.Client, protocol.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.state.Connected() || s.client == nil {
		return nil, protocol.Request{}, s.notLive()
	}
	if s.state != ConnectedReady {
		return nil, protocol.Request{}, device.NewError(device.KindCapabilityUnresolved, s.id, "capabilities are not resolved", nil)
	}
	req := protocol.Request{
		DeviceID:         s.id,
		ServiceUUID:      s.caps.ServiceUUID,
		RequestCharUUID:  s.caps.RequestCharUUID,
		ResponseCharUUID: s.caps.ResponseCharUUID,
		Payload:          payload,
		NoResponse:       s.caps.RequestProps&device.PropWrite == 0 && s.caps.RequestProps&device.PropWriteNoResponse != 0,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return s.client, req, nil
}

// Send writes payload to the request characteristic, fragmenting when it
// does not fit one write, and returns the reassembled reply.
func (s *Session) Send(ctx context.Context, payload []byte, opts ...SendOption) (*protocol.Response, error) {
	client, req, err := s.request(payload, opts)
	if err != nil {
		return nil, err
	}
	return s.manager.engine.Send(ctx, client, req)
}

// SendFragmented always fragments payload into chunkSize pieces (0 picks
// the negotiated size).
func (s *Session) SendFragmented(ctx context.Context, payload []byte, chunkSize int, opts ...SendOption) (*protocol.Response, error) {
	client, req, err := s.request(payload, opts)
	if err != nil {
		return nil, err
	}
	req.ChunkSize = chunkSize
	return s.manager.engine.SendFragmented(ctx, client, req)
}

// SendCommand encodes and sends a command envelope.
func (s *Session) SendCommand(ctx context.Context, cmd protocol.Command, opts ...SendOption) (*protocol.Response, error) {
	client, req, err := s.request(nil, opts)
	if err != nil {
		return nil, err
	}
	return s.manager.engine.SendCommand(ctx, client, req, cmd)
}

// Exchange runs a raw exchange with a custom writer.
func (s *Session) Exchange(ctx context.Context, payload []byte, write protocol.Writer, opts ...SendOption) (*protocol.Response, error) {
	client, req, err := s.request(payload, opts)
	if err != nil {
		return nil, err
	}
	return s.manager.engine.Exchange(ctx, client, req, write)
}

// end marks the session finished. Returns false when it already ended.
func (s *Session) end(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.state = Idle
	s.caps = capability.Set{}
	s.endErr = err
	close(s.done)
	return true
}

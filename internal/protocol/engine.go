// Package protocol implements the command/response exchange over a pair of
// GATT characteristics: subscribe, write, reassemble notifications until the
// buffer parses as JSON, and always unsubscribe.
//
// A reply ends at the first fragment boundary where the accumulated bytes are
// valid UTF-8 and valid JSON. Peers that send a complete JSON value followed
// by more bytes are cut at that value.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/chanlock"
	"github.com/srg/printlink/internal/device"
	"github.com/srg/printlink/internal/telemetry"
)

// Options tunes the engine. Zero fields take the tag defaults.
type Options struct {
	Timeout time.Duration `default:"10s"`
	// ChunkSize overrides the MTU derived chunk size when > 0.
	ChunkSize  int           `default:"0"`
	ChunkDelay time.Duration `default:"10ms"`
	// MTU is requested before each exchange when the platform supports it.
	MTU int `default:"185"`
}

// DefaultChunkSize is the payload of a single write on a default 23-byte ATT MTU.
const DefaultChunkSize = 20

// attHeader is subtracted from the negotiated MTU to get the write payload.
const attHeader = 3

// MTUExchanger matches device.Capabilities.ExchangeMTU.
type MTUExchanger func(client device.Client, mtu int) (int, error)

// Request is one command/response exchange.
type Request struct {
	DeviceID         string
	ServiceUUID      string
	RequestCharUUID  string
	ResponseCharUUID string
	Payload          []byte

	// Timeout bounds the whole exchange; zero uses Options.Timeout.
	Timeout time.Duration
	// ChunkSize overrides the engine chunk size for this request.
	ChunkSize int
	// NoResponse selects write-without-response for single writes.
	NoResponse bool
}

// Writer puts the request payload on the air. mtu is the negotiated ATT MTU, 0 if unknown.
type Writer func(ctx context.Context, client device.Client, req Request, mtu int) error

// Engine runs exchanges. One engine serves every session of a process so the
// per-channel lock covers all of them.
type Engine struct {
	logger    *logrus.Logger
	locker    *chanlock.Locker
	opts      Options
	exchanger MTUExchanger
	telemetry telemetry.Emitter

	mu      sync.Mutex
	pending map[string]map[string]*pending // device key -> op id -> op
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOptions sets timeouts and chunking.
func WithOptions(opts Options) EngineOption {
	return func(e *Engine) {
		defaults.SetDefaults(&opts)
		e.opts = opts
	}
}

// WithMTUExchanger installs the best-effort MTU request.
func WithMTUExchanger(fn MTUExchanger) EngineOption {
	return func(e *Engine) {
		e.exchanger = fn
	}
}

// WithTelemetry emits TX/RX records for every exchange.
func WithTelemetry(em telemetry.Emitter) EngineOption {
	return func(e *Engine) {
		if em != nil {
			e.telemetry = em
		}
	}
}

// WithLocker shares a lock table with other engines.
func WithLocker(l *chanlock.Locker) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// NewEngine creates an engine.
func NewEngine(logger *logrus.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		logger:    logger,
		locker:    chanlock.New(),
		telemetry: telemetry.Nop{},
		pending:   make(map[string]map[string]*pending),
	}
	defaults.SetDefaults(&e.opts)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Locker returns the channel lock table.
func (e *Engine) Locker() *chanlock.Locker {
	return e.locker
}

// pending is one in-flight exchange.
type pending struct {
	opID     string
	key      chanlock.Key
	deadline time.Time

	mu       sync.Mutex
	buf      []byte
	resolved bool

	done  chan *Response
	abort chan error
}

// feed appends a fragment and returns the response once the buffer decodes.
func (p *pending) feed(fragment []byte, req Request) *Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return nil
	}
	p.buf = append(p.buf, fragment...)

	body, ok := decodeBuffer(p.buf)
	if !ok {
		return nil
	}
	p.resolved = true

	raw := make([]byte, len(p.buf))
	copy(raw, p.buf)
	return &Response{
		OpID:               p.opID,
		DeviceID:           req.DeviceID,
		ServiceUUID:        device.NormalizeUUID(req.ServiceUUID),
		CharacteristicUUID: device.NormalizeUUID(req.ResponseCharUUID),
		TotalLen:           len(raw),
		Preview:            preview(raw),
		Body:               body,
		Raw:                raw,
	}
}

func deviceKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ErrEmptyPayload is returned before any transport call for a request without payload.
var ErrEmptyPayload = errors.New("payload is empty")

// Guard refuses requests that must never reach the transport.
func Guard(req Request) error {
	for _, id := range []string{req.ServiceUUID, req.RequestCharUUID, req.ResponseCharUUID} {
		if id != "" && device.IsStandardUUID(id) {
			return device.NewError(device.KindStandardServiceWriteBlocked, req.DeviceID,
				fmt.Sprintf("%s is a standard Bluetooth SIG identifier", id), nil)
		}
	}
	if strings.TrimSpace(req.ServiceUUID) == "" || strings.TrimSpace(req.RequestCharUUID) == "" {
		return device.NewError(device.KindCapabilityUnresolved, req.DeviceID, "request characteristic is not resolved", nil)
	}
	return nil
}

// Exchange writes req through write and waits for the reassembled reply.
// Exchanges on the same (device, service, response characteristic) run one
// at a time in arrival order.
func (e *Engine) Exchange(ctx context.Context, client device.Client, req Request, write Writer) (*Response, error) {
	if err := Guard(req); err != nil {
		return nil, err
	}
	if len(req.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if req.ResponseCharUUID == "" {
		req.ResponseCharUUID = req.RequestCharUUID
	}
	if req.DeviceID == "" {
		req.DeviceID = client.Address()
	}
	if write == nil {
		write = e.writeSingle
	}

	key := chanlock.NewKey(req.DeviceID, req.ServiceUUID, req.ResponseCharUUID)
	var resp *Response
	err := e.locker.WithLock(key, func() error {
		var err error
		resp, err = e.exchange(ctx, client, key, req, write)
		return err
	})
	return resp, err
}

func (e *Engine) exchange(ctx context.Context, client device.Client, key chanlock.Key, req Request, write Writer) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	op := &pending{
		opID:  uuid.NewString(),
		key:   key,
		done:  make(chan *Response, 1),
		abort: make(chan error, 1),
	}
	op.deadline, _ = ctx.Deadline()

	logger := e.logger.WithFields(logrus.Fields{
		"op":     op.opID,
		"device": req.DeviceID,
		"key":    key.String(),
	})

	e.register(req.DeviceID, op)
	defer e.unregister(req.DeviceID, op)

	err := client.Subscribe(req.ServiceUUID, req.ResponseCharUUID, func(fragment []byte) {
		logger.WithField("bytes", len(fragment)).Debug("Response fragment")
		if resp := op.feed(fragment, req); resp != nil {
			op.done <- resp
		}
	})
	defer func() {
		if uerr := client.Unsubscribe(req.ServiceUUID, req.ResponseCharUUID); uerr != nil {
			logger.WithField("error", uerr).Debug("Unsubscribe failed")
		}
	}()
	if err != nil {
		return nil, e.linkError(client, req, fmt.Errorf("failed to subscribe: %w", err))
	}

	mtu := e.requestMTU(client, logger)

	e.telemetry.Emit(telemetry.Record{
		Direction:        telemetry.TX,
		ServiceID:        device.NormalizeUUID(req.ServiceUUID),
		CharacteristicID: device.NormalizeUUID(req.RequestCharUUID),
		Payload:          string(req.Payload),
		DeviceID:         req.DeviceID,
	})

	if err := write(ctx, client, req, mtu); err != nil {
		if ctx.Err() != nil {
			return nil, e.ctxError(ctx, req, timeout)
		}
		return nil, e.linkError(client, req, fmt.Errorf("failed to write request: %w", err))
	}

	select {
	case resp := <-op.done:
		logger.WithField("total_len", resp.TotalLen).Debug("Response reassembled")
		e.telemetry.Emit(telemetry.Record{
			Direction:        telemetry.RX,
			ServiceID:        resp.ServiceUUID,
			CharacteristicID: resp.CharacteristicUUID,
			Payload:          string(resp.Raw),
			DeviceID:         req.DeviceID,
		})
		return resp, nil
	case err := <-op.abort:
		logger.WithField("error", err).Warn("Exchange aborted")
		return nil, err
	case <-client.Disconnected():
		return nil, device.NewError(device.KindUnexpectedDisconnect, req.DeviceID, "link lost during exchange", nil)
	case <-ctx.Done():
		logger.WithFields(logrus.Fields{
			"buffered": op.buffered(),
			"deadline": op.deadline.Format(time.RFC3339Nano),
		}).Warn("Exchange timed out")
		return nil, e.ctxError(ctx, req, timeout)
	}
}

func (p *pending) buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (e *Engine) ctxError(ctx context.Context, req Request, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return device.NewError(device.KindOperationTimeout, req.DeviceID, fmt.Sprintf("no complete response within %s", timeout), nil)
	}
	return ctx.Err()
}

// linkError reports err as UnexpectedDisconnect when the link is already gone.
func (e *Engine) linkError(client device.Client, req Request, err error) error {
	select {
	case <-client.Disconnected():
		return device.NewError(device.KindUnexpectedDisconnect, req.DeviceID, "link lost during exchange", err)
	default:
		return err
	}
}

func (e *Engine) requestMTU(client device.Client, logger *logrus.Entry) int {
	if e.exchanger == nil || e.opts.MTU <= 0 {
		return 0
	}
	mtu, err := e.exchanger(client, e.opts.MTU)
	if err != nil {
		logger.WithField("error", err).Debug("MTU exchange not supported")
		return 0
	}
	return mtu
}

// writeSingle writes the whole payload at once.
func (e *Engine) writeSingle(_ context.Context, client device.Client, req Request, _ int) error {
	return client.WriteCharacteristic(req.ServiceUUID, req.RequestCharUUID, req.Payload, req.NoResponse)
}

func (e *Engine) register(deviceID string, op *pending) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := deviceKey(deviceID)
	ops, ok := e.pending[k]
	if !ok {
		ops = make(map[string]*pending)
		e.pending[k] = ops
	}
	ops[op.opID] = op
}

func (e *Engine) unregister(deviceID string, op *pending) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := deviceKey(deviceID)
	delete(e.pending[k], op.opID)
	if len(e.pending[k]) == 0 {
		delete(e.pending, k)
	}
}

// AbortDevice fails every in-flight exchange of deviceID with err and
// returns how many were aborted.
func (e *Engine) AbortDevice(deviceID string, err error) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, op := range e.pending[deviceKey(deviceID)] {
		select {
		case op.abort <- err:
			n++
		default:
		}
	}
	return n
}

// Pending returns the number of in-flight exchanges for deviceID.
func (e *Engine) Pending(deviceID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending[deviceKey(deviceID)])
}

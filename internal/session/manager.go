// Package session is the connection manager: it gates connects on discovery,
// owns per-device sessions and reacts to link loss.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/adapter"
	"github.com/srg/printlink/internal/capability"
	"github.com/srg/printlink/internal/device"
	"github.com/srg/printlink/internal/discovery"
	"github.com/srg/printlink/internal/events"
	"github.com/srg/printlink/internal/groutine"
	"github.com/srg/printlink/internal/protocol"
	"github.com/srg/printlink/internal/store"
	"github.com/srg/printlink/internal/telemetry"
)

// NoSettle disables the delay between link-up and capability resolution.
const NoSettle time.Duration = -1

// Timeouts bounds the phases of a connect. Zero fields take the defaults;
// use NoSettle to skip the settle delay.
type Timeouts struct {
	Observe time.Duration `default:"3s"`
	Connect time.Duration `default:"10s"`
	Settle  time.Duration `default:"500ms"`
	Resolve time.Duration `default:"5s"`
}

// Deps are the collaborators of a Manager. Nil members get in-memory defaults.
type Deps struct {
	Adapter   *adapter.Manager
	Discovery *discovery.Discovery
	Resolver  *capability.Resolver
	Engine    *protocol.Engine
	Store     store.Store
	Bus       *events.Bus

	// Used only when Engine is nil.
	Protocol  protocol.Options
	Telemetry telemetry.Emitter

	Timeouts Timeouts
}

// Manager owns the sessions of one host radio.
type Manager struct {
	logger    *logrus.Logger
	adapter   *adapter.Manager
	discovery *discovery.Discovery
	resolver  *capability.Resolver
	engine    *protocol.Engine
	store     store.Store
	bus       *events.Bus
	timeouts  Timeouts

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires a Manager. deps.Adapter is required.
func NewManager(deps Deps, logger *logrus.Logger) (*Manager, error) {
	if deps.Adapter == nil {
		return nil, fmt.Errorf("adapter manager is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&deps.Timeouts)

	m := &Manager{
		logger:    logger,
		adapter:   deps.Adapter,
		discovery: deps.Discovery,
		resolver:  deps.Resolver,
		engine:    deps.Engine,
		store:     deps.Store,
		bus:       deps.Bus,
		timeouts:  deps.Timeouts,
		sessions:  make(map[string]*Session),
	}
	if m.discovery == nil {
		m.discovery = discovery.New(deps.Adapter, logger)
	}
	if m.resolver == nil {
		m.resolver = capability.NewResolver(0, logger)
	}
	if m.engine == nil {
		m.engine = protocol.NewEngine(logger,
			protocol.WithOptions(deps.Protocol),
			protocol.WithTelemetry(deps.Telemetry),
			protocol.WithMTUExchanger(m.exchangeMTU),
		)
	}
	if m.store == nil {
		m.store = store.NewMemory()
	}
	if m.bus == nil {
		m.bus = events.NewBus(logger)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// exchangeMTU defers to the primitive negotiated at adapter initialization.
func (m *Manager) exchangeMTU(client device.Client, mtu int) (int, error) {
	fn := m.adapter.Capabilities().ExchangeMTU
	if fn == nil {
		return 0, fmt.Errorf("platform does not support MTU exchange")
	}
	return fn(client, mtu)
}

func (m *Manager) Discovery() *discovery.Discovery { return m.discovery }

func (m *Manager) Resolver() *capability.Resolver { return m.resolver }

func (m *Manager) Engine() *protocol.Engine { return m.engine }

// Events returns the session event bus.
func (m *Manager) Events() *events.Bus { return m.bus }

func sessionKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Session returns the live session of deviceID.
func (m *Manager) Session(deviceID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(deviceID)]
	return s, ok
}

// Sessions returns all sessions sorted by device id.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return sessionKey(out[i].id) < sessionKey(out[j].id)
	})
	return out
}

// reserve registers a new session for deviceID, refusing a second one.
func (m *Manager) reserve(deviceID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(deviceID)
	if existing, ok := m.sessions[key]; ok {
		return nil, &device.ConnectionError{
			State: device.AlreadyConnected,
			Msg:   fmt.Sprintf("device %s is %s", existing.id, existing.State()),
		}
	}
	s := newSession(strings.TrimSpace(deviceID), m)
	m.sessions[key] = s
	return s, nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[sessionKey(s.id)]; ok && cur == s {
		delete(m.sessions, sessionKey(s.id))
	}
}

// Connect opens a session to deviceID. The device must be observed on air
// first; otherwise DeviceNotObserved is returned and no dial is attempted.
//
// When capability resolution fails the live session is returned together
// with a CapabilityUnresolved error; the session stays connected(unresolved).
// A nil timeouts uses the manager defaults.
func (m *Manager) Connect(ctx context.Context, deviceID string, timeouts *Timeouts) (*Session, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("device id is empty")
	}
	t := m.timeouts
	if timeouts != nil {
		t = *timeouts
		defaults.SetDefaults(&t)
	}

	s, err := m.reserve(deviceID)
	if err != nil {
		return nil, err
	}
	client, err := m.dial(ctx, s, t)
	if err != nil {
		m.release(s)
		s.end(err)
		return nil, err
	}
	return m.attach(ctx, s, client, t)
}

func (m *Manager) dial(ctx context.Context, s *Session, t Timeouts) (device.Client, error) {
	logger := m.logger.WithField("device", s.id)

	if err := m.adapter.Initialize(ctx); err != nil {
		return nil, err
	}

	ok, err := m.discovery.EnsureObserved(ctx, s.id, t.Observe)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Warn("Refusing to connect to a device that was not observed")
		return nil, device.NewError(device.KindDeviceNotObserved, s.id, "device was not seen in a recent scan", nil)
	}

	s.setState(Connecting)
	logger.WithField("timeout", t.Connect).Info("Connecting...")

	type dialResult struct {
		client device.Client
		err    error
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.Connect)
	defer cancel()
	results := make(chan dialResult, 1)
	groutine.Go(ctx, "dial:"+s.id, func(_ context.Context) {
		c, err := m.adapter.Platform().Dial(dialCtx, s.id)
		results <- dialResult{c, err}
	})

	select {
	case r := <-results:
		if r.err == nil {
			return r.client, nil
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, device.NewError(device.KindConnectTimeout, s.id, fmt.Sprintf("no connection within %s", t.Connect), r.err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", s.id, r.err)
	case <-dialCtx.Done():
	}

	// The dial may still complete; drop such a late link.
	groutine.Go(m.ctx, "dial-cleanup:"+s.id, func(_ context.Context) {
		if r := <-results; r.client != nil {
			logger.Debug("Cancelling connection that completed after timeout")
			_ = r.client.CancelConnection()
		}
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logger.Warn("Connect timed out")
	return nil, device.NewError(device.KindConnectTimeout, s.id, fmt.Sprintf("no connection within %s", t.Connect), nil)
}

// attach turns a dialed or adopted link into a connected session.
func (m *Manager) attach(ctx context.Context, s *Session, client device.Client, t Timeouts) (*Session, error) {
	logger := m.logger.WithField("device", s.id)

	if t.Settle > 0 {
		select {
		case <-time.After(t.Settle):
		case <-ctx.Done():
			_ = client.CancelConnection()
			m.release(s)
			s.end(ctx.Err())
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	if s.closing || s.endErr != nil {
		err := s.notLive()
		s.mu.Unlock()
		_ = client.CancelConnection()
		m.release(s)
		return nil, err
	}
	s.client = client
	s.state = ConnectedUnresolved
	s.mu.Unlock()

	if err := m.store.Save(store.Record{DeviceID: s.id}); err != nil {
		logger.WithField("error", err).Warn("Failed to persist last device")
	}
	m.bus.Publish(events.Event{Type: events.Connected, DeviceID: s.id})
	m.monitor(s, client)
	logger.Info("Connected")

	if _, err := m.resolveWithin(ctx, s, client, t.Resolve); err != nil {
		return s, err
	}
	return s, nil
}

func (m *Manager) resolve(ctx context.Context, s *Session, client device.Client) (capability.Set, error) {
	return m.resolveWithin(ctx, s, client, m.timeouts.Resolve)
}

func (m *Manager) resolveWithin(ctx context.Context, s *Session, client device.Client, timeout time.Duration) (capability.Set, error) {
	set, err := m.resolver.Resolve(ctx, s.id, client, timeout)
	if err != nil {
		return capability.Set{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Connected() {
		return capability.Set{}, s.notLive()
	}
	s.caps = set
	s.state = ConnectedReady
	return set, nil
}

// monitor watches the link and reports loss not initiated by the caller.
func (m *Manager) monitor(s *Session, client device.Client) {
	lost := client.Disconnected()
	if lost == nil {
		m.logger.WithField("device", s.id).Debug("Backend cannot report link loss")
		return
	}
	groutine.GoTracked(m.ctx, &m.wg, "link-monitor:"+s.id, func(ctx context.Context) {
		select {
		case <-lost:
			m.linkLost(s)
		case <-s.done:
		case <-ctx.Done():
		}
	})
}

func (m *Manager) linkLost(s *Session) {
	s.mu.RLock()
	closing := s.closing
	s.mu.RUnlock()
	if closing {
		return
	}

	err := device.NewError(device.KindUnexpectedDisconnect, s.id, "link lost", nil)
	if !s.end(err) {
		return
	}
	m.release(s)
	aborted := m.engine.AbortDevice(s.id, err)

	m.logger.WithFields(logrus.Fields{
		"device":  s.id,
		"aborted": aborted,
	}).Warn("Device disconnected unexpectedly")
	m.bus.Publish(events.Event{Type: events.Disconnected, DeviceID: s.id, Unexpected: true})
}

// Disconnect closes the session of deviceID and forgets it as the last device.
func (m *Manager) Disconnect(deviceID string) error {
	s, ok := m.Session(deviceID)
	if !ok {
		return &device.ConnectionError{State: device.NotConnected, Msg: fmt.Sprintf("no session for %s", deviceID)}
	}
	return m.disconnect(s, true)
}

func (m *Manager) disconnect(s *Session, forget bool) error {
	s.mu.Lock()
	s.closing = true
	s.state = Disconnecting
	client := s.client
	s.mu.Unlock()

	closedErr := &device.ConnectionError{State: device.NotConnected, Msg: fmt.Sprintf("session for %s closed", s.id)}
	aborted := m.engine.AbortDevice(s.id, closedErr)

	var cancelErr error
	if client != nil {
		cancelErr = client.CancelConnection()
	}
	if forget {
		if err := m.store.Clear(); err != nil {
			m.logger.WithField("error", err).Warn("Failed to clear last device")
		}
	}
	m.release(s)
	s.end(closedErr)

	m.logger.WithFields(logrus.Fields{
		"device":  s.id,
		"aborted": aborted,
	}).Info("Disconnected")
	m.bus.Publish(events.Event{Type: events.Disconnected, DeviceID: s.id})

	if cancelErr != nil {
		return fmt.Errorf("failed to cancel connection: %w", cancelErr)
	}
	return nil
}

// ResetBondAndConnection disconnects deviceID, forgets it as the last device,
// removes its platform bond when the platform can, and evicts it from the
// discovery cache. Platforms without bond removal are not an error.
func (m *Manager) ResetBondAndConnection(ctx context.Context, deviceID string) error {
	if err := m.Disconnect(deviceID); err != nil && !device.IsConnectionState(err, device.NotConnected) {
		m.logger.WithFields(logrus.Fields{"device": deviceID, "error": err}).Warn("Disconnect before bond reset failed")
	}
	defer m.discovery.Forget(deviceID)
	m.forgetLastDevice(deviceID)

	if err := m.adapter.Initialize(ctx); err != nil {
		return err
	}
	removeBond := m.adapter.Capabilities().RemoveBond
	if removeBond == nil {
		m.logger.WithField("device", deviceID).Info("Platform cannot remove bonds, skipping")
		return nil
	}
	if err := removeBond(ctx, deviceID); err != nil {
		return fmt.Errorf("failed to remove bond for %s: %w", deviceID, err)
	}
	m.logger.WithField("device", deviceID).Info("Bond removed")
	return nil
}

// forgetLastDevice clears the last device record when it names deviceID.
func (m *Manager) forgetLastDevice(deviceID string) {
	rec, ok, err := m.store.Load()
	if err != nil {
		m.logger.WithField("error", err).Warn("Failed to load last device")
		return
	}
	if !ok || sessionKey(rec.DeviceID) != sessionKey(deviceID) {
		return
	}
	if err := m.store.Clear(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to clear last device")
	}
}

// RestoreLastConnection reconnects to the last device if it is on air now.
// It returns restored=false, with no side effects, when there is no record or
// the device is not observed. A live link held by the OS is adopted instead
// of dialing.
func (m *Manager) RestoreLastConnection(ctx context.Context) (*Session, bool, error) {
	rec, ok, err := m.store.Load()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if s, ok := m.Session(rec.DeviceID); ok {
		return s, true, nil
	}

	if err := m.adapter.Initialize(ctx); err != nil {
		return nil, false, err
	}
	seen, err := m.discovery.EnsureObserved(ctx, rec.DeviceID, m.timeouts.Observe)
	if err != nil {
		return nil, false, err
	}
	if !seen {
		m.logger.WithField("device", rec.DeviceID).Info("Last device not observed, not restoring")
		return nil, false, nil
	}

	if live := m.adapter.Capabilities().LiveConnection; live != nil {
		if client, ok := live(ctx, rec.DeviceID); ok {
			s, err := m.reserve(rec.DeviceID)
			if err != nil {
				return nil, false, err
			}
			m.logger.WithField("device", rec.DeviceID).Info("Adopting live connection")
			s, err = m.attach(ctx, s, client, m.timeouts)
			return s, s != nil, err
		}
	}

	s, err := m.Connect(ctx, rec.DeviceID, nil)
	return s, s != nil, err
}

// Close disconnects every session and stops the link monitors. The last
// device record is kept so the next process can restore it.
func (m *Manager) Close() {
	for _, s := range m.Sessions() {
		if err := m.disconnect(s, false); err != nil {
			m.logger.WithFields(logrus.Fields{"device": s.id, "error": err}).Debug("Disconnect on close failed")
		}
	}
	m.cancel()
	m.wg.Wait()
	m.bus.Close()
}

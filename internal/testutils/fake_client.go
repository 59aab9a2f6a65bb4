package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/srg/printlink/internal/device"
)

// Call is one recorded transport call.
type Call struct {
	Op      string // "discover", "subscribe", "unsubscribe", "write", "write-nr", "mtu", "cancel"
	Service string
	Char    string
	Data    []byte
	At      time.Time
}

// WriteHook is invoked synchronously for every characteristic write.
type WriteHook func(c *FakeClient, service, char string, data []byte)

// FakeClient is an instrumented device.Client. It records every call in order,
// delivers simulated notifications to subscribed handlers and can simulate
// link loss.
type FakeClient struct {
	address string

	mu                sync.Mutex
	services          []device.ServiceInfo
	calls             []Call
	handlers          map[string]func([]byte)
	onWrite           WriteHook
	writeErr          error
	discoverErr       error
	emptyDiscoveries  int
	disconnected      chan struct{}
	disconnectedOnce  sync.Once
	linkLossSupported bool
}

// NewFakeClient creates a fake link to address exposing services.
func NewFakeClient(address string, services []device.ServiceInfo) *FakeClient {
	return &FakeClient{
		address:           address,
		services:          services,
		handlers:          make(map[string]func([]byte)),
		disconnected:      make(chan struct{}),
		linkLossSupported: true,
	}
}

func handlerKey(service, char string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(char)
}

func (c *FakeClient) record(op, service, char string, data []byte) {
	var cp []byte
	if data != nil {
		cp = make([]byte, len(data))
		copy(cp, data)
	}
	c.calls = append(c.calls, Call{Op: op, Service: service, Char: char, Data: cp, At: time.Now()})
}

// OnWrite installs a hook that runs on every write, typically to answer with Notify.
func (c *FakeClient) OnWrite(hook WriteHook) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = hook
	return c
}

// FailWrites makes every write return err.
func (c *FakeClient) FailWrites(err error) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
	return c
}

// FailDiscovery makes every profile discovery return err.
func (c *FakeClient) FailDiscovery(err error) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverErr = err
	return c
}

// EmptyDiscoveries makes the first n discoveries return an empty tree, the way
// a peripheral that is still booting its GATT server does.
func (c *FakeClient) EmptyDiscoveries(n int) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emptyDiscoveries = n
	return c
}

// WithoutLinkLoss makes Disconnected return nil, like a backend that cannot report link loss.
func (c *FakeClient) WithoutLinkLoss() *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linkLossSupported = false
	return c
}

// SetServices replaces the attribute tree returned by later discoveries.
func (c *FakeClient) SetServices(services []device.ServiceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = services
}

func (c *FakeClient) Address() string {
	return c.address
}

func (c *FakeClient) DiscoverProfile(ctx context.Context) ([]device.ServiceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("discover", "", "", nil)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	if c.emptyDiscoveries > 0 {
		c.emptyDiscoveries--
		return nil, nil
	}
	out := make([]device.ServiceInfo, len(c.services))
	copy(out, c.services)
	return out, nil
}

func (c *FakeClient) WriteCharacteristic(service, char string, data []byte, noResponse bool) error {
	c.mu.Lock()
	op := "write"
	if noResponse {
		op = "write-nr"
	}
	c.record(op, service, char, data)
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	if _, err := device.FindCharacteristic(c.services, service, char); err != nil {
		c.mu.Unlock()
		return err
	}
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(c, service, char, data)
	}
	return nil
}

func (c *FakeClient) Subscribe(service, char string, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("subscribe", service, char, nil)
	if _, err := device.FindCharacteristic(c.services, service, char); err != nil {
		return err
	}
	c.handlers[handlerKey(service, char)] = handler
	return nil
}

func (c *FakeClient) Unsubscribe(service, char string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("unsubscribe", service, char, nil)
	delete(c.handlers, handlerKey(service, char))
	return nil
}

// ExchangeMTU records the request and grants it.
func (c *FakeClient) ExchangeMTU(mtu int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("mtu", "", "", nil)
	return mtu, nil
}

func (c *FakeClient) CancelConnection() error {
	c.mu.Lock()
	c.record("cancel", "", "", nil)
	c.mu.Unlock()
	c.disconnectedOnce.Do(func() { close(c.disconnected) })
	return nil
}

func (c *FakeClient) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.linkLossSupported {
		return nil
	}
	return c.disconnected
}

// DropLink simulates an asynchronous link loss.
func (c *FakeClient) DropLink() {
	c.disconnectedOnce.Do(func() { close(c.disconnected) })
}

// Notify delivers data to the handler subscribed on service/char.
// Returns false when nobody is subscribed.
func (c *FakeClient) Notify(service, char string, data []byte) bool {
	c.mu.Lock()
	handler, ok := c.handlers[handlerKey(service, char)]
	c.mu.Unlock()
	if !ok {
		return false
	}
	handler(data)
	return true
}

// NotifyFragments delivers data split at the given fragment sizes; the last
// fragment carries whatever remains.
func (c *FakeClient) NotifyFragments(service, char string, data []byte, sizes ...int) bool {
	for _, n := range sizes {
		if n > len(data) {
			n = len(data)
		}
		if !c.Notify(service, char, data[:n]) {
			return false
		}
		data = data[n:]
	}
	if len(data) > 0 {
		return c.Notify(service, char, data)
	}
	return true
}

// Subscribed reports whether a handler is installed on service/char.
func (c *FakeClient) Subscribed(service, char string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[handlerKey(service, char)]
	return ok
}

// Calls returns a copy of the recorded calls.
func (c *FakeClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Ops returns the recorded operation names in order.
func (c *FakeClient) Ops() []string {
	calls := c.Calls()
	ops := make([]string, len(calls))
	for i, call := range calls {
		ops[i] = call.Op
	}
	return ops
}

// Count returns how many calls of op were recorded.
func (c *FakeClient) Count(op string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Op == op {
			n++
		}
	}
	return n
}

// Writes returns the payloads written to char, in order.
func (c *FakeClient) Writes(char string) [][]byte {
	var out [][]byte
	for _, call := range c.Calls() {
		if (call.Op == "write" || call.Op == "write-nr") && device.NormalizeUUID(call.Char) == device.NormalizeUUID(char) {
			out = append(out, call.Data)
		}
	}
	return out
}

func (c *FakeClient) String() string {
	return fmt.Sprintf("FakeClient(%s)", c.address)
}

// JSONResponder returns a WriteHook acting like the printer firmware: it
// joins written chunks until they form a JSON document, then answers on
// service/char with reply(request), split at sizes.
func JSONResponder(service, char string, reply func(request []byte) []byte, sizes ...int) WriteHook {
	return jsonResponder(0, service, char, reply, sizes...)
}

// DelayedResponder is JSONResponder answering from another goroutine after delay.
func DelayedResponder(service, char string, delay time.Duration, reply func(request []byte) []byte, sizes ...int) WriteHook {
	return jsonResponder(delay, service, char, reply, sizes...)
}

func jsonResponder(delay time.Duration, service, char string, reply func(request []byte) []byte, sizes ...int) WriteHook {
	var mu sync.Mutex
	var buf []byte
	return func(c *FakeClient, _, _ string, data []byte) {
		mu.Lock()
		buf = append(buf, data...)
		if !json.Valid(buf) {
			mu.Unlock()
			return
		}
		request := buf
		buf = nil
		mu.Unlock()

		if delay <= 0 {
			c.NotifyFragments(service, char, reply(request), sizes...)
			return
		}
		go func() {
			time.Sleep(delay)
			c.NotifyFragments(service, char, reply(request), sizes...)
		}()
	}
}

// Echo replies with the request itself.
func Echo(request []byte) []byte {
	return request
}

// Reply returns a reply func answering with a fixed document.
func Reply(doc string) func([]byte) []byte {
	return func([]byte) []byte { return []byte(doc) }
}

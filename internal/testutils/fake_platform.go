package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/srg/printlink/internal/device"
)

// FakeAdvertisement is a static device.Advertisement.
type FakeAdvertisement struct {
	Name         string
	Address      string
	Signal       int
	ServiceUUIDs []string
	NotConnect   bool
}

func (a *FakeAdvertisement) LocalName() string  { return a.Name }
func (a *FakeAdvertisement) RSSI() int          { return a.Signal }
func (a *FakeAdvertisement) Addr() string       { return a.Address }
func (a *FakeAdvertisement) Services() []string { return a.ServiceUUIDs }
func (a *FakeAdvertisement) Connectable() bool  { return !a.NotConnect }

// FakePlatform is an in-memory device.Platform. Scans replay the configured
// advertisements and then wait for the scan context to end; dials hand out
// the registered FakeClient for the address.
type FakePlatform struct {
	mu           sync.Mutex
	adverts      []device.Advertisement
	clients      map[string]*FakeClient
	dials        []string
	scans        int
	powerOns     int
	powerErr     error
	powerDelay   time.Duration
	dialErr      error
	dialDelay    time.Duration
	permission   *bool
	permissionN  int
	removedBonds []string
	live         map[string]*FakeClient
	noMTU        bool
	noBond       bool
	concurrent   bool
}

// NewFakePlatform returns an empty fake platform.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		clients: make(map[string]*FakeClient),
		live:    make(map[string]*FakeClient),
	}
}

func addrKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Advertise adds advertisements replayed by every scan.
func (p *FakePlatform) Advertise(adverts ...device.Advertisement) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adverts = append(p.adverts, adverts...)
	return p
}

// StopAdvertising clears all advertisements.
func (p *FakePlatform) StopAdvertising() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adverts = nil
}

// AddClient registers the client returned when its address is dialed.
func (p *FakePlatform) AddClient(client *FakeClient) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[addrKey(client.Address())] = client
	return p
}

// AddLiveConnection registers a link the OS already holds.
func (p *FakePlatform) AddLiveConnection(client *FakeClient) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[addrKey(client.Address())] = client
	return p
}

// FailPowerOn makes PowerOn fail with err.
func (p *FakePlatform) FailPowerOn(err error) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.powerErr = err
	return p
}

// SlowPowerOn delays PowerOn.
func (p *FakePlatform) SlowPowerOn(d time.Duration) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.powerDelay = d
	return p
}

// FailDial makes Dial fail with err.
func (p *FakePlatform) FailDial(err error) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialErr = err
	return p
}

// SlowDial delays Dial; the dial still completes after ctx is done, like a
// platform whose connect cannot be aborted.
func (p *FakePlatform) SlowDial(d time.Duration) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialDelay = d
	return p
}

// WithPermissionPrompt installs a RequestPermissions slot answering granted.
func (p *FakePlatform) WithPermissionPrompt(granted bool) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permission = &granted
	return p
}

// WithoutMTUExchange removes the ExchangeMTU slot.
func (p *FakePlatform) WithoutMTUExchange() *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noMTU = true
	return p
}

// WithoutBondRemoval removes the RemoveBond slot.
func (p *FakePlatform) WithoutBondRemoval() *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noBond = true
	return p
}

// ConcurrentScan makes scans deliver each advertisement from its own
// goroutine, like backends with a multi-threaded event loop.
func (p *FakePlatform) ConcurrentScan() *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.concurrent = true
	return p
}

func (p *FakePlatform) PowerOn(ctx context.Context) error {
	p.mu.Lock()
	p.powerOns++
	delay := p.powerDelay
	err := p.powerErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *FakePlatform) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	p.mu.Lock()
	p.scans++
	adverts := make([]device.Advertisement, len(p.adverts))
	copy(adverts, p.adverts)
	concurrent := p.concurrent
	p.mu.Unlock()

	if concurrent {
		var wg sync.WaitGroup
		for _, adv := range adverts {
			wg.Add(1)
			go func(adv device.Advertisement) {
				defer wg.Done()
				handler(adv)
			}(adv)
		}
		wg.Wait()
		<-ctx.Done()
		return nil
	}

	for _, adv := range adverts {
		if ctx.Err() != nil {
			return nil
		}
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

func (p *FakePlatform) Dial(ctx context.Context, address string) (device.Client, error) {
	p.mu.Lock()
	p.dials = append(p.dials, address)
	client, ok := p.clients[addrKey(address)]
	delay := p.dialDelay
	err := p.dialErr
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no peripheral at %s", address)
	}
	return client, nil
}

func (p *FakePlatform) Capabilities() device.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()

	caps := device.Capabilities{
		LiveConnection: func(_ context.Context, address string) (device.Client, bool) {
			p.mu.Lock()
			defer p.mu.Unlock()
			c, ok := p.live[addrKey(address)]
			if !ok {
				return nil, false
			}
			return c, true
		},
	}
	if p.permission != nil {
		granted := *p.permission
		caps.RequestPermissions = func(context.Context) (bool, error) {
			p.mu.Lock()
			p.permissionN++
			p.mu.Unlock()
			return granted, nil
		}
	}
	if !p.noMTU {
		caps.ExchangeMTU = func(client device.Client, mtu int) (int, error) {
			fc, ok := client.(*FakeClient)
			if !ok {
				return 0, fmt.Errorf("unsupported client %T", client)
			}
			return fc.ExchangeMTU(mtu)
		}
	}
	if !p.noBond {
		caps.RemoveBond = func(_ context.Context, address string) error {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.removedBonds = append(p.removedBonds, address)
			return nil
		}
	}
	return caps
}

// Dials returns the addresses dialed so far.
func (p *FakePlatform) Dials() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dials...)
}

// Scans returns how many scans were started.
func (p *FakePlatform) Scans() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scans
}

// PowerOns returns how many times PowerOn ran.
func (p *FakePlatform) PowerOns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.powerOns
}

// PermissionPrompts returns how many times the permission prompt was shown.
func (p *FakePlatform) PermissionPrompts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permissionN
}

// RemovedBonds returns the addresses whose bond was removed.
func (p *FakePlatform) RemovedBonds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.removedBonds...)
}

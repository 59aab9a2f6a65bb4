package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/device"
)

// DefaultDiscoverTimeout bounds a single attribute tree read when the caller
// context has no deadline.
const DefaultDiscoverTimeout = 10 * time.Second

type charKey struct {
	service string
	char    string
}

// Client wraps a go-ble client link and resolves UUID strings against the
// most recently discovered profile.
type Client struct {
	client  ble.Client
	address string
	logger  *logrus.Logger

	mu    sync.RWMutex
	chars map[charKey]*ble.Characteristic
	// indicate records which subscriptions were made with indications
	indicate map[charKey]bool
}

// NewClient wraps an already dialed ble.Client.
func NewClient(client ble.Client, address string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		client:   client,
		address:  address,
		logger:   logger,
		chars:    make(map[charKey]*ble.Characteristic),
		indicate: make(map[charKey]bool),
	}
}

func (c *Client) Address() string {
	return c.address
}

// DiscoverProfile forces a fresh attribute tree read and refreshes the
// characteristic handles used by writes and subscriptions.
func (c *Client) DiscoverProfile(ctx context.Context) ([]device.ServiceInfo, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDiscoverTimeout)
		defer cancel()
	}

	type discoverResult struct {
		profile *ble.Profile
		err     error
	}
	resultCh := make(chan discoverResult, 1)

	go func() {
		profile, err := c.client.DiscoverProfile(true)
		resultCh <- discoverResult{profile: profile, err: err}
	}()

	var profile *ble.Profile
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(res.err))
		}
		profile = res.profile
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to discover profile: %w", ctx.Err())
	}

	chars := make(map[charKey]*ble.Characteristic)
	services := make([]device.ServiceInfo, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svcUUID := device.NormalizeUUID(bleSvc.UUID.String())
		svc := device.ServiceInfo{UUID: svcUUID}
		for _, bleChar := range bleSvc.Characteristics {
			charUUID := device.NormalizeUUID(bleChar.UUID.String())
			chars[charKey{service: svcUUID, char: charUUID}] = bleChar
			svc.Characteristics = append(svc.Characteristics, device.CharacteristicInfo{
				UUID:       charUUID,
				Properties: NewProperties(bleChar.Property),
			})
		}
		services = append(services, svc)
	}

	c.mu.Lock()
	c.chars = chars
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"address":  c.address,
		"services": len(services),
	}).Debug("Profile discovered")

	return services, nil
}

func (c *Client) lookup(service, char string) (*ble.Characteristic, charKey, error) {
	key := charKey{service: device.NormalizeUUID(service), char: device.NormalizeUUID(char)}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.chars) == 0 {
		return nil, key, fmt.Errorf("profile not discovered: %w", device.ErrNotConnected)
	}
	ch, ok := c.chars[key]
	if !ok {
		return nil, key, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}
	}
	return ch, key, nil
}

func (c *Client) WriteCharacteristic(service, char string, data []byte, noResponse bool) error {
	ch, _, err := c.lookup(service, char)
	if err != nil {
		return err
	}
	if err := c.client.WriteCharacteristic(ch, data, noResponse); err != nil {
		return fmt.Errorf("failed to write to characteristic %s in service %s: %w", char, service, NormalizeError(err))
	}
	return nil
}

func (c *Client) Subscribe(service, char string, handler func([]byte)) error {
	ch, key, err := c.lookup(service, char)
	if err != nil {
		return err
	}

	ind := useIndication(ch.Property)
	if err := c.client.Subscribe(ch, ind, func(data []byte) {
		// go-ble reuses its receive buffer
		buf := make([]byte, len(data))
		copy(buf, data)
		handler(buf)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", char, NormalizeError(err))
	}

	c.mu.Lock()
	c.indicate[key] = ind
	c.mu.Unlock()
	return nil
}

func (c *Client) Unsubscribe(service, char string) error {
	ch, key, err := c.lookup(service, char)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ind := c.indicate[key]
	delete(c.indicate, key)
	c.mu.Unlock()

	if err := c.client.Unsubscribe(ch, ind); err != nil {
		return fmt.Errorf("failed to unsubscribe from characteristic %s: %w", char, NormalizeError(err))
	}
	return nil
}

func (c *Client) CancelConnection() error {
	return NormalizeError(c.client.CancelConnection())
}

// Disconnected returns the go-ble disconnect channel when the backend exposes one.
func (c *Client) Disconnected() <-chan struct{} {
	if dc, ok := c.client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	c.logger.Debug("Client does not support Disconnected() channel")
	return nil
}

// ExchangeMTU requests a larger ATT MTU.
func (c *Client) ExchangeMTU(mtu int) (int, error) {
	txMTU, err := c.client.ExchangeMTU(mtu)
	if err != nil {
		return 0, NormalizeError(err)
	}
	return txMTU, nil
}

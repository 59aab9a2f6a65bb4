package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/device"
)

// DefaultBlueZAdapter is the HCI adapter used for bond removal on linux.
const DefaultBlueZAdapter = "hci0"

// Platform implements device.Platform on top of go-ble.
type Platform struct {
	logger       *logrus.Logger
	bluezAdapter string

	mu  sync.Mutex
	dev ble.Device
}

// Option configures a Platform.
type Option func(*Platform)

// WithBlueZAdapter selects the BlueZ adapter used for bond removal.
func WithBlueZAdapter(name string) Option {
	return func(p *Platform) {
		if name != "" {
			p.bluezAdapter = name
		}
	}
}

// NewPlatform creates a go-ble backed platform. The radio is not touched until PowerOn.
func NewPlatform(logger *logrus.Logger, opts ...Option) *Platform {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Platform{
		logger:       logger,
		bluezAdapter: DefaultBlueZAdapter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PowerOn creates the go-ble device, which fails when the radio is off or absent.
func (p *Platform) PowerOn(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		p.logger.WithField("error", err).Error("Failed to create BLE device")
		if device.KindOf(err) != "" {
			return err
		}
		return device.NewError(device.KindAdapterUnavailable, "", "failed to create BLE device", err)
	}
	p.dev = dev
	p.logger.Debug("BLE device created")
	return nil
}

func (p *Platform) bleDevice() (ble.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return nil, device.NewError(device.KindAdapterUnavailable, "", "adapter not powered on", nil)
	}
	return p.dev, nil
}

// Scan runs an active scan until ctx is done. Context expiry is not an error.
func (p *Platform) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := p.bleDevice()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

// Dial connects to address; ctx bounds the connect attempt.
func (p *Platform) Dial(ctx context.Context, address string) (device.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	dev, err := p.bleDevice()
	if err != nil {
		return nil, err
	}

	p.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}
	return NewClient(client, address, p.logger), nil
}

// Capabilities reports the optional primitives available through go-ble.
func (p *Platform) Capabilities() device.Capabilities {
	return device.Capabilities{
		RemoveBond: p.removeBond(),
		ExchangeMTU: func(client device.Client, mtu int) (int, error) {
			gc, ok := client.(*Client)
			if !ok {
				return 0, fmt.Errorf("client %T does not support MTU exchange", client)
			}
			return gc.ExchangeMTU(mtu)
		},
	}
}

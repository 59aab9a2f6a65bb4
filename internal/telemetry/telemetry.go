// Package telemetry ships TX/RX protocol records to an external collector.
// Delivery is best-effort: records may be dropped and sink failures are
// logged at debug level and otherwise ignored.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/groutine"
	"github.com/srg/printlink/internal/ringchan"
)

// Direction of a record relative to the central.
type Direction string

const (
	TX Direction = "TX"
	RX Direction = "RX"
)

// Record is a single telemetry entry.
type Record struct {
	Direction        Direction `json:"direction"`
	ServiceID        string    `json:"serviceId"`
	CharacteristicID string    `json:"characteristicId"`
	Payload          string    `json:"payload"`
	DeviceID         string    `json:"deviceId"`
	Timestamp        int64     `json:"timestamp"` // unix millis
}

// Sink delivers a record somewhere.
type Sink interface {
	Send(ctx context.Context, rec Record) error
}

// Emitter accepts records without blocking.
type Emitter interface {
	Emit(rec Record)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Record) {}

func (Nop) Send(context.Context, Record) error { return nil }

// Dispatcher queues records and delivers them to a Sink from a single worker.
type Dispatcher struct {
	sink    Sink
	logger  *logrus.Logger
	timeout time.Duration
	queue   *ringchan.RingChannel[Record]

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// DefaultBuffer and DefaultSendTimeout are used when NewDispatcher gets zero values.
const (
	DefaultBuffer      = 64
	DefaultSendTimeout = 3 * time.Second
)

// NewDispatcher starts the delivery worker. Call Close to stop it.
func NewDispatcher(sink Sink, buffer int, timeout time.Duration, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		timeout: timeout,
		queue:   ringchan.New[Record](buffer),
	}
	groutine.GoTracked(context.Background(), &d.wg, "telemetry-dispatcher", d.run)
	return d
}

// Emit queues rec, dropping the oldest queued record when full.
func (d *Dispatcher) Emit(rec Record) {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	if d.queue.Send(rec) {
		d.logger.WithFields(logrus.Fields{
			"direction": rec.Direction,
			"device":    rec.DeviceID,
		}).Debug("Telemetry queue full or closed, record dropped")
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	for rec := range d.queue.C() {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := d.sink.Send(sendCtx, rec); err != nil {
			d.logger.WithFields(logrus.Fields{
				"direction": rec.Direction,
				"device":    rec.DeviceID,
				"error":     err,
			}).Debug("Telemetry delivery failed")
		}
		cancel()
	}
}

// Close stops accepting records and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.queue.Close()
		d.wg.Wait()
	})
}

// Stats reports queue counters.
func (d *Dispatcher) Stats() ringchan.Metrics {
	return d.queue.GetMetrics()
}

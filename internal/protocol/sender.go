package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/device"
)

// Command is the outbound wire envelope.
type Command struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// NewCommand builds a command stamped with the current time. data must
// encode to a JSON object; nil becomes {}.
func NewCommand(typ string, data any) (Command, error) {
	if typ == "" {
		return Command{}, fmt.Errorf("command type is empty")
	}
	raw := json.RawMessage("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Command{}, fmt.Errorf("failed to encode command data: %w", err)
		}
		if len(b) == 0 || b[0] != '{' {
			return Command{}, fmt.Errorf("command data must be a JSON object, got %s", b)
		}
		raw = b
	}
	return Command{Type: typ, Data: raw, Timestamp: time.Now().UnixMilli()}, nil
}

// Encode returns the UTF-8 JSON bytes of the command.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Chunk splits payload into pieces of at most size bytes. The last chunk
// carries the remainder; no end marker is added.
func Chunk(payload []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for start := 0; start < len(payload); start += size {
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end])
	}
	return chunks
}

// chunkSize picks the write size: explicit request size, then engine option,
// then negotiated MTU minus the ATT header, then DefaultChunkSize.
func (e *Engine) chunkSize(req Request, mtu int) int {
	switch {
	case req.ChunkSize > 0:
		return req.ChunkSize
	case e.opts.ChunkSize > 0:
		return e.opts.ChunkSize
	case mtu > attHeader+DefaultChunkSize:
		return mtu - attHeader
	default:
		return DefaultChunkSize
	}
}

// SendFragmented writes req.Payload as sequential write-without-response
// chunks spaced by the chunk delay, then waits for the reply.
func (e *Engine) SendFragmented(ctx context.Context, client device.Client, req Request) (*Response, error) {
	return e.Exchange(ctx, client, req, e.writeFragments)
}

// Send writes the payload in one write when it fits a chunk and falls back to
// SendFragmented otherwise.
func (e *Engine) Send(ctx context.Context, client device.Client, req Request) (*Response, error) {
	return e.Exchange(ctx, client, req, func(ctx context.Context, client device.Client, req Request, mtu int) error {
		if len(req.Payload) <= e.chunkSize(req, mtu) {
			return e.writeSingle(ctx, client, req, mtu)
		}
		return e.writeFragments(ctx, client, req, mtu)
	})
}

// SendCommand encodes cmd and sends it.
func (e *Engine) SendCommand(ctx context.Context, client device.Client, req Request, cmd Command) (*Response, error) {
	payload, err := cmd.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	req.Payload = payload
	return e.Send(ctx, client, req)
}

func (e *Engine) writeFragments(ctx context.Context, client device.Client, req Request, mtu int) error {
	size := e.chunkSize(req, mtu)
	chunks := Chunk(req.Payload, size)

	e.logger.WithFields(logrus.Fields{
		"device": req.DeviceID,
		"bytes":  len(req.Payload),
		"chunks": len(chunks),
		"size":   size,
	}).Debug("Writing fragmented request")

	for i, chunk := range chunks {
		if i > 0 && e.opts.ChunkDelay > 0 {
			select {
			case <-time.After(e.opts.ChunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := client.WriteCharacteristic(req.ServiceUUID, req.RequestCharUUID, chunk, true); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/srg/printlink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Send(ctx context.Context, rec Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type recordingSink struct {
	mu      sync.Mutex
	records []Record
	err     error
	block   chan struct{}
}

func (s *recordingSink) Send(ctx context.Context, rec Record) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, time.Second, testutils.NewTestLogger(t))

	d.Emit(Record{Direction: TX, DeviceID: "AA:BB", Payload: `{"type":"ping"}`})
	d.Emit(Record{Direction: RX, DeviceID: "AA:BB", Payload: `{"ok":true}`})
	d.Close()

	records := sink.all()
	require.Len(t, records, 2)
	assert.Equal(t, TX, records[0].Direction)
	assert.Equal(t, RX, records[1].Direction)
	assert.NotZero(t, records[0].Timestamp, "Emit MUST stamp missing timestamps")
}

func TestDispatcherAppliesSendTimeout(t *testing.T) {
	sink := &mockSink{}
	sink.On("Send", mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= 250*time.Millisecond
	}), mock.MatchedBy(func(rec Record) bool {
		return rec.Direction == TX && rec.DeviceID == "AA:BB"
	})).Return(nil).Once()

	d := NewDispatcher(sink, 4, 250*time.Millisecond, testutils.NewTestLogger(t))
	d.Emit(Record{Direction: TX, DeviceID: "AA:BB"})
	d.Close()

	sink.AssertExpectations(t)
}

func TestDispatcherSwallowsSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("collector down")}
	d := NewDispatcher(sink, 4, time.Second, testutils.NewTestLogger(t))

	assert.NotPanics(t, func() {
		d.Emit(Record{Direction: TX})
		d.Emit(Record{Direction: RX})
	})
	d.Close()
	assert.Len(t, sink.all(), 2, "failed deliveries MUST NOT stop the worker")
}

func TestDispatcherEmitNeverBlocks(t *testing.T) {
	// GOAL: a stalled collector must not stall the protocol path
	//
	// TEST SCENARIO: sink blocks → emit far more than the buffer → Emit returns promptly

	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 2, time.Second, testutils.NewTestLogger(t))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Emit(Record{Direction: TX})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit MUST NOT block")
	}
	close(sink.block)
	d.Close()

	assert.Greater(t, d.Stats().Overwritten, int64(0), "overflow MUST drop records")
	d.Emit(Record{Direction: TX})
}

func TestHTTPSink(t *testing.T) {
	var got Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, srv.Client())
	rec := Record{Direction: RX, ServiceID: "f000aa00", CharacteristicID: "f000aa02", Payload: "{}", DeviceID: "AA:BB", Timestamp: 42}
	require.NoError(t, sink.Send(context.Background(), rec))
	assert.Equal(t, rec, got)
}

func TestHTTPSinkReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, nil).Send(context.Background(), Record{})
	assert.ErrorContains(t, err, "502")
}

func TestLogSinkAndNop(t *testing.T) {
	assert.NoError(t, NewLogSink(testutils.NewTestLogger(t)).Send(context.Background(), Record{Direction: TX}))
	assert.NoError(t, Nop{}.Send(context.Background(), Record{}))
	Nop{}.Emit(Record{})
}

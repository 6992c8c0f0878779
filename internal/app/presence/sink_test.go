package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	records []Record
	fail    bool
	block   chan struct{}
}

func (m *memoryStore) SavePresence(ctx context.Context, rec Record) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store unavailable")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) saved() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func TestSinkWritesRecords(t *testing.T) {
	store := &memoryStore{}
	sink := NewSink(store, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Serve(ctx) }()

	sink.Record(Record{UserID: "a", Status: StatusOnline})
	sink.Record(Record{UserID: "a", Status: StatusOffline})

	require.Eventually(t, func() bool { return len(store.saved()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusOffline, store.saved()[1].Status)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSinkDropsWhenFull(t *testing.T) {
	store := &memoryStore{}
	sink := NewSink(store, 1)

	sink.Record(Record{UserID: "a"})
	sink.Record(Record{UserID: "b"})
	assert.Len(t, sink.queue, 1)
}

func TestSinkFlushesOnShutdown(t *testing.T) {
	store := &memoryStore{}
	sink := NewSink(store, 8)
	sink.Record(Record{UserID: "a"})
	sink.Record(Record{UserID: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = sink.Serve(ctx)

	assert.Len(t, store.saved(), 2)
}

func TestSinkSurvivesStoreErrors(t *testing.T) {
	store := &memoryStore{fail: true}
	sink := NewSink(store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Serve(ctx) }()

	sink.Record(Record{UserID: "a"})
	require.Eventually(t, func() bool { return len(sink.queue) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Empty(t, store.saved())
}

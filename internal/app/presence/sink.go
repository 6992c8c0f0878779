package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
)

// Store persists presence records for the CRUD tier's page-load fallback.
type Store interface {
	SavePresence(ctx context.Context, rec Record) error
}

const (
	defaultSinkBuffer = 256
	sinkWriteTimeout  = 2 * time.Second
)

// Sink queues presence records and writes them to a Store from a single goroutine.
// Record never blocks; a full queue drops the record.
type Sink struct {
	store  Store
	queue  chan Record
	logger zerolog.Logger
}

// NewSink creates a Sink with the given queue size (0 selects the default).
func NewSink(store Store, buffer int) *Sink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	return &Sink{
		store:  store,
		queue:  make(chan Record, buffer),
		logger: logx.Component("presence-sink"),
	}
}

// Record enqueues rec for persistence.
func (s *Sink) Record(rec Record) {
	select {
	case s.queue <- rec:
	default:
		metrics.PresenceSinkDropped.Inc()
		s.logger.Warn().Str("user_id", rec.UserID).Str("status", string(rec.Status)).Msg("Presence queue full, record dropped.")
	}
}

// Serve drains the queue until ctx is cancelled. It implements suture.Service.
func (s *Sink) Serve(ctx context.Context) error {
	s.logger.Info().Msg("Presence sink started.")
	for {
		select {
		case <-ctx.Done():
			s.flush()
			s.logger.Info().Msg("Presence sink stopped.")
			return ctx.Err()
		case rec := <-s.queue:
			s.write(ctx, rec)
		}
	}
}

// flush writes whatever is still queued with a fresh context.
func (s *Sink) flush() {
	for {
		select {
		case rec := <-s.queue:
			s.write(context.Background(), rec)
		default:
			return
		}
	}
}

func (s *Sink) write(parent context.Context, rec Record) {
	ctx, cancel := context.WithTimeout(parent, sinkWriteTimeout)
	defer cancel()

	if err := s.store.SavePresence(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("user_id", rec.UserID).Msg("Failed to persist presence.")
	}
}

// String identifies the service in supervisor logs.
func (s *Sink) String() string {
	return "presence-sink"
}

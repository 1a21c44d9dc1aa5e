package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/always-cache/travelnotes/persistence"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxElapsed      = 30 * time.Second
)

// ErrStillUnavailable is returned when replay stopped because the service is still unreachable.
var ErrStillUnavailable = errors.New("service still unavailable, mutations kept")

type ReplayerConfig struct {
	Queue   *Queue
	Service persistence.Service
	// First retry delay for an unreachable service.
	InitialInterval time.Duration
	// How long one mutation is retried before replay stops.
	MaxElapsed time.Duration
	Logger     *zerolog.Logger
}

// Replayer submits queued mutations in order.
type Replayer struct {
	queue           *Queue
	svc             persistence.Service
	initialInterval time.Duration
	maxElapsed      time.Duration
	log             zerolog.Logger
}

func NewReplayer(config ReplayerConfig) *Replayer {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	r := &Replayer{
		queue:           config.Queue,
		svc:             config.Service,
		initialInterval: config.InitialInterval,
		maxElapsed:      config.MaxElapsed,
		log:             logger.With().Str("component", "outbox").Logger(),
	}
	if r.initialInterval <= 0 {
		r.initialInterval = DefaultInitialInterval
	}
	if r.maxElapsed <= 0 {
		r.maxElapsed = DefaultMaxElapsed
	}
	return r
}

// Replay submits pending mutations oldest first and returns how many were applied.
// A mutation the service rejects is logged and dropped. Replay stops at the first mutation
// that cannot be delivered, which stays queued with everything after it.
func (r *Replayer) Replay(ctx context.Context) (int, error) {
	pending, err := r.queue.Pending(ctx, 0)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, m := range pending {
		log := r.log.With().Int64("seq", m.Seq).Str("op", string(m.Op)).Logger()
		err := r.apply(ctx, m, log)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, persistence.ErrUnavailable):
			log.Info().Err(err).Msg("Service unreachable, stopping replay")
			return applied, ErrStillUnavailable
		case errors.Is(err, persistence.ErrUnauthenticated), ctx.Err() != nil:
			return applied, err
		default:
			log.Error().Err(err).Msg("Mutation rejected, dropping it")
		}
		if err := r.queue.Remove(ctx, m.Seq); err != nil {
			return applied, err
		}
	}
	if applied > 0 {
		r.log.Info().Int("applied", applied).Msg("Replayed queued mutations")
	}
	return applied, nil
}

func (r *Replayer) apply(ctx context.Context, m Mutation, log zerolog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.Apply(ctx, r.svc)
		if err != nil && !errors.Is(err, persistence.ErrUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(r.maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("next", next).Msg("Retrying mutation")
		}),
	)
	return err
}

// Sync replays the queue. It is the routine behind the background-sync hook.
func (r *Replayer) Sync(ctx context.Context) error {
	_, err := r.Replay(ctx)
	return err
}

package updates

import (
	"context"
	"fmt"
	"sync"

	"github.com/gotd/td/tg"
)

// Manager implements telegram.UpdateHandler and drives one login's update
// stream. Updates received before Run has loaded state are buffered.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	state   *internalState
	pending []tg.UpdatesClass
}

func New(cfg Config) *Manager {
	if cfg.Handler == nil || cfg.Storage == nil || cfg.AccessHasher == nil {
		panic("updates: Handler, Storage and AccessHasher are required")
	}
	return &Manager{cfg: cfg}
}

var _ interface {
	Handle(ctx context.Context, u tg.UpdatesClass) error
} = (*Manager)(nil)

// Handle queues one raw update envelope for sequential processing. It
// returns quickly; heavy work happens on the Run goroutine.
func (m *Manager) Handle(ctx context.Context, u tg.UpdatesClass) error {
	m.mu.Lock()
	s := m.state
	if s == nil {
		if len(m.pending) < queueSize {
			m.pending = append(m.pending, u)
		} else {
			m.cfg.Logger.Warn().
				Type("updates_class", u).
				Msg("Dropping update received before startup, buffer is full")
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return s.push(ctx, u)
}

// AuthOptions configures Run for one authorization.
type AuthOptions struct {
	IsBot bool
	// Forget discards the stored sequence position and adopts the server's
	// current state instead of replaying the backlog.
	Forget bool
	// OnStart is called once the manager has caught up and is consuming the
	// live stream.
	OnStart func(ctx context.Context)
}

// Run loads the persisted state for selfID, catches up on everything missed
// while offline, then consumes the live stream until ctx is cancelled. It
// blocks; cancelling ctx is the only way to stop it cleanly.
func (m *Manager) Run(ctx context.Context, api API, selfID int64, opts AuthOptions) error {
	state, found, err := m.cfg.Storage.GetState(ctx, selfID)
	if err != nil {
		return fmt.Errorf("failed to load update state: %w", err)
	}
	if !found || opts.Forget {
		remote, err := api.UpdatesGetState(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch initial state: %w", err)
		}
		state = stateFromRemote(remote)
		if err = m.cfg.Storage.SetState(ctx, selfID, state); err != nil {
			return fmt.Errorf("failed to save initial state: %w", err)
		}
	}

	s := newInternalState(m.cfg, api, selfID, state)
	err = m.cfg.Storage.ForEachChannels(ctx, selfID, func(ctx context.Context, channelID int64, pts int) error {
		s.channels[channelID] = &box{pts}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load channel states: %w", err)
	}

	if found && !opts.Forget {
		if err = s.getDifference(ctx); err != nil {
			return fmt.Errorf("failed to catch up: %w", err)
		}
	}

	m.mu.Lock()
	m.state = s
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.state = nil
		m.mu.Unlock()
	}()

	for _, u := range pending {
		if err = s.handleUpdates(ctx, u); err != nil {
			s.log.Err(err).Msg("Failed to handle buffered updates")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if opts.OnStart != nil {
		opts.OnStart(ctx)
	}
	return s.run(ctx)
}

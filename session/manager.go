package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"matricare/authz"
	"matricare/identity"
)

type State string

const (
	StateInitializing  State = "INITIALIZING"
	StateAuthenticated State = "AUTHENTICATED"
	StateAnonymous     State = "ANONYMOUS"
)

// Snapshot is an immutable view of the client session at a point in time.
type Snapshot struct {
	State     State
	User      *authz.MergedUser
	Token     string
	ExpiresAt time.Time
}

// ResolveFunc turns a bearer token into a MergedUser, typically the role
// resolver behind the provider's GetUser.
type ResolveFunc func(ctx context.Context, accessToken string) (authz.MergedUser, error)

// Manager holds the single client-process session and keeps it live by
// consuming provider auth events. Events carry a monotonically increasing
// Seq; the manager applies results in event order, so a resolution for a
// superseded event is discarded even if it finishes last.
type Manager struct {
	resolve ResolveFunc
	log     *zap.Logger

	mu         sync.RWMutex
	snapshot   Snapshot
	appliedSeq uint64

	cancel  func()
	closeMu sync.Mutex
	closed  bool
}

// NewManager builds a session manager in the INITIALIZING state.
func NewManager(resolve ResolveFunc, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		resolve:  resolve,
		log:      log,
		snapshot: Snapshot{State: StateInitializing},
	}
}

// Start performs the one-time startup resolution and then consumes the
// event stream until Close or context cancellation. An empty initial token
// settles immediately into ANONYMOUS.
func (m *Manager) Start(ctx context.Context, initialToken string, events <-chan identity.AuthEvent, cancelSub func()) {
	m.closeMu.Lock()
	m.cancel = cancelSub
	m.closeMu.Unlock()

	go func() {
		if initialToken == "" {
			m.apply(0, Snapshot{State: StateAnonymous})
		} else {
			m.resolveInto(ctx, 0, initialToken, time.Time{})
		}

		for event := range events {
			switch event.Type {
			case identity.EventSignedOut:
				m.apply(event.Seq, Snapshot{State: StateAnonymous})
			case identity.EventSignedIn, identity.EventTokenRefreshed:
				if event.Session == nil {
					continue
				}
				// Resolve concurrently so a slow lookup cannot block
				// newer events; apply() enforces event-order wins.
				go m.resolveInto(ctx, event.Seq, event.Session.AccessToken, event.Session.ExpiresAt)
			}
		}
	}()
}

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Close stops listening for provider events. In-flight resolutions are not
// aborted; their results are still subject to event-order application.
func (m *Manager) Close() {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) resolveInto(ctx context.Context, seq uint64, token string, expiresAt time.Time) {
	user, err := m.resolve(ctx, token)
	if err != nil {
		m.log.Debug("session resolution failed", zap.Uint64("seq", seq), zap.Error(err))
		m.apply(seq, Snapshot{State: StateAnonymous})
		return
	}
	m.apply(seq, Snapshot{
		State:     StateAuthenticated,
		User:      &user,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// apply installs a snapshot only if it is at least as recent as the last
// applied event. Last-write-wins by event recency, not resolution finish
// order.
func (m *Manager) apply(seq uint64, snapshot Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq < m.appliedSeq {
		return
	}
	m.appliedSeq = seq
	m.snapshot = snapshot
}

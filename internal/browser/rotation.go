package browser

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/charmbracelet/log"

	"sofascraper/internal/config"
	"sofascraper/internal/domain"
	"sofascraper/internal/support"
)

var (
	// ErrEmptyPool means a rotating session was requested without any valid
	// proxies to rotate across.
	ErrEmptyPool = errors.New("no proxies available for rotation")

	errSessionClosed = errors.New("rotating session is closed")
)

// RotationTypeFixed and RotationTypeUniform are the supported counter
// strategies: a constant request budget per exit, or one drawn uniformly
// from an inclusive interval.
const (
	RotationTypeFixed   = "fixed"
	RotationTypeUniform = "uniform"
)

// RotatingSession is a long-lived driver session that swaps its exit node on
// a counted schedule. Every fetch decrements the budget of the current exit;
// once spent, the next fetch picks a fresh proxy, rebuilds the underlying
// browser session and continues.
type RotatingSession struct {
	factory SessionFactory
	policy  config.RotationConfig
	retry   support.RetryPolicy
	pool    []domain.ProxyRecord

	// intn is swappable for deterministic tests.
	intn func(n int) int

	mu        sync.Mutex
	current   domain.ProxyRecord
	remaining int
	session   Session
	closed    bool
}

func NewRotatingSession(factory SessionFactory, pool []domain.ProxyRecord, policy config.RotationConfig, retry support.RetryPolicy) (*RotatingSession, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}

	r := &RotatingSession{
		factory: factory,
		policy:  policy,
		retry:   retry,
		pool:    pool,
		intn:    rand.Intn,
	}

	r.current = r.pickProxy()
	r.remaining = r.nextCounter()

	session, err := factory(&r.current)
	if err != nil {
		return nil, fmt.Errorf("start session via %s: %w", r.current.Hostname, err)
	}
	r.session = session

	log.Debug("Rotating session started", "exit", r.current.Hostname, "budget", r.remaining)
	return r, nil
}

// FetchJSON navigates to url through the current exit node and returns the
// JSON body, rotating first when the request budget is spent. A failed
// rebuild surfaces to the caller; rotation has no further fallback.
func (r *RotatingSession) FetchJSON(url string) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errSessionClosed
	}

	if r.remaining <= 0 {
		if err := r.rotateLocked(); err != nil {
			return nil, err
		}
	} else {
		r.remaining--
	}

	var payload map[string]any
	err := r.retry.Do("fetch "+url, func() error {
		if err := r.session.Navigate(url); err != nil {
			return err
		}
		body, err := r.session.ExtractJSON()
		if err != nil {
			return err
		}
		payload = body
		return nil
	})
	return payload, err
}

// CurrentExit reports the hostname of the exit node in use.
func (r *RotatingSession) CurrentExit() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Hostname
}

// Close releases the underlying session. Idempotent.
func (r *RotatingSession) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.session == nil {
		return nil
	}
	return r.session.Close()
}

func (r *RotatingSession) rotateLocked() error {
	next := r.pickProxy()
	counter := r.nextCounter()

	if r.session != nil {
		if err := r.session.Close(); err != nil {
			log.Debug("Closing rotated-out session", "exit", r.current.Hostname, "error", err)
		}
		r.session = nil
	}

	session, err := r.factory(&next)
	if err != nil {
		return fmt.Errorf("rebuild session via %s: %w", next.Hostname, err)
	}

	r.session = session
	r.current = next
	r.remaining = counter

	log.Debug("Rotated exit node", "exit", next.Hostname, "budget", counter)
	return nil
}

// pickProxy draws uniformly from the pool. The current exit is not excluded;
// validity, not diversity, is the contract.
func (r *RotatingSession) pickProxy() domain.ProxyRecord {
	return r.pool[r.intn(len(r.pool))]
}

func (r *RotatingSession) nextCounter() int {
	lo, hi := r.policy.Interval[0], r.policy.Interval[1]

	switch r.policy.RandomType {
	case RotationTypeFixed:
		return lo
	case RotationTypeUniform:
		if hi < lo {
			hi = lo
		}
		return lo + r.intn(hi-lo+1)
	default:
		log.Warn("Unknown rotation type, falling back to fixed", "type", r.policy.RandomType)
		return lo
	}
}

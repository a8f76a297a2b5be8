// Package refresh makes sure that concurrent callers share a single credential refresh.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/jonboulle/clockwork"
)

type State string

const (
	Idle       State = "idle"
	Refreshing State = "refreshing"
)

type CredentialStore interface {
	models.CredentialGetter
	models.CredentialSwapper
}

// operation is a refresh in flight. The done channel is closed once cred or err is set.
type operation struct {
	id          string
	done        chan struct{}
	subscribers int
	cred        *models.Credential
	err         error
}

type Coordinator struct {
	store       CredentialStore
	refresher   Refresher
	clock       clockwork.Clock
	cooldown    CooldownPolicy
	timeout     time.Duration
	metrics     *metrics.Metrics
	idGenerator models.IDGenerator

	// lock guards inflight and cooldownUntil, every state transition happens
	// while holding it
	lock          sync.Mutex
	inflight      *operation
	cooldownUntil time.Time
}

// RequestRefresh returns the credential produced by the refresh in flight, starting
// one when needed. All callers that join the same refresh receive the same outcome.
// A caller whose context ends stops waiting but the refresh keeps running.
func (c *Coordinator) RequestRefresh(ctx context.Context) (*models.Credential, error) {
	op, err := c.subscribe(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case <-op.done:
		if op.err != nil {
			return nil, op.err
		}
		cred := *op.cred
		return &cred, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) subscribe(ctx context.Context) (*operation, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.inflight != nil {
		c.inflight.subscribers++
		c.metrics.RefreshJoined()
		return c.inflight, nil
	}
	if now := c.clock.Now(); now.Before(c.cooldownUntil) {
		slog.Debug(
			"REFRESH",
			"message",
			"refresh suppressed by cooldown",
			"cooldownUntil",
			c.cooldownUntil,
		)
		c.metrics.RefreshShortCircuited(metrics.ReasonCooldown)
		return nil, autherrors.ErrRefreshCooldown
	}
	current := c.store.Get()
	if current == nil {
		c.metrics.RefreshShortCircuited(metrics.ReasonNoCredential)
		return nil, autherrors.ErrNoCredential
	}

	id, err := c.idGenerator.ID()
	if err != nil {
		slog.Error("REFRESH", "message", "cannot generate a refresh ID", "error", err)
	}
	op := &operation{id: id, done: make(chan struct{}), subscribers: 1}
	c.inflight = op
	go c.run(context.WithoutCancel(ctx), op, *current)
	return op, nil
}

func (c *Coordinator) run(ctx context.Context, op *operation, current models.Credential) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	slog.Debug("REFRESH", "message", "refresh started", "refreshID", op.id)

	cred, err := c.callRefresher(ctx, current)
	if err == nil && cred.AccessToken == "" {
		err = autherrors.ErrEmptyCredential
	}
	if err != nil {
		c.fail(ctx, op, current, err)
		return
	}

	cred = cred.WithRefreshFallback(current)
	// subscribers never see a credential that is not stored yet
	if !c.store.Replace(ctx, current, cred) {
		c.supersede(op)
		return
	}
	stored := c.store.Get()
	if stored == nil {
		stored = &cred
	}
	c.lock.Lock()
	c.inflight = nil
	op.cred = stored
	c.lock.Unlock()
	c.metrics.RefreshCompleted(metrics.OutcomeSuccess)
	slog.Info("REFRESH", "message", "refresh succeeded", "refreshID", op.id, "subscribers", op.subscribers)
	close(op.done)
}

// supersede settles an operation whose starting credential was cleared or replaced
// while the backend call was running. The result is dropped and no cooldown applies.
func (c *Coordinator) supersede(op *operation) {
	c.lock.Lock()
	c.inflight = nil
	op.err = autherrors.ErrNoCredential
	subscribers := op.subscribers
	c.lock.Unlock()
	c.metrics.RefreshCompleted(metrics.OutcomeSuperseded)
	slog.Info(
		"REFRESH",
		"message",
		"credential changed during the refresh, dropping the result",
		"refreshID",
		op.id,
		"subscribers",
		subscribers,
	)
	close(op.done)
}

func (c *Coordinator) fail(ctx context.Context, op *operation, current models.Credential, err error) {
	transient := IsTransient(err)
	if !transient {
		c.store.Discard(ctx, current)
	}
	c.lock.Lock()
	c.inflight = nil
	op.err = err
	c.cooldownUntil = c.clock.Now().Add(c.cooldown.For(err))
	cooldownUntil := c.cooldownUntil
	subscribers := op.subscribers
	c.lock.Unlock()

	outcome := metrics.OutcomeTerminalFailure
	if transient {
		outcome = metrics.OutcomeTransientFailure
	}
	c.metrics.RefreshCompleted(outcome)
	slog.Error(
		"REFRESH",
		"message",
		"refresh failed",
		"refreshID",
		op.id,
		"transient",
		transient,
		"cooldownUntil",
		cooldownUntil,
		"subscribers",
		subscribers,
		"error",
		err,
	)
	close(op.done)
}

func (c *Coordinator) callRefresher(ctx context.Context, current models.Credential) (cred models.Credential, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("the refresher panicked: %v", r)
		}
	}()
	return c.refresher.Refresh(ctx, current)
}

func (c *Coordinator) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.inflight != nil {
		return Refreshing
	}
	return Idle
}

// Subscribers is the number of callers waiting on the refresh in flight, the
// caller that started it included.
func (c *Coordinator) Subscribers() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.inflight == nil {
		return 0
	}
	return c.inflight.subscribers
}

func (c *Coordinator) CooldownUntil() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.cooldownUntil
}

type CoordinatorOption func(*Coordinator) error

func WithStore(store CredentialStore) CoordinatorOption {
	return func(c *Coordinator) error {
		c.store = store
		return nil
	}
}

func WithRefresher(refresher Refresher) CoordinatorOption {
	return func(c *Coordinator) error {
		c.refresher = refresher
		return nil
	}
}

func WithClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *Coordinator) error {
		c.clock = clock
		return nil
	}
}

func WithCooldownPolicy(policy CooldownPolicy) CoordinatorOption {
	return func(c *Coordinator) error {
		if policy.Transient < 0 || policy.Terminal < 0 {
			return fmt.Errorf("cooldown durations cannot be negative")
		}
		c.cooldown = policy
		return nil
	}
}

func WithTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid refresh timeout (%s)", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) error {
		c.metrics = m
		return nil
	}
}

func WithIDGenerator(generator models.IDGenerator) CoordinatorOption {
	return func(c *Coordinator) error {
		c.idGenerator = generator
		return nil
	}
}

func WithConfig(refreshConfig config.RefreshConfig) CoordinatorOption {
	return func(c *Coordinator) error {
		err := refreshConfig.Validate()
		if err != nil {
			return err
		}
		c.cooldown = CooldownPolicyFromConfig(refreshConfig)
		c.timeout = refreshConfig.Timeout
		return nil
	}
}

func NewCoordinator(options ...CoordinatorOption) (*Coordinator, error) {
	c := Coordinator{
		clock:       clockwork.NewRealClock(),
		cooldown:    DefaultCooldownPolicy(),
		timeout:     30 * time.Second,
		idGenerator: models.ULIDGenerator{},
	}
	for _, opt := range options {
		err := opt(&c)
		if err != nil {
			return &Coordinator{}, err
		}
	}
	if c.store == nil {
		return &Coordinator{}, fmt.Errorf("credential store not initialized")
	}
	if c.refresher == nil {
		return &Coordinator{}, fmt.Errorf("refresher not initialized")
	}
	if c.clock == nil {
		return &Coordinator{}, fmt.Errorf("clock not initialized")
	}
	return &c, nil
}

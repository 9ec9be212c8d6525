package ihc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReauthenticateTimeout = 30 * time.Second
	defaultRetryInterval         = 10 * time.Second
	defaultWaitSeconds           = 10
	// stateReady is the controller lifecycle state GetProject waits for,
	// grounded in the Python source's IHCSTATE_READY constant.
	stateReady = "text.ctrl.state.ready"
)

// ChangeCallback is invoked once per reported change to a resource that has
// a registered listener. Panics inside a callback are recovered and logged
// rather than killing the worker goroutine.
type ChangeCallback func(resourceID int, value ResourceValue)

// Controller wraps a SoapClient with reconnect-on-failure semantics and a
// background long-poll worker that fans change notifications out to
// registered listeners. It is the Go counterpart of the Python source's
// IHCController.
type Controller struct {
	client *SoapClient
	log    *zap.Logger

	username, password string

	reauthenticateTimeout time.Duration
	retryInterval         time.Duration

	mu         sync.Mutex
	listeners  map[int][]ChangeCallback
	pendingIDs []int
	project    *string

	running    bool
	workerDone chan struct{}
	disconnect chan struct{}
	startOnce  sync.Once
}

// ControllerOption configures a Controller at construction time.
type ControllerOption func(*Controller)

// WithReauthenticateTimeout overrides how long a foreground-triggered
// reauthenticate attempt keeps retrying before giving up (default 30s).
func WithReauthenticateTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.reauthenticateTimeout = d }
}

// WithRetryInterval overrides the delay between reauthenticate attempts
// (default 10s).
func WithRetryInterval(d time.Duration) ControllerOption {
	return func(c *Controller) { c.retryInterval = d }
}

// WithControllerLogger attaches a structured logger to the controller.
func WithControllerLogger(l *zap.Logger) ControllerOption {
	return func(c *Controller) { c.log = l }
}

// NewController builds a Controller around client, for the given
// credentials. It does not authenticate or start the worker; call
// Authenticate first.
func NewController(client *SoapClient, username, password string, opts ...ControllerOption) *Controller {
	c := &Controller{
		client:                client,
		username:              username,
		password:              password,
		reauthenticateTimeout: defaultReauthenticateTimeout,
		retryInterval:         defaultRetryInterval,
		log:                   zap.NewNop(),
		listeners:             make(map[int][]ChangeCallback),
		disconnect:            make(chan struct{}),
		workerDone:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate logs in and re-enables notifications for every resource with
// a registered listener -- mirroring the Python source's authenticate(),
// which re-subscribes every known id on every successful (re)login.
func (c *Controller) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Controller) authenticateLocked(ctx context.Context) error {
	if err := c.client.Authenticate(ctx, c.username, c.password); err != nil {
		return err
	}
	if len(c.listeners) == 0 {
		return nil
	}
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	// The Python source ignores the result of this re-enable call on
	// success; a controller that rejects it will simply surface as no
	// further notifications for that id, not an authenticate failure.
	if err := c.client.EnableRuntimeValueNotifications(ctx, ids); err != nil {
		c.log.Warn("ihc: failed to re-enable notifications after authenticate", zap.Error(err))
	}
	return nil
}

// Disconnect stops the notification worker. It does not log out of the
// controller.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	running := c.running
	c.running = false
	c.mu.Unlock()
	if running {
		close(c.disconnect)
		<-c.workerDone
	}
}

// AddNotifyEvent registers callback to be invoked whenever resourceID
// changes. If delayed is true, the enable-notifications request for a new
// resourceID is deferred to the worker goroutine's next iteration instead of
// being sent from this call; useful when registering many listeners up
// front without serializing one enable round trip per listener.
func (c *Controller) AddNotifyEvent(ctx context.Context, resourceID int, callback ChangeCallback, delayed bool) error {
	c.mu.Lock()

	_, known := c.listeners[resourceID]
	c.listeners[resourceID] = append(c.listeners[resourceID], callback)

	if !known {
		if delayed {
			c.pendingIDs = append(c.pendingIDs, resourceID)
		} else {
			if err := c.client.EnableRuntimeValueNotifications(ctx, []int{resourceID}); err != nil {
				c.mu.Unlock()
				return err
			}
		}
	}

	needsStart := !c.running
	c.mu.Unlock()

	if needsStart {
		c.startWorker()
	}
	return nil
}

func (c *Controller) startWorker() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.running = true
		c.mu.Unlock()
		go c.runWorker()
	})
}

// runWorker is the long-poll loop: drain any pending delayed-enable ids,
// wait for changes, and fan them out to listeners. When the long poll fails
// it reauthenticates and continues; a failed delayed enable is logged and not
// retried. It only exits once Disconnect closes c.disconnect.
func (c *Controller) runWorker() {
	defer close(c.workerDone)
	ctx := context.Background()

	for {
		select {
		case <-c.disconnect:
			return
		default:
		}

		c.mu.Lock()
		pending := c.pendingIDs
		c.pendingIDs = nil
		c.mu.Unlock()

		if len(pending) > 0 {
			if err := c.client.EnableRuntimeValueNotifications(ctx, pending); err != nil {
				c.log.Warn("ihc: failed to enable delayed notifications", zap.Error(err))
			}
		}

		changes, err := c.client.WaitForResourceValueChanges(ctx, defaultWaitSeconds)
		if err != nil {
			c.log.Debug("ihc: long poll failed, reauthenticating", zap.Error(err))
			if !c.reAuthenticate(true) {
				return
			}
			continue
		}

		c.mu.Lock()
		var dispatch []dispatchEntry
		for _, change := range changes {
			for _, cb := range c.listeners[change.ResourceID] {
				dispatch = append(dispatch, dispatchEntry{cb, change.ResourceID, change.Value})
			}
		}
		c.mu.Unlock()

		for _, d := range dispatch {
			c.invokeCallback(d.cb, d.resourceID, d.value)
		}
	}
}

// dispatchEntry is one (callback, id, value) triple snapshotted from the
// listener table while holding the lock, so callbacks can run after it is
// released -- a callback that re-enters the Controller (GetProject,
// AddNotifyEvent, Authenticate) would otherwise deadlock against the worker.
type dispatchEntry struct {
	cb         ChangeCallback
	resourceID int
	value      ResourceValue
}

// invokeCallback runs cb, recovering and logging any panic so one broken
// listener cannot take down the worker goroutine.
func (c *Controller) invokeCallback(cb ChangeCallback, resourceID int, value ResourceValue) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("ihc: notification callback panicked", zap.Int("resourceID", resourceID), zap.Any("panic", r))
		}
	}()
	cb(resourceID, value)
}

// reAuthenticate retries Authenticate until it succeeds or the retry budget
// is exhausted. When notify is true (called from the worker) it retries
// indefinitely until Disconnect is called; otherwise it gives up after
// reauthenticateTimeout has elapsed. Returns whether authentication
// eventually succeeded.
func (c *Controller) reAuthenticate(notify bool) bool {
	ctx := context.Background()
	deadline := time.Now().Add(c.reauthenticateTimeout)

	for {
		if err := c.Authenticate(ctx); err == nil {
			return true
		}

		if notify {
			c.mu.Lock()
			running := c.running
			c.mu.Unlock()
			if !running {
				return false
			}
		} else if time.Now().After(deadline) {
			return false
		}

		select {
		case <-c.disconnect:
			return false
		case <-time.After(c.retryInterval):
		}
	}
}

// GetRuntimeValue reads a resource's value, reauthenticating and retrying
// once if the first attempt fails or the controller reports the resource
// absent. This narrows the Python source's retry-on-any-falsy-value
// behavior (which could not distinguish a legitimate `false` from a
// communication failure) to retry only on a genuine error or an absent
// reply, per the tagged-union redesign invited by the original spec. If the
// resource is still absent after the retry, ErrAbsent is returned.
func (c *Controller) GetRuntimeValue(ctx context.Context, resourceID int) (ResourceValue, error) {
	v, err := c.client.GetRuntimeValue(ctx, resourceID)
	if err == nil && !v.IsAbsent() {
		return v, nil
	}
	if !c.reAuthenticate(false) {
		if err != nil {
			return ResourceValue{}, err
		}
		return ResourceValue{}, ErrAbsent
	}
	v, err = c.client.GetRuntimeValue(ctx, resourceID)
	if err == nil && v.IsAbsent() {
		return ResourceValue{}, ErrAbsent
	}
	return v, err
}

// SetRuntimeValueBool writes a boolean resource, reauthenticating and
// retrying once if the first attempt is rejected or errors.
func (c *Controller) SetRuntimeValueBool(ctx context.Context, resourceID int, value bool) (bool, error) {
	return c.setRuntimeValueRetrying(ctx, resourceID, BoolValue(value))
}

// SetRuntimeValueInt writes an integer resource, reauthenticating and
// retrying once if the first attempt is rejected or errors.
func (c *Controller) SetRuntimeValueInt(ctx context.Context, resourceID int, value int) (bool, error) {
	return c.setRuntimeValueRetrying(ctx, resourceID, IntValue(value))
}

// SetRuntimeValueFloat writes a floating point resource, reauthenticating
// and retrying once if the first attempt is rejected or errors.
func (c *Controller) SetRuntimeValueFloat(ctx context.Context, resourceID int, value float64) (bool, error) {
	return c.setRuntimeValueRetrying(ctx, resourceID, FloatValue(value))
}

func (c *Controller) setRuntimeValueRetrying(ctx context.Context, resourceID int, v ResourceValue) (bool, error) {
	ok, err := c.client.SetRuntimeValue(ctx, resourceID, v)
	if err == nil && ok {
		return true, nil
	}
	if !c.reAuthenticate(false) {
		return false, err
	}
	return c.client.SetRuntimeValue(ctx, resourceID, v)
}

// CycleBool sets a boolean resource true then false with no retry wrapping,
// matching the plain passthrough the Python source uses for this operation.
func (c *Controller) CycleBool(ctx context.Context, resourceID int) error {
	return c.client.CycleBool(ctx, resourceID)
}

// GetProject returns the controller's project, downloading and caching it on
// first call after gating on the controller reaching its ready state. The
// cache is populated at most once per Controller.
func (c *Controller) GetProject(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.project != nil {
		return *c.project, nil
	}

	state, err := c.client.GetState(ctx)
	if err != nil {
		return "", err
	}
	if state != stateReady {
		ready, err := c.client.WaitForControllerStateChange(ctx, state, defaultWaitSeconds)
		if err != nil {
			return "", err
		}
		if ready != stateReady {
			return "", &NotReadyError{State: ready}
		}
	}

	project, err := c.client.GetProject(ctx)
	if err != nil {
		return "", err
	}
	c.project = &project
	return project, nil
}

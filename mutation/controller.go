// Package mutation applies optimistic changes to the local store, issues the
// remote effect and then either reconciles with the server's canonical state
// or rolls back. For any key only the most recently issued mutation may
// write its outcome; older in-flight mutations settle as superseded.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-client/domain"
	"prism-client/remote"
	"prism-client/store"
)

const tracerName = "prism-client/mutation"

// Status is the terminal state of a mutation.
type Status string

const (
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	// StatusDeleted means the server reported the resource gone and the local
	// entry was removed instead of restored.
	StatusDeleted Status = "deleted"
	// StatusSuperseded means a newer mutation on the same key was issued
	// before this one settled, so its outcome was discarded.
	StatusSuperseded Status = "superseded"
)

// Store is the write side of the local store owned by the controller.
type Store interface {
	Get(kind domain.Kind, id string) (domain.Resource, bool)
	Keys(kind domain.Kind) []string
	Set(kind domain.Kind, id string, r domain.Resource)
	Delete(kind domain.Kind, id string)
	Reset()
}

var _ Store = (*store.Store)(nil)

// Fetcher reads canonical state for hydration.
type Fetcher interface {
	Fetch(ctx context.Context, kind domain.Kind, id string) (domain.Resource, error)
	List(ctx context.Context, kind domain.Kind) ([]domain.Resource, error)
}

// Intent describes one desired change to one resource.
type Intent struct {
	Kind domain.Kind
	ID   string
	Op   remote.Op
	// Optimistic computes the predicted next state from the current one. It
	// must be pure. cur is nil for creates. Delete intents may leave it nil,
	// in which case the entry stays as-is until the server confirms.
	Optimistic func(cur domain.Resource) (domain.Resource, error)
	// Effect performs the remote call and returns the canonical resource.
	Effect func(ctx context.Context, cur domain.Resource) (domain.Resource, error)
}

func (in Intent) key() domain.Key { return domain.Key{Kind: in.Kind, ID: in.ID} }

func (in Intent) validate() error {
	switch {
	case in.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidIntent)
	case in.Effect == nil:
		return fmt.Errorf("%w: missing effect", ErrInvalidIntent)
	case in.Optimistic == nil && in.Op != remote.OpDelete:
		return fmt.Errorf("%w: missing optimistic function", ErrInvalidIntent)
	}
	if _, err := domain.New(in.Kind); err != nil {
		return err
	}
	return nil
}

// Result is the settled outcome of Apply.
type Result struct {
	Key    domain.Key
	Seq    uint64
	Status Status
	// Resource is the canonical value on success (a tombstone for deletes).
	Resource domain.Resource
}

type record struct {
	key      domain.Key
	seq      uint64
	op       remote.Op
	snapshot domain.Resource
	subject  string
	started  time.Time
}

// Controller is the only writer of the local store.
type Controller struct {
	store     Store
	fetcher   Fetcher
	logger    *log.Logger
	tracer    trace.Tracer
	observers []Observer
	subject   func() string
	now       func() time.Time

	mu     sync.Mutex
	seq    map[domain.Key]uint64
	active map[domain.Key]*record
	epoch  uint64
}

// Option customises a Controller.
type Option func(*Controller)

// WithObserver adds an outcome observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithSubject reports the signed-in user, recorded on each mutation as it
// begins so its outcome stays attributed to that user after a session change.
func WithSubject(fn func() string) Option {
	return func(c *Controller) { c.subject = fn }
}

// WithFetcher sets the remote used by Load, LoadAll and Refresh.
func WithFetcher(f Fetcher) Option {
	return func(c *Controller) { c.fetcher = f }
}

// NewController creates a controller writing to st.
func NewController(st Store, logger *log.Logger, opts ...Option) *Controller {
	if st == nil {
		panic("mutation.NewController: store is nil")
	}
	if logger == nil {
		panic("mutation.NewController: logger is nil")
	}
	c := &Controller{
		store:  st,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		seq:    make(map[domain.Key]uint64),
		active: make(map[domain.Key]*record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply runs one intent: optimistic write, remote effect, then reconcile or
// roll back. Failures are always returned, including for superseded
// mutations; a superseded success returns StatusSuperseded and no error.
//
// Store subscribers are invoked while the controller lock is held and must
// not call back into the controller synchronously.
func (c *Controller) Apply(ctx context.Context, in Intent) (res Result, err error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}
	key := in.key()

	ctx, span := c.tracer.Start(ctx, "mutation.apply")
	span.SetAttributes(
		attribute.String("prism.resource.kind", string(in.Kind)),
		attribute.String("prism.resource.id", in.ID),
		attribute.String("prism.mutation.op", string(in.Op)),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int64("prism.mutation.seq", int64(res.Seq)),
			attribute.String("prism.mutation.status", string(res.Status)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	rec, cur, err := c.begin(key, in)
	if err != nil {
		return Result{Key: key}, err
	}

	canonical, effErr := in.Effect(ctx, cur)
	if effErr == nil {
		canonical, effErr = canonicalFor(key, in.Op, canonical)
	}

	res, err = c.settle(rec, canonical, effErr)
	c.observe(ctx, Outcome{
		Key:      key,
		Seq:      rec.seq,
		Subject:  rec.subject,
		Op:       in.Op,
		Status:   res.Status,
		Err:      effErr,
		Duration: c.now().Sub(rec.started),
	})
	return res, err
}

// begin snapshots the current state, registers the record as the latest for
// the key and writes the optimistic state.
func (c *Controller) begin(key domain.Key, in Intent) (*record, domain.Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.store.Get(key.Kind, key.ID)
	if !ok && in.Op != remote.OpCreate {
		return nil, nil, &Error{Key: key, Err: ErrNotFound}
	}

	var snapshot domain.Resource
	if ok {
		snapshot = cur.Clone()
	}

	var next domain.Resource
	if in.Optimistic != nil {
		var err error
		next, err = in.Optimistic(cloneOrNil(cur))
		if err != nil {
			return nil, nil, &Error{Key: key, Err: fmt.Errorf("%w: %v", ErrInvalidIntent, err)}
		}
	}
	if next == nil {
		if snapshot == nil {
			return nil, nil, &Error{Key: key, Err: fmt.Errorf("%w: no optimistic state", ErrInvalidIntent)}
		}
		next = snapshot.Clone()
	}

	c.seq[key]++
	rec := &record{
		key:      key,
		seq:      c.seq[key],
		op:       in.Op,
		snapshot: snapshot,
		started:  c.now(),
	}
	if c.subject != nil {
		rec.subject = c.subject()
	}
	if prev, ok := c.active[key]; ok {
		// Roll back past every unconfirmed optimistic write, not onto one.
		rec.snapshot = prev.snapshot
		c.logger.WithFields(log.Fields{
			"key":        key.String(),
			"seq":        rec.seq,
			"superseded": prev.seq,
		}).Debug("mutation.superseding")
	}
	c.active[key] = rec

	c.store.Set(key.Kind, key.ID, next)
	return rec, cloneOrNil(cur), nil
}

// settle applies at most one store write, and only when rec is still the
// latest record for its key.
func (c *Controller) settle(rec *record, canonical domain.Resource, effErr error) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rec.key
	latest := c.active[key] == rec
	if latest {
		delete(c.active, key)
	}
	res := Result{Key: key, Seq: rec.seq}

	if effErr != nil {
		switch {
		case !latest:
			res.Status = StatusSuperseded
		case remote.IsNotFound(effErr):
			c.store.Delete(key.Kind, key.ID)
			res.Status = StatusDeleted
		case rec.snapshot == nil:
			c.store.Delete(key.Kind, key.ID)
			res.Status = StatusRolledBack
		default:
			c.store.Set(key.Kind, key.ID, rec.snapshot)
			res.Status = StatusRolledBack
		}
		return res, &Error{Key: key, Seq: rec.seq, Status: res.Status, Err: effErr}
	}

	res.Resource = canonical
	if !latest {
		res.Status = StatusSuperseded
		return res, nil
	}
	res.Status = StatusCommitted

	switch {
	case canonical == nil:
		// nothing to reconcile with; the optimistic state stands
	case domain.IsTombstone(canonical):
		c.store.Delete(key.Kind, key.ID)
	case rec.op == remote.OpCreate && canonical.ResourceID() != key.ID:
		// the server assigned its own id to a created resource
		c.store.Delete(key.Kind, key.ID)
		c.store.Set(key.Kind, canonical.ResourceID(), canonical)
	default:
		c.store.Set(key.Kind, key.ID, canonical)
	}
	return res, nil
}

// canonicalFor checks that r describes key. A reply without an id is taken
// to be about key; only a create may answer under a different id.
func canonicalFor(key domain.Key, op remote.Op, r domain.Resource) (domain.Resource, error) {
	if r == nil || domain.IsTombstone(r) {
		return r, nil
	}
	if r.Kind() != key.Kind {
		return nil, &remote.ServerError{Status: http.StatusOK, Message: fmt.Sprintf("canonical %s returned for %s", r.Kind(), key)}
	}
	switch id := r.ResourceID(); {
	case id == "":
		return domain.WithID(r, key.ID), nil
	case id != key.ID && op != remote.OpCreate:
		return nil, &remote.ServerError{Status: http.StatusOK, Message: fmt.Sprintf("canonical %s:%s returned for %s", r.Kind(), id, key)}
	}
	return r, nil
}

// ApplyAll applies independent intents concurrently and returns their
// results in input order, with every failure joined into the error.
func (c *Controller) ApplyAll(ctx context.Context, intents []Intent) ([]Result, error) {
	results := make([]Result, len(intents))
	errs := make([]error, len(intents))
	var wg sync.WaitGroup
	for i := range intents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Apply(ctx, intents[i])
		}(i)
	}
	wg.Wait()
	return results, errors.Join(errs...)
}

// InFlight reports whether a mutation on the key has not settled yet.
func (c *Controller) InFlight(kind domain.Kind, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[domain.Key{Kind: kind, ID: id}]
	return ok
}

// Invalidate drops the cached entry. A mutation in flight for the key is
// discarded and its outcome will not touch the store.
func (c *Controller) Invalidate(kind domain.Kind, id string) {
	key := domain.Key{Kind: kind, ID: id}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, key)
	c.store.Delete(kind, id)
}

// Reset clears the store and discards every in-flight mutation without
// rollback. It is used when the session changes.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = make(map[domain.Key]*record)
	c.epoch++
	c.store.Reset()
	c.logger.Info("mutation.reset")
}

func cloneOrNil(r domain.Resource) domain.Resource {
	if r == nil {
		return nil
	}
	return r.Clone()
}

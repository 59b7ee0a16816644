package mutation

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"prism-client/domain"
	"prism-client/remote"
)

var errNoFetcher = errors.New("mutation: no fetcher configured")

// hydration captures what a fetch raced against so a stale response never
// overwrites state written after the fetch started.
type hydration struct {
	epoch uint64
	seq   map[domain.Key]uint64
}

// startHydration records the sequence numbers of kind (of one id when id is
// non-empty) at the moment a fetch is issued.
func (c *Controller) startHydration(kind domain.Kind, id string) hydration {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := hydration{epoch: c.epoch, seq: make(map[domain.Key]uint64)}
	for k, seq := range c.seq {
		if k.Kind == kind && (id == "" || k.ID == id) {
			h.seq[k] = seq
		}
	}
	return h
}

// writableLocked reports whether a fetched value for key may be written.
// Callers hold c.mu.
func (c *Controller) writableLocked(h hydration, key domain.Key) bool {
	if h.epoch != c.epoch {
		return false
	}
	if _, inflight := c.active[key]; inflight {
		return false
	}
	return c.seq[key] == h.seq[key]
}

// Load fetches the canonical state of one resource into the store. It does
// not overwrite a key that was mutated while the fetch was in flight; in
// that case the current local value is returned.
func (c *Controller) Load(ctx context.Context, kind domain.Kind, id string) (domain.Resource, error) {
	if c.fetcher == nil {
		return nil, errNoFetcher
	}
	key := domain.Key{Kind: kind, ID: id}
	h := c.startHydration(kind, id)

	r, err := c.fetcher.Fetch(ctx, kind, id)
	if err == nil {
		r, err = canonicalFor(key, remote.OpUpdate, r)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.writableLocked(h, key) {
		cur, _ := c.store.Get(kind, id)
		if err != nil && cur == nil {
			return nil, err
		}
		return cur, nil
	}
	if err != nil {
		if remote.IsNotFound(err) {
			c.store.Delete(kind, id)
		}
		return nil, err
	}
	if r == nil || domain.IsTombstone(r) {
		c.store.Delete(kind, id)
		return nil, &remote.NotFoundError{Kind: kind, ID: id}
	}
	c.store.Set(kind, id, r)
	return r, nil
}

// Refresh re-reads a resource after an invalidation notice. A missing
// resource is removed locally and not reported as an error.
func (c *Controller) Refresh(ctx context.Context, kind domain.Kind, id string) error {
	_, err := c.Load(ctx, kind, id)
	if remote.IsNotFound(err) {
		return nil
	}
	return err
}

// LoadAll fetches every resource of kind. Local entries the server does not
// list are removed unless they were mutated locally.
func (c *Controller) LoadAll(ctx context.Context, kind domain.Kind) ([]domain.Resource, error) {
	if c.fetcher == nil {
		return nil, errNoFetcher
	}
	h := c.startHydration(kind, "")

	items, err := c.fetcher.List(ctx, kind)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	listed := make(map[string]struct{}, len(items))
	skipped := 0
	for _, r := range items {
		key := domain.KeyOf(r)
		if key.ID == "" || key.Kind != kind {
			skipped++
			continue
		}
		listed[key.ID] = struct{}{}
		if !c.writableLocked(h, key) {
			skipped++
			continue
		}
		c.store.Set(kind, key.ID, r)
	}
	for _, id := range c.store.Keys(kind) {
		if _, ok := listed[id]; ok {
			continue
		}
		// entries mutated in this session may not be projected yet
		if key := (domain.Key{Kind: kind, ID: id}); c.seq[key] == 0 && c.writableLocked(h, key) {
			c.store.Delete(kind, id)
		}
	}
	if skipped > 0 {
		c.logger.WithFields(log.Fields{"kind": kind, "skipped": skipped}).Debug("mutation.load_all.skipped")
	}

	out := make([]domain.Resource, 0, len(items))
	for _, id := range c.store.Keys(kind) {
		if r, ok := c.store.Get(kind, id); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

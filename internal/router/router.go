// Package router implements the bus's route table: three indices (exact
// topic, glob pattern, owner) protected by one fair ticket lock, per §4.6.
package router

import (
	"context"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/predicate"
	"github.com/NodeJSmith/hassette-go/internal/ticketlock"
)

// Handler is the wrapped, dispatch-ready callback a Listener carries. The
// bus package builds it from the user's original handler, layering
// debounce/throttle and once-removal around it; router only needs to call
// it once a listener's predicate has matched.
type Handler func(ctx context.Context, e event.Event) error

// Listener is a registered (topic, predicate, handler) tuple. The bus
// package owns construction; router only needs identity, topic, and owner
// to index it.
type Listener struct {
	ID              int64
	Owner           string
	Topic           string
	Predicate       predicate.Predicate
	Handler         Handler
	Once            bool
	DebounceSeconds *float64
	ThrottleSeconds *float64
}

// Router owns the three route indices behind one fair lock.
type Router struct {
	lock *ticketlock.Lock

	exact  map[string][]*Listener
	globs  map[string][]*Listener
	owners map[string][]*Listener
}

// New returns an empty Router.
func New() *Router {
	return &Router{
		lock:   ticketlock.New(),
		exact:  make(map[string][]*Listener),
		globs:  make(map[string][]*Listener),
		owners: make(map[string][]*Listener),
	}
}

// AddRoute registers l under topic, classifying it as exact or glob.
func (r *Router) AddRoute(topic string, l *Listener) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if predicate.IsGlob(topic) {
		r.globs[topic] = append(r.globs[topic], l)
	} else {
		r.exact[topic] = append(r.exact[topic], l)
	}
	r.owners[l.Owner] = append(r.owners[l.Owner], l)
}

// RemoveRoute removes every listener under topic for which keep returns
// false, deleting the bucket if it becomes empty and rebuilding the owner
// index for every affected owner.
func (r *Router) RemoveRoute(topic string, keep func(*Listener) bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	idx := r.exact
	if predicate.IsGlob(topic) {
		idx = r.globs
	}
	bucket, ok := idx[topic]
	if !ok {
		return
	}
	affected := make(map[string]bool)
	kept := bucket[:0:0]
	for _, l := range bucket {
		if keep(l) {
			kept = append(kept, l)
		} else {
			affected[l.Owner] = true
		}
	}
	if len(kept) == 0 {
		delete(idx, topic)
	} else {
		idx[topic] = kept
	}
	for owner := range affected {
		r.rebuildOwnerLocked(owner)
	}
}

// RemoveListenerByID removes the listener with the given id from topic's
// bucket.
func (r *Router) RemoveListenerByID(topic string, id int64) {
	r.RemoveRoute(topic, func(l *Listener) bool { return l.ID != id })
}

// RemoveListener removes l by identity from its own topic.
func (r *Router) RemoveListener(l *Listener) {
	r.RemoveListenerByID(l.Topic, l.ID)
}

// ClearOwner removes every listener registered under owner, across every
// topic bucket.
func (r *Router) ClearOwner(owner string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	listeners := r.owners[owner]
	for _, l := range listeners {
		idx := r.exact
		if predicate.IsGlob(l.Topic) {
			idx = r.globs
		}
		bucket := idx[l.Topic]
		kept := bucket[:0:0]
		for _, existing := range bucket {
			if existing.ID != l.ID {
				kept = append(kept, existing)
			}
		}
		if len(kept) == 0 {
			delete(idx, l.Topic)
		} else {
			idx[l.Topic] = kept
		}
	}
	delete(r.owners, owner)
}

// rebuildOwnerLocked recomputes owner's listener list from the current
// exact+glob indices. Caller must hold the lock.
func (r *Router) rebuildOwnerLocked(owner string) {
	var rebuilt []*Listener
	for _, bucket := range r.exact {
		for _, l := range bucket {
			if l.Owner == owner {
				rebuilt = append(rebuilt, l)
			}
		}
	}
	for _, bucket := range r.globs {
		for _, l := range bucket {
			if l.Owner == owner {
				rebuilt = append(rebuilt, l)
			}
		}
	}
	if len(rebuilt) == 0 {
		delete(r.owners, owner)
	} else {
		r.owners[owner] = rebuilt
	}
}

// GetMatchingListeners returns every listener whose subscription matches
// topic: all exact-topic listeners, then every glob bucket whose pattern
// matches topic, de-duplicated by identity while preserving first-seen
// order. The snapshot is taken under the fair lock so it reflects either a
// fully-committed AddRoute or none at all.
func (r *Router) GetMatchingListeners(topic string) []*Listener {
	r.lock.Lock()
	defer r.lock.Unlock()

	seen := make(map[int64]bool)
	var out []*Listener

	for _, l := range r.exact[topic] {
		if !seen[l.ID] {
			seen[l.ID] = true
			out = append(out, l)
		}
	}
	for pattern, bucket := range r.globs {
		if !predicate.GlobMatch(pattern, topic) {
			continue
		}
		for _, l := range bucket {
			if !seen[l.ID] {
				seen[l.ID] = true
				out = append(out, l)
			}
		}
	}
	return out
}

// Len returns the total number of registered listeners, for tests and
// metrics.
func (r *Router) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	n := 0
	for _, b := range r.exact {
		n += len(b)
	}
	for _, b := range r.globs {
		n += len(b)
	}
	return n
}

// Empty reports whether every index is empty, used by the router idempotence
// test after sweeping every owner.
func (r *Router) Empty() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.exact) == 0 && len(r.globs) == 0 && len(r.owners) == 0
}

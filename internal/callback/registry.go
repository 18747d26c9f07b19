package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Handler is invoked when a subscribed topic changes. The payload is
// intentionally empty: handlers re-read whatever state they care about.
type Handler func(ctx context.Context) error

// Observer receives counters from Notify. The metrics package implements it.
type Observer interface {
	Notified(kind Kind, handlers int)
	HandlerFailed(kind Kind)
}

type key struct {
	kind  Kind
	topic TopicID
}

// Subscription is the handle returned by Subscribe. It identifies exactly one
// registration, so the same func subscribed twice yields two handles.
type Subscription struct {
	ID      uuid.UUID
	Kind    Kind
	Topic   TopicID
	handler Handler
}

// Registry maps (kind, topic) pairs to ordered handler lists. It is safe for
// concurrent use and is normally shared by the whole process.
type Registry struct {
	mu       sync.RWMutex
	subs     map[key][]*Subscription
	observer Observer
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[key][]*Subscription)}
}

// SetObserver installs o. Call before the registry is shared.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Subscribe appends h to the handler list of (kind, topic).
func (r *Registry) Subscribe(kind Kind, topic TopicID, h Handler) *Subscription {
	sub := &Subscription{ID: uuid.New(), Kind: kind, Topic: topic, handler: h}
	k := key{kind, topic}

	r.mu.Lock()
	r.subs[k] = append(r.subs[k], sub)
	r.mu.Unlock()

	return sub
}

// Unsubscribe removes sub. It reports false if sub was not registered.
// A key whose list becomes empty is removed.
func (r *Registry) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	k := key{sub.Kind, sub.Topic}

	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.subs[k]
	if !ok {
		return false
	}
	for i, s := range list {
		if s != sub {
			continue
		}
		// copy so snapshots taken by an in-flight Notify stay intact
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, k)
		} else {
			r.subs[k] = next
		}
		return true
	}
	return false
}

// Notify runs every handler registered for (kind, topic) concurrently and
// waits for all of them. Handler failures and panics are collected into a
// *NotifyError; one failing handler never stops the others. A topic with no
// subscribers is a no-op.
func (r *Registry) Notify(ctx context.Context, kind Kind, topic TopicID) error {
	r.mu.RLock()
	snapshot := r.subs[key{kind, topic}]
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil
	}
	if r.observer != nil {
		r.observer.Notified(kind, len(snapshot))
	}

	errs := make([]error, len(snapshot))
	var wg sync.WaitGroup
	for i, sub := range snapshot {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			errs[i] = invoke(ctx, sub)
		}(i, sub)
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	if r.observer != nil {
		for range failed {
			r.observer.HandlerFailed(kind)
		}
	}
	slog.Warn("notify handlers failed", "kind", kind.String(), "topic", topic.String(), "failed", len(failed), "total", len(snapshot))
	return &NotifyError{Kind: kind, Topic: topic, Errs: failed}
}

func invoke(ctx context.Context, sub *Subscription) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler %s panicked: %v", sub.ID, p)
		}
	}()
	return sub.handler(ctx)
}

// Len returns the number of (kind, topic) keys with at least one handler.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Count returns the number of handlers registered for (kind, topic).
func (r *Registry) Count(kind Kind, topic TopicID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[key{kind, topic}])
}

// NotifyError aggregates the handler failures of a single Notify call.
type NotifyError struct {
	Kind  Kind
	Topic TopicID
	Errs  []error
}

func (e *NotifyError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("notify %s/%s: %d handler(s) failed: %s", e.Kind, e.Topic, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *NotifyError) Unwrap() []error {
	return e.Errs
}

// IsNotifyError reports whether err carries handler failures.
func IsNotifyError(err error) bool {
	var ne *NotifyError
	return errors.As(err, &ne)
}

// Publish notifies (kind, topic) once a change is committed. Handler
// failures are logged and dropped, and the caller's cancellation does not
// reach the handlers.
func (r *Registry) Publish(ctx context.Context, kind Kind, topic TopicID) {
	_ = r.Notify(context.WithoutCancel(ctx), kind, topic)
}

// PublishEntity is Publish on DeriveID(kind, entityID).
func (r *Registry) PublishEntity(ctx context.Context, kind Kind, entityID int64) {
	r.Publish(ctx, kind, DeriveID(kind, entityID))
}

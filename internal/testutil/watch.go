package testutil

import (
	"context"
	"sync/atomic"
	"testing"

	"guild-server/internal/callback"
)

// Watch counts notifications on (kind, topic) for the rest of the test.
func Watch(t testing.TB, reg *callback.Registry, kind callback.Kind, topic callback.TopicID) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	sub := reg.Subscribe(kind, topic, func(context.Context) error {
		n.Add(1)
		return nil
	})
	t.Cleanup(func() { reg.Unsubscribe(sub) })
	return &n
}

// WatchEntity is Watch on callback.DeriveID(kind, id).
func WatchEntity(t testing.TB, reg *callback.Registry, kind callback.Kind, id int64) *atomic.Int32 {
	t.Helper()
	return Watch(t, reg, kind, callback.DeriveID(kind, id))
}

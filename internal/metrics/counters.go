package metrics

import (
	"sort"
	"sync"
	"sync/atomic"

	"guild-server/internal/callback"
)

// Process-wide counters. They only ever grow.
var (
	HTTPBytesOut      int64
	HTTPRequests      int64
	WebSocketBytesOut int64
	WebSocketMessages int64
	Notifications     int64
	HandlerCalls      int64
	HandlerFailures   int64
	PermissionChecks  int64
	PermissionDenials int64
)

// connectedClients is set by the websocket hub.
var connectedClients atomic.Int64

func SetConnectedClients(n int) { connectedClients.Store(int64(n)) }

func ConnectedClients() int { return int(connectedClients.Load()) }

// RecordPermissionCheck counts one authorization decision.
func RecordPermissionCheck(granted bool) {
	atomic.AddInt64(&PermissionChecks, 1)
	if !granted {
		atomic.AddInt64(&PermissionDenials, 1)
	}
}

// NotifyObserver implements callback.Observer, keeping per-kind counts.
type NotifyObserver struct {
	mu       sync.Mutex
	notified map[callback.Kind]int64
	failed   map[callback.Kind]int64
}

func NewNotifyObserver() *NotifyObserver {
	return &NotifyObserver{
		notified: make(map[callback.Kind]int64),
		failed:   make(map[callback.Kind]int64),
	}
}

func (o *NotifyObserver) Notified(kind callback.Kind, handlers int) {
	atomic.AddInt64(&Notifications, 1)
	atomic.AddInt64(&HandlerCalls, int64(handlers))
	o.mu.Lock()
	o.notified[kind]++
	o.mu.Unlock()
}

func (o *NotifyObserver) HandlerFailed(kind callback.Kind) {
	atomic.AddInt64(&HandlerFailures, 1)
	o.mu.Lock()
	o.failed[kind]++
	o.mu.Unlock()
}

// KindCount is the notification tally for one event kind.
type KindCount struct {
	Kind     string `json:"kind"`
	Notified int64  `json:"notified"`
	Failed   int64  `json:"failed"`
}

// ByKind returns the tallies sorted by kind name.
func (o *NotifyObserver) ByKind() []KindCount {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[callback.Kind]struct{})
	for k := range o.notified {
		seen[k] = struct{}{}
	}
	for k := range o.failed {
		seen[k] = struct{}{}
	}
	out := make([]KindCount, 0, len(seen))
	for k := range seen {
		out = append(out, KindCount{Kind: k.String(), Notified: o.notified[k], Failed: o.failed[k]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the process counters to Prometheus.
type Collector struct {
	observer *NotifyObserver

	httpRequests      *prometheus.Desc
	httpBytesOut      *prometheus.Desc
	wsMessages        *prometheus.Desc
	wsBytesOut        *prometheus.Desc
	connectedClients  *prometheus.Desc
	notifications     *prometheus.Desc
	handlerFailures   *prometheus.Desc
	permissionChecks  *prometheus.Desc
	permissionDenials *prometheus.Desc
}

// NewCollector returns a collector. observer may be nil, in which case the
// per-kind notification series are omitted.
func NewCollector(namespace string, observer *NotifyObserver) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		observer:          observer,
		httpRequests:      desc("http_requests_total", "HTTP requests served."),
		httpBytesOut:      desc("http_bytes_out_total", "Bytes written to HTTP responses."),
		wsMessages:        desc("websocket_messages_total", "Messages written to websocket clients."),
		wsBytesOut:        desc("websocket_bytes_out_total", "Bytes written to websocket clients."),
		connectedClients:  desc("websocket_clients", "Currently connected websocket clients."),
		notifications:     desc("notifications_total", "Notify calls that reached at least one handler.", "kind"),
		handlerFailures:   desc("notify_handler_failures_total", "Notification handlers that failed or panicked.", "kind"),
		permissionChecks:  desc("permission_checks_total", "Permission decisions made."),
		permissionDenials: desc("permission_denials_total", "Permission decisions that denied."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.httpRequests
	ch <- c.httpBytesOut
	ch <- c.wsMessages
	ch <- c.wsBytesOut
	ch <- c.connectedClients
	ch <- c.notifications
	ch <- c.handlerFailures
	ch <- c.permissionChecks
	ch <- c.permissionDenials
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v *int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(atomic.LoadInt64(v)))
	}
	counter(c.httpRequests, &HTTPRequests)
	counter(c.httpBytesOut, &HTTPBytesOut)
	counter(c.wsMessages, &WebSocketMessages)
	counter(c.wsBytesOut, &WebSocketBytesOut)
	counter(c.permissionChecks, &PermissionChecks)
	counter(c.permissionDenials, &PermissionDenials)
	ch <- prometheus.MustNewConstMetric(c.connectedClients, prometheus.GaugeValue, float64(ConnectedClients()))

	if c.observer == nil {
		return
	}
	for _, kc := range c.observer.ByKind() {
		ch <- prometheus.MustNewConstMetric(c.notifications, prometheus.CounterValue, float64(kc.Notified), kc.Kind)
		ch <- prometheus.MustNewConstMetric(c.handlerFailures, prometheus.CounterValue, float64(kc.Failed), kc.Kind)
	}
}

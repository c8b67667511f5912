// Package metrics holds the Prometheus collectors of the chat client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the client updates.
type Metrics struct {
	Registry prometheus.Gatherer

	RealtimeConnected  prometheus.Gauge
	FramesReceived     prometheus.Counter
	FramesMalformed    prometheus.Counter
	SendsForwarded     prometheus.Counter
	SendsDropped       prometheus.Counter
	Reconciled         prometheus.Counter
	DuplicatesDropped  prometheus.Counter
	StaleHistory       prometheus.Counter
	HistoryFetches     *prometheus.CounterVec
	PresencePolls      *prometheus.CounterVec
	FriendsOnline      prometheus.Gauge
	PendingPlaceholder prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Registry: reg,
		RealtimeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_realtime_connected",
			Help: "1 while the broker session is connected",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_realtime_frames_received_total",
			Help: "Inbound MESSAGE frames delivered to subscribers",
		}),
		FramesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_realtime_frames_malformed_total",
			Help: "Inbound frames discarded because they could not be parsed",
		}),
		SendsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_sends_forwarded_total",
			Help: "Messages written to the send route",
		}),
		SendsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_sends_dropped_total",
			Help: "Sends dropped because the session was disconnected or the write failed",
		}),
		Reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_placeholders_reconciled_total",
			Help: "Optimistic entries resolved by their server echo",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_duplicates_dropped_total",
			Help: "Inbound or history messages skipped because their key was already displayed",
		}),
		StaleHistory: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_history_stale_results_total",
			Help: "History pages discarded because the conversation changed while in flight",
		}),
		HistoryFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_history_fetches_total",
			Help: "History page requests by result",
		}, []string{"result"}),
		PresencePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_presence_polls_total",
			Help: "Presence refreshes by result",
		}, []string{"result"}),
		FriendsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_presence_friends_online",
			Help: "Friends reported online by the last poll",
		}),
		PendingPlaceholder: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_pending_sends",
			Help: "Optimistic sends awaiting their echo in the active conversation",
		}),
	}

	reg.MustRegister(
		m.RealtimeConnected,
		m.FramesReceived,
		m.FramesMalformed,
		m.SendsForwarded,
		m.SendsDropped,
		m.Reconciled,
		m.DuplicatesDropped,
		m.StaleHistory,
		m.HistoryFetches,
		m.PresencePolls,
		m.FriendsOnline,
		m.PendingPlaceholder,
	)
	return m
}

// Discard returns collectors bound to a private registry, for callers that
// do not expose metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

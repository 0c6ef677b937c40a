package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Merges counts reconciler merges by outcome: new, confirmed, heuristic,
// duplicate.
var Merges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ridechat_merges_total",
	Help: "Reconciler merges by outcome.",
}, []string{"outcome"})

// EventsDropped counts malformed inbound events that were discarded.
var EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ridechat_events_dropped_total",
	Help: "Malformed inbound channel events dropped.",
})

// Sends counts optimistic submissions emitted on the channel.
var Sends = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ridechat_sends_total",
	Help: "Outbound message submissions.",
})

// Deletes counts local tombstones applied.
var Deletes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ridechat_deletes_total",
	Help: "Messages tombstoned locally.",
})

// DeleteFailures counts server-side delete requests that failed after the
// local tombstone was already committed.
var DeleteFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ridechat_delete_failures_total",
	Help: "Fire-and-forget server deletes that failed.",
})

// FeedSize tracks the number of records in the live feed.
var FeedSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ridechat_feed_messages",
	Help: "Records currently held in the feed.",
})

// Unread tracks the session unread counter.
var Unread = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ridechat_unread_messages",
	Help: "Messages merged from other senders since the last reset.",
})

// ArchiveAppends counts confirmed messages written to the durable archive.
var ArchiveAppends = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ridechat_archive_appends_total",
	Help: "Confirmed messages appended to the archive.",
})

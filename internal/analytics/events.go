// Package analytics collects search and build events and aggregates them
// into operational statistics. Events flow through a Publisher: either a
// Kafka topic when a broker is configured, or straight into the local
// Aggregator when not.
package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventCacheHit   EventType = "cache_hit"
	EventCacheMiss  EventType = "cache_miss"
	EventIndexBuild EventType = "index_build"
)

// SearchEvent describes one executed search.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// BuildEvent describes one index build attempt.
type BuildEvent struct {
	Type       EventType `json:"type"`
	Status     string    `json:"status"`
	Documents  int       `json:"documents"`
	Vocabulary int       `json:"vocabulary"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

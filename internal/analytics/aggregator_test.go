package analytics

import (
	"context"
	"encoding/json"
	"testing"
)

func searchEvent(query string, hits int, latencyMs int64, cacheHit bool) SearchEvent {
	return SearchEvent{
		Type:      EventSearch,
		Query:     query,
		TotalHits: hits,
		Returned:  hits,
		LatencyMs: latencyMs,
		CacheHit:  cacheHit,
	}
}

func TestRecordSearchTotals(t *testing.T) {
	agg := NewAggregator()
	agg.RecordSearch(searchEvent("banana", 2, 10, false))
	agg.RecordSearch(searchEvent("banana", 2, 20, true))
	agg.RecordSearch(searchEvent("apple", 1, 30, false))
	agg.RecordSearch(searchEvent("quokka", 0, 40, false))

	stats := agg.Stats()
	if stats.TotalSearches != 4 {
		t.Errorf("TotalSearches = %d, want 4", stats.TotalSearches)
	}
	if stats.CacheHits != 1 || stats.CacheMisses != 3 {
		t.Errorf("cache counters = %d/%d, want 1/3", stats.CacheHits, stats.CacheMisses)
	}
	if stats.ZeroResultCount != 1 {
		t.Errorf("ZeroResultCount = %d, want 1", stats.ZeroResultCount)
	}
	if stats.AvgLatencyMs != 25 {
		t.Errorf("AvgLatencyMs = %v, want 25", stats.AvgLatencyMs)
	}
	if stats.P50LatencyMs != 30 {
		t.Errorf("P50LatencyMs = %d, want 30", stats.P50LatencyMs)
	}
	if stats.P95LatencyMs != 40 || stats.P99LatencyMs != 40 {
		t.Errorf("P95/P99 = %d/%d, want 40/40", stats.P95LatencyMs, stats.P99LatencyMs)
	}
	if stats.QueriesPerMinute <= 0 {
		t.Errorf("QueriesPerMinute = %v, want positive", stats.QueriesPerMinute)
	}
}

func TestTopQueriesOrdering(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < 3; i++ {
		agg.RecordSearch(searchEvent("banana", 1, 5, false))
	}
	agg.RecordSearch(searchEvent("cherry", 1, 5, false))
	agg.RecordSearch(searchEvent("apple", 1, 5, false))

	top := agg.Stats().TopQueries
	if len(top) != 3 {
		t.Fatalf("len(TopQueries) = %d, want 3", len(top))
	}
	if top[0].Query != "banana" || top[0].Count != 3 {
		t.Errorf("TopQueries[0] = %+v, want banana x3", top[0])
	}
	// Equal counts fall back to alphabetical order.
	if top[1].Query != "apple" || top[2].Query != "cherry" {
		t.Errorf("tie order = %q, %q, want apple then cherry", top[1].Query, top[2].Query)
	}
}

func TestZeroResultQueriesTracked(t *testing.T) {
	agg := NewAggregator()
	agg.RecordSearch(searchEvent("banana", 3, 5, false))
	agg.RecordSearch(searchEvent("quokka", 0, 5, false))
	agg.RecordSearch(searchEvent("quokka", 0, 5, false))

	stats := agg.Stats()
	if len(stats.ZeroResultQueries) != 1 {
		t.Fatalf("ZeroResultQueries = %+v, want just quokka", stats.ZeroResultQueries)
	}
	if stats.ZeroResultQueries[0].Query != "quokka" || stats.ZeroResultQueries[0].Count != 2 {
		t.Errorf("ZeroResultQueries[0] = %+v, want quokka x2", stats.ZeroResultQueries[0])
	}
}

func TestRecordBuildAndUnknownEvents(t *testing.T) {
	agg := NewAggregator()
	agg.Record(BuildEvent{Type: EventIndexBuild, Status: "built"})
	agg.Record(BuildEvent{Type: EventIndexBuild, Status: "reused"})
	agg.Record("not an event")

	stats := agg.Stats()
	if stats.IndexBuilds != 2 {
		t.Errorf("IndexBuilds = %d, want 2", stats.IndexBuilds)
	}
	if stats.TotalSearches != 0 {
		t.Errorf("TotalSearches = %d, want 0", stats.TotalSearches)
	}
}

func TestStatsOnEmptyAggregator(t *testing.T) {
	stats := NewAggregator().Stats()
	if stats.TotalSearches != 0 || stats.AvgLatencyMs != 0 || stats.P99LatencyMs != 0 {
		t.Errorf("empty aggregator stats = %+v, want zeroes", stats)
	}
	if len(stats.TopQueries) != 0 {
		t.Errorf("TopQueries = %+v, want empty", stats.TopQueries)
	}
}

func TestHandleEventDispatch(t *testing.T) {
	agg := NewAggregator()
	handler := HandleEvent(agg)
	ctx := context.Background()

	search, err := json.Marshal(searchEvent("banana", 2, 12, false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := handler(ctx, []byte("analytics"), search); err != nil {
		t.Fatalf("handler(search) error: %v", err)
	}

	build, err := json.Marshal(BuildEvent{Type: EventIndexBuild, Status: "built", Documents: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := handler(ctx, []byte("analytics"), build); err != nil {
		t.Fatalf("handler(build) error: %v", err)
	}

	// Cache hit events carry the search payload shape.
	hit, err := json.Marshal(map[string]any{
		"type":       string(EventCacheHit),
		"query":      "banana",
		"total_hits": 2,
		"latency_ms": 1,
		"cache_hit":  true,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := handler(ctx, []byte("analytics"), hit); err != nil {
		t.Fatalf("handler(cache hit) error: %v", err)
	}

	stats := agg.Stats()
	if stats.TotalSearches != 2 {
		t.Errorf("TotalSearches = %d, want 2", stats.TotalSearches)
	}
	if stats.IndexBuilds != 1 {
		t.Errorf("IndexBuilds = %d, want 1", stats.IndexBuilds)
	}
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.CacheHits)
	}
}

func TestHandleEventMalformedPayload(t *testing.T) {
	agg := NewAggregator()
	handler := HandleEvent(agg)

	// Undecodable payloads are dropped, not retried, so the consumer
	// never wedges on a poison message.
	if err := handler(context.Background(), nil, []byte("{not json")); err != nil {
		t.Errorf("handler returned %v for malformed payload, want nil", err)
	}
	if got := agg.Stats().TotalSearches; got != 0 {
		t.Errorf("TotalSearches = %d after malformed payload, want 0", got)
	}
}

func TestPercentileBounds(t *testing.T) {
	sorted := []int64{10, 20, 30, 40}
	cases := []struct {
		pct  int
		want int64
	}{
		{0, 10},
		{50, 30},
		{95, 40},
		{100, 40},
	}
	for _, tc := range cases {
		if got := percentile(sorted, tc.pct); got != tc.want {
			t.Errorf("percentile(%d) = %d, want %d", tc.pct, got, tc.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile of empty slice = %d, want 0", got)
	}
}

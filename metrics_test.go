package apgas

import "testing"

func TestMetricsObserveWaitAll(t *testing.T) {
	m := NewMetrics()

	m.ObserveWaitAll(500)         // falls in every bucket >= 1us
	m.ObserveWaitAll(5_000_000)   // falls in buckets >= 10ms

	if m.WaitAllCount.Load() != 2 {
		t.Errorf("Expected WaitAllCount=2, got %d", m.WaitAllCount.Load())
	}
	if got := m.WaitAllTotalLatencyNs.Load(); got != 500+5_000_000 {
		t.Errorf("Expected total latency %d, got %d", 500+5_000_000, got)
	}

	// 500ns falls at or under every bucket, including the smallest (1us).
	if m.WaitAllLatencyBuckets[0].Load() != 1 {
		t.Errorf("Expected 1 observation in 1us bucket, got %d", m.WaitAllLatencyBuckets[0].Load())
	}
	// 5ms falls under the 10ms bucket (index 4) but not the 1ms bucket (index 3).
	if m.WaitAllLatencyBuckets[3].Load() != 0 {
		t.Errorf("Expected 0 observations <= 1ms, got %d", m.WaitAllLatencyBuckets[3].Load())
	}
	if m.WaitAllLatencyBuckets[4].Load() != 1 {
		t.Errorf("Expected 1 observation <= 10ms, got %d", m.WaitAllLatencyBuckets[4].Load())
	}
}

func TestMetricsSquashRatio(t *testing.T) {
	m := NewMetrics()

	if ratio := m.SquashRatio(); ratio != 0 {
		t.Errorf("Expected 0 ratio with no sections sent, got %f", ratio)
	}

	m.SquashedArgsFolded.Add(100)
	m.SquashSectionsSent.Add(4)

	if ratio := m.SquashRatio(); ratio != 25 {
		t.Errorf("Expected ratio 25, got %f", ratio)
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.ActivitiesSpawned.Add(10)
	m.ActivitiesDone.Add(8)
	m.ActivitiesPanicked.Add(2)
	m.MessagesSent.Add(3)
	m.MessagesReceived.Add(5)
	m.BytesSent.Add(1024)
	m.BytesReceived.Add(2048)
	m.FragmentedSends.Add(1)
	m.FlowControlBlocks.Add(1)

	if m.ActivitiesSpawned.Load() != 10 {
		t.Errorf("Expected ActivitiesSpawned=10, got %d", m.ActivitiesSpawned.Load())
	}
	if m.ActivitiesDone.Load()+m.ActivitiesPanicked.Load() != m.ActivitiesSpawned.Load() {
		t.Error("Expected done+panicked to account for every spawned activity in this scenario")
	}
	if m.BytesSent.Load() != 1024 || m.BytesReceived.Load() != 2048 {
		t.Errorf("Expected BytesSent=1024 BytesReceived=2048, got %d/%d", m.BytesSent.Load(), m.BytesReceived.Load())
	}
}

func TestGlobalMetricsIsASingleSharedInstance(t *testing.T) {
	a := GlobalMetrics()
	a.MessagesSent.Add(1)

	b := GlobalMetrics()
	if b.MessagesSent.Load() != a.MessagesSent.Load() {
		t.Error("Expected GlobalMetrics() to return the same instance across calls")
	}
}

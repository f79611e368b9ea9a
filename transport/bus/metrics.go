package bus

import "sync/atomic"

type MetricsSnapshot struct {
	Endpoints    int64 `json:"endpoints"`
	RuntimeSends int64 `json:"runtime_sends"`
	TabSends     int64 `json:"tab_sends"`
	Delivered    int64 `json:"delivered"`
	Dropped      int64 `json:"dropped"`
}

type Metrics struct {
	endpoints    atomic.Int64
	runtimeSends atomic.Int64
	tabSends     atomic.Int64
	delivered    atomic.Int64
	dropped      atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordEndpoint(delta int) {
	m.endpoints.Add(int64(delta))
}

func (m *Metrics) RecordRuntimeSend() {
	m.runtimeSends.Add(1)
}

func (m *Metrics) RecordTabSend() {
	m.tabSends.Add(1)
}

func (m *Metrics) RecordDelivered(delta int) {
	m.delivered.Add(int64(delta))
}

func (m *Metrics) RecordDropped(delta int) {
	m.dropped.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Endpoints:    m.endpoints.Load(),
		RuntimeSends: m.runtimeSends.Load(),
		TabSends:     m.tabSends.Load(),
		Delivered:    m.delivered.Load(),
		Dropped:      m.dropped.Load(),
	}
}

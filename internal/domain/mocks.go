package domain

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FetchResult is one scripted answer of MockFetcher.
type FetchResult struct {
	Build Build
	Err   error
}

// MockFetcher replays Results in order and repeats the last one when exhausted.
type MockFetcher struct {
	Results []FetchResult
	Called  int
}

func (m *MockFetcher) LatestBuild(ctx context.Context) (Build, error) {
	m.Called++
	if len(m.Results) == 0 {
		return Build{}, fmt.Errorf("mock fetcher: no results")
	}
	i := m.Called - 1
	if i >= len(m.Results) {
		i = len(m.Results) - 1
	}
	r := m.Results[i]
	return r.Build, r.Err
}

// IndicatorOp is one recorded call on MockIndicator.
type IndicatorOp struct {
	Kind     string
	ID       OutputID
	On       bool
	IDs      []OutputID
	Duration time.Duration
}

type MockIndicator struct {
	mu     sync.Mutex
	Ops    []IndicatorOp
	On     map[OutputID]bool
	Err    error
	Closed bool
	Urgent bool
}

func (m *MockIndicator) record(op IndicatorOp) {
	m.Ops = append(m.Ops, op)
	if m.On == nil {
		m.On = make(map[OutputID]bool)
	}
}

func (m *MockIndicator) SetOutput(id OutputID, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(IndicatorOp{Kind: "set", ID: id, On: on})
	m.On[id] = on
	return m.Err
}

func (m *MockIndicator) Buzz(ctx context.Context, id OutputID, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(IndicatorOp{Kind: "buzz", ID: id, Duration: d})
	return m.Err
}

func (m *MockIndicator) AllOff(ids []OutputID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(IndicatorOp{Kind: "off", IDs: append([]OutputID(nil), ids...)})
	for _, id := range ids {
		m.On[id] = false
	}
	return m.Err
}

func (m *MockIndicator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockIndicator) CloseUrgently() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	m.Urgent = true
	return nil
}

// Buzzes returns the durations of every recorded buzz, in order.
func (m *MockIndicator) Buzzes() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Duration
	for _, op := range m.Ops {
		if op.Kind == "buzz" {
			out = append(out, op.Duration)
		}
	}
	return out
}

// IsOn reports the last written level of an output.
func (m *MockIndicator) IsOn(id OutputID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.On[id]
}

// Reset forgets recorded operations but keeps output levels.
func (m *MockIndicator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = nil
}

type MockNotifier struct {
	Messages []Notification
	Err      error
}

func (n *MockNotifier) Notify(ctx context.Context, msg Notification) error {
	n.Messages = append(n.Messages, msg)
	return n.Err
}

type MockCache struct {
	mu        sync.Mutex
	Snapshots []Snapshot
	Forgotten []string
	Err       error
}

func (c *MockCache) Write(ctx context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Snapshots = append(c.Snapshots, s)
	return nil
}

func (c *MockCache) Forget(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Forgotten = append(c.Forgotten, key)
	return c.Err
}

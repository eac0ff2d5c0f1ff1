package provider

import "context"

// MockClient is a test double for Client. Turns holds one scripted event
// batch per call to Stream; once exhausted, Stream replays the last batch.
type MockClient struct {
	StreamFunc func(ctx context.Context, req Request) (<-chan Event, error)
	Turns      [][]Event
	Requests   []Request

	call int
}

func (m *MockClient) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	m.Requests = append(m.Requests, req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}

	batch := []Event{{Type: EventStop}}
	if len(m.Turns) > 0 {
		idx := m.call
		if idx >= len(m.Turns) {
			idx = len(m.Turns) - 1
		}
		batch = m.Turns[idx]
		m.call++
	}

	ch := make(chan Event, len(batch))
	for _, evt := range batch {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

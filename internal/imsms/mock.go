package imsms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockClient is an in-memory Gateway for tests. Calls are recorded; results come from
// the optional *Func hooks or from successful defaults.
type MockClient struct {
	mu sync.Mutex

	LookupCalls []LookupRequest
	SendCalls   []SendRequest
	InfoCalls   []string

	LookupFunc func(LookupRequest) (*LookupResult, error)
	SendFunc   func(SendRequest) (*SendResult, error)
	InfoFunc   func(imsID string) (*InfoResult, error)

	seq int
}

// Compile-time check that MockClient implements Gateway.
var _ Gateway = (*MockClient)(nil)

// NewMockClient returns a MockClient that accepts every request.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	m.mu.Lock()
	m.LookupCalls = append(m.LookupCalls, req)
	m.seq++
	seq := m.seq
	fn := m.LookupFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return &LookupResult{
		RequestID: fmt.Sprintf("req-%d", seq),
		ResultCd:  ResultCodeSuccess,
		Count:     len(req.PhoneNumbers),
	}, nil
}

func (m *MockClient) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	m.mu.Lock()
	m.SendCalls = append(m.SendCalls, req)
	m.seq++
	seq := m.seq
	fn := m.SendFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return &SendResult{
		ResultCd:   ResultCodeSuccess,
		ResultMsg:  "success",
		ImsID:      fmt.Sprintf("ims-%d", seq),
		ImsReqDttm: "20250101120000",
	}, nil
}

func (m *MockClient) Info(ctx context.Context, imsID string) (*InfoResult, error) {
	m.mu.Lock()
	m.InfoCalls = append(m.InfoCalls, imsID)
	fn := m.InfoFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(imsID)
	}
	data, _ := json.Marshal(Delivery{ImsID: imsID, MessageSent: true})
	return &InfoResult{ResultCd: ResultCodeSuccess, ImsData: data}, nil
}

// SendCount returns the number of Send calls so far.
func (m *MockClient) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SendCalls)
}

// InfoCount returns the number of Info calls so far.
func (m *MockClient) InfoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InfoCalls)
}

// LastSend returns the most recent SendRequest, if any.
func (m *MockClient) LastSend() (SendRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SendCalls) == 0 {
		return SendRequest{}, false
	}
	return m.SendCalls[len(m.SendCalls)-1], true
}

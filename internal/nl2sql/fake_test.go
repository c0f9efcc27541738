package nl2sql

import (
	"context"
	"sync"
)

type fakeChatModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []ChatRequest
}

func (f *fakeChatModel) Complete(_ context.Context, req ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeChatModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

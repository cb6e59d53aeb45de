package streamhttp

import "sync"

// StreamLimiter caps concurrently open SSE streams globally and per client.
// A nil limiter admits everything.
type StreamLimiter struct {
	maxGlobal    int
	maxPerClient int

	mu       sync.Mutex
	global   int
	byClient map[string]int
}

func NewStreamLimiter(maxGlobal, maxPerClient int) *StreamLimiter {
	if maxGlobal <= 0 && maxPerClient <= 0 {
		return nil
	}
	return &StreamLimiter{
		maxGlobal:    maxGlobal,
		maxPerClient: maxPerClient,
		byClient:     make(map[string]int),
	}
}

func (l *StreamLimiter) acquire(clientKey string) (func(), bool) {
	if l == nil {
		return func() {}, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.maxGlobal > 0 && l.global >= l.maxGlobal {
		return nil, false
	}
	if l.maxPerClient > 0 && l.byClient[clientKey] >= l.maxPerClient {
		return nil, false
	}
	l.global++
	l.byClient[clientKey]++
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.global > 0 {
				l.global--
			}
			next := l.byClient[clientKey] - 1
			if next <= 0 {
				delete(l.byClient, clientKey)
				return
			}
			l.byClient[clientKey] = next
		})
	}, true
}

package pipeline

import (
	"sync"

	"servis/internal/domain"
)

// sessionKey derives the serialization key for a request. Requests without
// a session id fall into an implicit singleton session per interface and
// user; fully anonymous requests get their own key and run concurrently.
func sessionKey(req *domain.CommandRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	if req.UserID != "" {
		return "anon:" + string(req.Interface) + ":" + req.UserID
	}
	return "req:" + req.ID
}

// sessionLocks serializes dispatch per session key. Workers acquire the
// key's lock in dequeue order, which preserves submission order within a
// session while leaving unrelated sessions concurrent.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until the key is free and returns the release function.
func (s *sessionLocks) acquire(key string) func() {
	s.mu.Lock()
	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	kl.ch <- struct{}{}

	return func() {
		<-kl.ch
		s.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

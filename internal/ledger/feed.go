// Package ledger distributes verified-submission events to in-process subscribers.
package ledger

import (
	"context"
	"sync"

	"github.com/scout-progress/internal/domain"
)

// Notifier announces a newly verified submission
type Notifier interface {
	Notify(ctx context.Context, rec domain.SubmissionRecord) error
}

// Listener is called with every verified submission of the member it subscribed for
type Listener func(rec domain.SubmissionRecord)

type subscription struct {
	id uint64
	fn Listener
}

// Feed fans verified submissions out to per-member listeners.
// Listeners run synchronously on the publishing goroutine.
type Feed struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{subs: make(map[string][]subscription)}
}

// Subscribe registers fn for memberID and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (f *Feed) Subscribe(memberID string, fn Listener) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[memberID] = append(f.subs[memberID], subscription{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(memberID, id) })
	}
}

func (f *Feed) remove(memberID string, id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.subs[memberID]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(f.subs, memberID)
		return
	}
	f.subs[memberID] = subs
}

// Publish delivers rec to every listener registered for its member
func (f *Feed) Publish(rec domain.SubmissionRecord) {
	f.mu.RLock()
	subs := f.subs[rec.MemberID]
	listeners := make([]Listener, len(subs))
	for i, s := range subs {
		listeners[i] = s.fn
	}
	f.mu.RUnlock()

	for _, fn := range listeners {
		fn(rec)
	}
}

// Notify publishes locally, making Feed usable as a single-instance Notifier
func (f *Feed) Notify(_ context.Context, rec domain.SubmissionRecord) error {
	f.Publish(rec)
	return nil
}

// Subscribers returns the number of listeners registered for memberID
func (f *Feed) Subscribers(memberID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[memberID])
}

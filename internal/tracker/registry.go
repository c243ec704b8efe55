package tracker

import (
	"context"
	"sort"
	"sync"

	"nowplaying/internal/metrics"
	"nowplaying/internal/models"
)

// Subscriber receives status snapshots and updates. SendStatus must not block:
// it is called while the registry lock is held.
type Subscriber interface {
	SendStatus(models.Status)
}

type trackedUser struct {
	status      models.Status
	subscribers map[Subscriber]struct{}
}

// Registry is the status cache plus the subscription refcounts. A user is
// tracked exactly while at least one subscriber is attached to it.
type Registry struct {
	fetch Fetcher

	mu       sync.Mutex
	users    map[string]*trackedUser
	sessions map[Subscriber]string
}

func NewRegistry(fetch Fetcher) *Registry {
	return &Registry{
		fetch:    fetch,
		users:    make(map[string]*trackedUser),
		sessions: make(map[Subscriber]string),
	}
}

// Subscribe attaches sub to userID and delivers the current snapshot to it.
// An untracked user is looked up first; the lock is not held while that
// happens.
func (r *Registry) Subscribe(ctx context.Context, sub Subscriber, userID string) (models.Status, error) {
	r.mu.Lock()
	if _, ok := r.sessions[sub]; ok {
		r.mu.Unlock()
		return models.NotPlaying, ErrAlreadySubscribed
	}
	if u, ok := r.users[userID]; ok {
		defer r.mu.Unlock()
		return r.attachLocked(sub, userID, u), nil
	}
	r.mu.Unlock()

	status, err := r.fetch.Status(ctx, userID)
	if err != nil {
		return models.NotPlaying, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sub]; ok {
		return models.NotPlaying, ErrAlreadySubscribed
	}
	u, ok := r.users[userID]
	if !ok {
		// Someone else may have started tracking the user during the fetch;
		// their entry wins so every subscriber sees the same snapshot.
		u = &trackedUser{status: status, subscribers: make(map[Subscriber]struct{})}
		r.users[userID] = u
		metrics.TrackedUsers.Set(float64(len(r.users)))
	}
	return r.attachLocked(sub, userID, u), nil
}

func (r *Registry) attachLocked(sub Subscriber, userID string, u *trackedUser) models.Status {
	u.subscribers[sub] = struct{}{}
	r.sessions[sub] = userID
	sub.SendStatus(u.status)
	return u.status
}

// Unsubscribe detaches sub. The last subscriber leaving drops the user's
// cached status. Unknown subscribers are ignored.
func (r *Registry) Unsubscribe(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.sessions[sub]
	if !ok {
		return
	}
	delete(r.sessions, sub)
	u := r.users[userID]
	delete(u.subscribers, sub)
	if len(u.subscribers) == 0 {
		delete(r.users, userID)
		metrics.TrackedUsers.Set(float64(len(r.users)))
	}
}

// Publish stores status for userID and returns the subscribers that must be
// told about it. Nothing is returned when the user is no longer tracked or
// the status did not change.
func (r *Registry) Publish(userID string, status models.Status) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.status.Equal(status) {
		return nil
	}
	u.status = status
	subs := make([]Subscriber, 0, len(u.subscribers))
	for s := range u.subscribers {
		subs = append(subs, s)
	}
	return subs
}

// Tracked returns the currently tracked user ids, sorted.
func (r *Registry) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the cached status of a tracked user.
func (r *Registry) Snapshot(userID string) (models.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return models.NotPlaying, false
	}
	return u.status, true
}

func (r *Registry) Refcount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		return len(u.subscribers)
	}
	return 0
}

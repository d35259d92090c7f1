// Package ratelimit tracks per-account throttling state for comments,
// reactions and votes. A check never consumes budget; the caller commits
// only after the gated mutation has succeeded, so a rejected mutation leaves
// limiter state untouched.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	CommentCooldown  = 8 * time.Second
	ReactionCooldown = time.Second
	VotesPerMinute   = 20
	VotesPerDay      = 300

	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Limiter keys all state by account id, not by target: a burst across many
// chapters by one account is still throttled globally per action class.
type Limiter struct {
	mu        sync.Mutex
	comments  map[string]*rate.Limiter
	reactions map[string]*rate.Limiter
	votes     map[string][]time.Time
	lastSeen  map[string]time.Time
	done      chan struct{}
}

func New() *Limiter {
	l := &Limiter{
		comments:  make(map[string]*rate.Limiter),
		reactions: make(map[string]*rate.Limiter),
		votes:     make(map[string][]time.Time),
		lastSeen:  make(map[string]time.Time),
		done:      make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) Close() {
	close(l.done)
}

// CheckComment reports whether the account may comment at now. When it may
// not, wait is the remaining cooldown.
func (l *Limiter) CheckComment(accountID string, now time.Time) (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return peek(l.limiterFor(l.comments, accountID, CommentCooldown), now)
}

// CommitComment records a successful comment at now.
func (l *Limiter) CommitComment(accountID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiterFor(l.comments, accountID, CommentCooldown).AllowN(now, 1)
	l.lastSeen[accountID] = now
}

// CheckReaction reports whether the account may react at now.
func (l *Limiter) CheckReaction(accountID string, now time.Time) (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return peek(l.limiterFor(l.reactions, accountID, ReactionCooldown), now)
}

// CommitReaction records a successful reaction at now.
func (l *Limiter) CommitReaction(accountID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiterFor(l.reactions, accountID, ReactionCooldown).AllowN(now, 1)
	l.lastSeen[accountID] = now
}

// CheckVote reports whether the account is under both the per-minute and
// per-day vote ceilings at now. wait is how long until the binding window
// frees a slot; daily tells the caller which ceiling bound.
func (l *Limiter) CheckVote(accountID string, now time.Time) (wait time.Duration, daily, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.votes[accountID]
	minuteCount, oldestInMinute := countSince(stamps, now.Add(-minuteWindow))
	dayCount, oldestInDay := countSince(stamps, now.Add(-dayWindow))

	if dayCount >= VotesPerDay {
		return oldestInDay.Add(dayWindow).Sub(now), true, false
	}
	if minuteCount >= VotesPerMinute {
		return oldestInMinute.Add(minuteWindow).Sub(now), false, false
	}
	return 0, false, true
}

// CommitVote appends a successful vote at now and prunes entries older than
// the 24h window so the history stays bounded.
func (l *Limiter) CommitVote(accountID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-dayWindow)
	kept := l.votes[accountID][:0]
	for _, stamp := range l.votes[accountID] {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	l.votes[accountID] = append(kept, now)
	l.lastSeen[accountID] = now
}

func (l *Limiter) limiterFor(m map[string]*rate.Limiter, accountID string, cooldown time.Duration) *rate.Limiter {
	lim, exists := m[accountID]
	if !exists {
		lim = rate.NewLimiter(rate.Every(cooldown), 1)
		m[accountID] = lim
	}
	return lim
}

// peek reads the remaining cooldown without consuming a token: it reserves a
// slot, inspects its delay, and cancels the reservation at the same instant.
func peek(lim *rate.Limiter, now time.Time) (time.Duration, bool) {
	r := lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay > 0 {
		return delay, false
	}
	return 0, true
}

func countSince(stamps []time.Time, cutoff time.Time) (int, time.Time) {
	count := 0
	var oldest time.Time
	for _, stamp := range stamps {
		if stamp.After(cutoff) {
			if count == 0 {
				oldest = stamp
			}
			count++
		}
	}
	return count, oldest
}

// cleanup periodically evicts accounts idle for longer than the day window.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-dayWindow)
			for id, seen := range l.lastSeen {
				if seen.Before(cutoff) {
					delete(l.comments, id)
					delete(l.reactions, id)
					delete(l.votes, id)
					delete(l.lastSeen, id)
				}
			}
			l.mu.Unlock()
		}
	}
}

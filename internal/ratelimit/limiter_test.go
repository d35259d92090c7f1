package ratelimit

import (
	"testing"
	"time"
)

func TestCommentCooldown(t *testing.T) {
	l := New()
	defer l.Close()
	now := time.Now()

	if _, ok := l.CheckComment("acct_1", now); !ok {
		t.Fatal("first comment should be allowed")
	}
	l.CommitComment("acct_1", now)

	wait, ok := l.CheckComment("acct_1", now.Add(2*time.Second))
	if ok {
		t.Fatal("comment inside cooldown should be blocked")
	}
	if wait <= 0 || wait > CommentCooldown {
		t.Errorf("unexpected remaining wait %v", wait)
	}

	if _, ok := l.CheckComment("acct_1", now.Add(CommentCooldown)); !ok {
		t.Error("comment after cooldown should be allowed")
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	l := New()
	defer l.Close()
	now := time.Now()

	// Repeated checks without a commit must all pass.
	for i := 0; i < 5; i++ {
		if _, ok := l.CheckReaction("acct_1", now); !ok {
			t.Fatalf("check %d should be allowed without commits", i)
		}
	}
}

func TestReactionCooldownIsPerAccount(t *testing.T) {
	l := New()
	defer l.Close()
	now := time.Now()

	l.CommitReaction("acct_1", now)
	if _, ok := l.CheckReaction("acct_1", now.Add(500*time.Millisecond)); ok {
		t.Error("acct_1 should be in cooldown")
	}
	if _, ok := l.CheckReaction("acct_2", now.Add(500*time.Millisecond)); !ok {
		t.Error("acct_2 should be unaffected")
	}
}

func TestVoteMinuteCeiling(t *testing.T) {
	l := New()
	defer l.Close()
	now := time.Now()

	for i := 0; i < VotesPerMinute; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		if _, _, ok := l.CheckVote("acct_1", at); !ok {
			t.Fatalf("vote %d should be allowed", i)
		}
		l.CommitVote("acct_1", at)
	}

	at := now.Add(time.Duration(VotesPerMinute) * time.Second)
	wait, daily, ok := l.CheckVote("acct_1", at)
	if ok {
		t.Fatal("vote over the minute ceiling should be blocked")
	}
	if wait <= 0 {
		t.Errorf("expected positive wait, got %v", wait)
	}
	if daily {
		t.Error("minute ceiling should bind before the day ceiling")
	}

	// Once the oldest stamp leaves the 60s window a slot frees up.
	if _, _, ok := l.CheckVote("acct_1", now.Add(minuteWindow+time.Second)); !ok {
		t.Error("vote should be allowed after the window slides")
	}
}

func TestVoteDayCeilingAndPruning(t *testing.T) {
	l := New()
	defer l.Close()
	now := time.Now()

	// Spread votes so the minute ceiling never binds.
	for i := 0; i < VotesPerDay; i++ {
		at := now.Add(time.Duration(i) * 4 * time.Second)
		l.CommitVote("acct_1", at)
	}
	last := now.Add(time.Duration(VotesPerDay-1) * 4 * time.Second)

	_, daily, ok := l.CheckVote("acct_1", last.Add(2*time.Minute))
	if ok {
		t.Fatal("vote over the day ceiling should be blocked")
	}
	if !daily {
		t.Error("day ceiling should be reported as the binding window")
	}

	// After the full window passes, history is pruned on the next commit and
	// voting resumes.
	later := now.Add(dayWindow + time.Duration(VotesPerDay)*4*time.Second)
	if _, _, ok := l.CheckVote("acct_1", later); !ok {
		t.Fatal("vote should be allowed after the day window slides")
	}
	l.CommitVote("acct_1", later)

	l.mu.Lock()
	n := len(l.votes["acct_1"])
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("expected history pruned to 1 entry, got %d", n)
	}
}

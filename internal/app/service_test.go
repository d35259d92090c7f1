package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"panelboard/internal/auth"
	"panelboard/internal/config"
	"panelboard/internal/ratelimit"
	"panelboard/internal/session"
	"panelboard/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *fakeClock) {
	t.Helper()
	cfg := config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  30 * 24 * time.Hour,
	}
	memory := store.NewMemoryStore()
	limiter := ratelimit.New()
	t.Cleanup(limiter.Close)
	svc := New(cfg, memory, session.NewMemoryStore(), limiter, nil)
	clk := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	svc.now = clk.Now
	return svc, memory, clk
}

func mustLogin(t *testing.T, svc *Service, provider, providerID, handle string) Session {
	t.Helper()
	sess, err := svc.LoginWithProvider(context.Background(), provider, providerID, handle, "")
	if err != nil {
		t.Fatalf("login %s/%s: %v", provider, providerID, err)
	}
	return sess
}

func wantDomainError(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("want %s domain error, got %v", code, err)
	}
	if domainErr.Code != code {
		t.Fatalf("want code %s, got %s (%s)", code, domainErr.Code, domainErr.Message)
	}
	return domainErr
}

func TestLoginCreatesAccountOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first := mustLogin(t, svc, "github", "gh-1", "inkwell")
	second := mustLogin(t, svc, "github", "gh-1", "inkwell")
	if first.AccountID != second.AccountID {
		t.Fatalf("same provider identity produced two accounts: %s vs %s", first.AccountID, second.AccountID)
	}

	account, err := svc.Account(ctx, first.AccountID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Handle != "inkwell" {
		t.Fatalf("handle = %q, want inkwell", account.Handle)
	}
}

func TestLoginDisambiguatesTakenHandle(t *testing.T) {
	svc, _, _ := newTestService(t)

	mustLogin(t, svc, "github", "gh-1", "inkwell")
	other := mustLogin(t, svc, "google", "goog-2", "inkwell")

	if other.Handle != "inkwell_2" {
		t.Fatalf("handle = %q, want inkwell_2", other.Handle)
	}
}

func TestLoginDefaultsEmptyHandle(t *testing.T) {
	svc, _, _ := newTestService(t)

	sess := mustLogin(t, svc, "github", "gh-9", "   ")
	if sess.Handle != "github_reader" {
		t.Fatalf("handle = %q, want github_reader", sess.Handle)
	}
}

func TestRefreshRotatesAndRevokes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sess := mustLogin(t, svc, "github", "gh-1", "inkwell")
	rotated, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == sess.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Fatal("spent refresh token was accepted")
	}
}

func TestSuspendedAccountIsBlocked(t *testing.T) {
	svc, memory, _ := newTestService(t)
	ctx := context.Background()

	sess := mustLogin(t, svc, "github", "gh-1", "inkwell")
	memory.SetSuspended(sess.AccountID, true)

	bio := "hello"
	_, err := svc.UpdateProfile(ctx, sess.AccountID, ProfilePatch{Bio: &bio})
	wantDomainError(t, err, "SUSPENDED")

	if _, err := svc.SessionFromToken(ctx, sess.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("suspended session lookup: %v, want ErrInvalidToken", err)
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Fatal("suspended account refreshed a session")
	}
}

func TestUnauthenticatedBeforeSuspended(t *testing.T) {
	svc, _, _ := newTestService(t)

	bio := "hello"
	_, err := svc.UpdateProfile(context.Background(), "", ProfilePatch{Bio: &bio})
	wantDomainError(t, err, "UNAUTHENTICATED")

	_, err = svc.UpdateProfile(context.Background(), "acc_missing", ProfilePatch{Bio: &bio})
	wantDomainError(t, err, "UNAUTHENTICATED")
}

func TestUpdateProfileRejectsTakenHandle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	mustLogin(t, svc, "github", "gh-1", "inkwell")
	other := mustLogin(t, svc, "google", "goog-2", "brushpen")

	taken := "inkwell"
	_, err := svc.UpdateProfile(ctx, other.AccountID, ProfilePatch{Username: &taken})
	wantDomainError(t, err, "VALIDATION")

	fresh := "brushpen2"
	updated, err := svc.UpdateProfile(ctx, other.AccountID, ProfilePatch{Username: &fresh})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if updated.Handle != "brushpen2" {
		t.Fatalf("handle = %q, want brushpen2", updated.Handle)
	}
}

func TestFollowIsIdempotentAndSelfFollowRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	reader := mustLogin(t, svc, "google", "goog-2", "reader")
	if _, err := svc.CreateSeries(ctx, creator.AccountID, SeriesInput{Title: "Ink Trails", ReadingMode: "SCROLL"}); err != nil {
		t.Fatalf("create series: %v", err)
	}

	if err := svc.FollowCreator(ctx, reader.AccountID, creator.AccountID); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := svc.FollowCreator(ctx, reader.AccountID, creator.AccountID); err != nil {
		t.Fatalf("repeat follow: %v", err)
	}

	err := svc.FollowCreator(ctx, creator.AccountID, creator.AccountID)
	wantDomainError(t, err, "VALIDATION")

	err = svc.FollowCreator(ctx, reader.AccountID, reader.AccountID+"_nope")
	wantDomainError(t, err, "NOT_FOUND")

	following, err := svc.IsFollowing(ctx, reader.AccountID, creator.AccountID)
	if err != nil || !following {
		t.Fatalf("is following = %v, %v", following, err)
	}
	if err := svc.UnfollowCreator(ctx, reader.AccountID, creator.AccountID); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	following, _ = svc.IsFollowing(ctx, reader.AccountID, creator.AccountID)
	if following {
		t.Fatal("still following after unfollow")
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	svc, memory, _ := newTestService(t)
	ctx := context.Background()

	reader := mustLogin(t, svc, "google", "goog-2", "reader")
	for i := 0; i < 3; i++ {
		err := memory.InsertNotification(ctx, store.Notification{
			ID:        "ntf_" + string(rune('a'+i)),
			AccountID: reader.AccountID,
			Type:      "FOLLOWED_CREATOR_NEW_CHAPTER",
		})
		if err != nil {
			t.Fatalf("seed notification: %v", err)
		}
	}

	updated, err := svc.MarkAllNotificationsRead(ctx, reader.AccountID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if updated != 3 {
		t.Fatalf("updated = %d, want 3", updated)
	}
	updated, _ = svc.MarkAllNotificationsRead(ctx, reader.AccountID)
	if updated != 0 {
		t.Fatalf("second pass updated = %d, want 0", updated)
	}
}

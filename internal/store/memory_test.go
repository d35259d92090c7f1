package store

import (
	"context"
	"testing"
	"time"
)

func seedChapter(t *testing.T, s *MemoryStore, status string, pageCount int) Chapter {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := Chapter{
		ID: "ch_1", SeriesID: "ser_1", CreatorID: "acc_creator",
		ChapterNumber: 1, Title: "First", Status: status,
		PageCount: pageCount, CreatedAt: now, UpdatedAt: now,
	}
	if status == "PUBLISHED" {
		c.PublishedAt = &now
	}
	if err := s.InsertChapter(ctx, c); err != nil {
		t.Fatalf("insert chapter: %v", err)
	}
	return c
}

func TestAppendPageGuards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedChapter(t, s, "DRAFT", 0)
	now := time.Now().UTC()

	page, changed, err := s.AppendPage(ctx, "ch_1", "pg_1", "assets/1.png", 2, now)
	if err != nil || !changed {
		t.Fatalf("append: changed=%v err=%v", changed, err)
	}
	if page.PageNumber != 1 {
		t.Fatalf("page number = %d, want 1", page.PageNumber)
	}

	if _, changed, _ := s.AppendPage(ctx, "ch_1", "pg_2", "assets/2.png", 2, now); !changed {
		t.Fatal("second append should succeed")
	}
	if _, changed, _ := s.AppendPage(ctx, "ch_1", "pg_3", "assets/3.png", 2, now); changed {
		t.Fatal("append past the limit should report no change")
	}

	chapter, err := s.GetChapter(ctx, "ch_1")
	if err != nil {
		t.Fatalf("get chapter: %v", err)
	}
	if chapter.PageCount != 2 {
		t.Fatalf("page count = %d, want 2", chapter.PageCount)
	}
}

func TestReorderPagesIsFullPermutation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedChapter(t, s, "DRAFT", 0)
	now := time.Now().UTC()
	for _, id := range []string{"pg_a", "pg_b", "pg_c"} {
		if _, changed, err := s.AppendPage(ctx, "ch_1", id, "assets/"+id+".png", 80, now); err != nil || !changed {
			t.Fatalf("append %s: changed=%v err=%v", id, changed, err)
		}
	}

	if changed, _ := s.ReorderPages(ctx, "ch_1", []string{"pg_c", "pg_a"}, now); changed {
		t.Fatal("partial order should report no change")
	}
	if changed, _ := s.ReorderPages(ctx, "ch_1", []string{"pg_c", "pg_a", "pg_x"}, now); changed {
		t.Fatal("foreign page should report no change")
	}

	changed, err := s.ReorderPages(ctx, "ch_1", []string{"pg_c", "pg_a", "pg_b"}, now)
	if err != nil || !changed {
		t.Fatalf("reorder: changed=%v err=%v", changed, err)
	}
	pages, _ := s.ListPages(ctx, "ch_1")
	got := []string{pages[0].ID, pages[1].ID, pages[2].ID}
	want := []string{"pg_c", "pg_a", "pg_b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUnpublishBlockedByEngagement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedChapter(t, s, "PUBLISHED", 3)
	now := time.Now().UTC()

	inserted, err := s.InsertComment(ctx, Comment{
		ID: "cm_1", ChapterID: "ch_1", SeriesID: "ser_1", PageNumber: 1,
		AuthorID: "acc_reader", Body: "nice", CreatedAt: now,
	})
	if err != nil || !inserted {
		t.Fatalf("insert comment: inserted=%v err=%v", inserted, err)
	}
	if _, err := s.SoftDeleteComment(ctx, "cm_1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	// The deleted comment still counts as engagement.
	if changed, _ := s.UnpublishChapter(ctx, "ch_1", now); changed {
		t.Fatal("unpublish should be blocked by the deleted comment")
	}
	chapter, _ := s.GetChapter(ctx, "ch_1")
	if chapter.Status != "PUBLISHED" {
		t.Fatalf("status = %s, want PUBLISHED", chapter.Status)
	}
}

func TestApplyCommentVoteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedChapter(t, s, "PUBLISHED", 1)
	now := time.Now().UTC()
	if inserted, err := s.InsertComment(ctx, Comment{
		ID: "cm_1", ChapterID: "ch_1", SeriesID: "ser_1", PageNumber: 1,
		AuthorID: "acc_reader", Body: "hot take", CreatedAt: now,
	}); err != nil || !inserted {
		t.Fatalf("insert comment: inserted=%v err=%v", inserted, err)
	}

	c, changed, err := s.ApplyCommentVote(ctx, "cv_1", "cm_1", "acc_voter", 1, now)
	if err != nil || !changed {
		t.Fatalf("first vote: changed=%v err=%v", changed, err)
	}
	if c.Score != 1 || c.Upvotes != 1 {
		t.Fatalf("score=%d upvotes=%d after first vote", c.Score, c.Upvotes)
	}

	c, changed, err = s.ApplyCommentVote(ctx, "cv_2", "cm_1", "acc_voter", 1, now)
	if err != nil || changed {
		t.Fatalf("repeat vote: changed=%v err=%v", changed, err)
	}
	if c.Score != 1 {
		t.Fatalf("score=%d after repeat vote, want 1", c.Score)
	}

	// Flipping moves the score by two.
	c, changed, err = s.ApplyCommentVote(ctx, "cv_3", "cm_1", "acc_voter", -1, now)
	if err != nil || !changed {
		t.Fatalf("flip vote: changed=%v err=%v", changed, err)
	}
	if c.Score != -1 || c.Upvotes != 0 || c.Downvotes != 1 {
		t.Fatalf("score=%d up=%d down=%d after flip", c.Score, c.Upvotes, c.Downvotes)
	}
}

func TestInsertFollowIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	f := Follow{ID: "fl_1", FollowerID: "acc_a", CreatorID: "acc_b", CreatedAt: now}

	if changed, _ := s.InsertFollow(ctx, f); !changed {
		t.Fatal("first follow should insert")
	}
	if changed, _ := s.InsertFollow(ctx, Follow{ID: "fl_2", FollowerID: "acc_a", CreatorID: "acc_b", CreatedAt: now}); changed {
		t.Fatal("repeat follow should be a no-op")
	}
	count, _ := s.FollowerCount(ctx, "acc_b")
	if count != 1 {
		t.Fatalf("follower count = %d, want 1", count)
	}
}

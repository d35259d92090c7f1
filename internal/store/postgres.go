package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore implements the engine's store contract. Every mutation is a
// single statement or a single transaction so read-check-write stays atomic
// per entity group; conditional mutations report (changed, err) and leave the
// caller to map a false result to the precise failure.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- accounts ---

const accountColumns = `id, provider, provider_id, handle, avatar_url, bio, is_creator, is_suspended, reputation_score, created_at, last_active_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Provider, &a.ProviderID, &a.Handle, &a.AvatarURL, &a.Bio,
		&a.IsCreator, &a.IsSuspended, &a.ReputationScore, &a.CreatedAt, &a.LastActiveAt)
	return a, err
}

func (s *PostgresStore) EnsureAccountByProvider(ctx context.Context, id, provider, providerID, handle, avatarURL string, at time.Time) (Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider=$1 AND provider_id=$2`,
		provider, providerID))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("lookup account: %w", err)
	}

	account, err = scanAccount(s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, provider, provider_id, handle, avatar_url, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+accountColumns,
		id, provider, providerID, handle, avatarURL, at))
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, err
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) GetAccounts(ctx context.Context, ids []string) (map[string]Account, error) {
	accounts := make(map[string]Account, len(ids))
	if len(ids) == 0 {
		return accounts, nil
	}
	idsJSON, _ := json.Marshal(ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))`,
		string(idsJSON))
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts[account.ID] = account
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) HandleTaken(ctx context.Context, handle, excludeID string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE handle=$1 AND id<>$2)`,
		handle, excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check handle: %w", err)
	}
	return taken, nil
}

func (s *PostgresStore) UpdateAccountProfile(ctx context.Context, id string, handle, bio, avatarURL *string, at time.Time) (Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, `
		UPDATE accounts SET
			handle = COALESCE($2, handle),
			bio = COALESCE($3, bio),
			avatar_url = COALESCE($4, avatar_url),
			last_active_at = $5
		WHERE id=$1
		RETURNING `+accountColumns,
		id, handle, bio, avatarURL, at))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, err
	}
	if err != nil {
		return Account{}, fmt.Errorf("update profile: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) TouchAccount(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_active_at=$2 WHERE id=$1`, id, at); err != nil {
		return fmt.Errorf("touch account: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCreators(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE is_creator=TRUE`)
	if err != nil {
		return nil, fmt.Errorf("list creators: %w", err)
	}
	defer rows.Close()
	var result []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, account)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SetCreatorFlag(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET is_creator=TRUE WHERE id=$1`, id); err != nil {
		return fmt.Errorf("set creator flag: %w", err)
	}
	return nil
}

// --- series ---

const seriesColumns = `id, creator_id, title, description, tags, language, is_mature, content_warnings, cover_image_ref, reading_mode, reading_direction, status, average_rating, rating_count, created_at, updated_at`

func scanSeries(row interface{ Scan(...any) error }) (Series, error) {
	var sr Series
	var tagsJSON, warningsJSON []byte
	err := row.Scan(&sr.ID, &sr.CreatorID, &sr.Title, &sr.Description, &tagsJSON, &sr.Language,
		&sr.IsMature, &warningsJSON, &sr.CoverImageRef, &sr.ReadingMode, &sr.ReadingDirection,
		&sr.Status, &sr.AverageRating, &sr.RatingCount, &sr.CreatedAt, &sr.UpdatedAt)
	if err != nil {
		return Series{}, err
	}
	if err := json.Unmarshal(tagsJSON, &sr.Tags); err != nil {
		return Series{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(warningsJSON, &sr.ContentWarnings); err != nil {
		return Series{}, fmt.Errorf("decode content warnings: %w", err)
	}
	return sr, nil
}

func (s *PostgresStore) InsertSeries(ctx context.Context, sr Series) error {
	tagsJSON, _ := json.Marshal(emptyIfNil(sr.Tags))
	warningsJSON, _ := json.Marshal(emptyIfNil(sr.ContentWarnings))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO series (id, creator_id, title, description, tags, language, is_mature, content_warnings,
			cover_image_ref, reading_mode, reading_direction, status, average_rating, rating_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		sr.ID, sr.CreatorID, sr.Title, sr.Description, string(tagsJSON), sr.Language, sr.IsMature, string(warningsJSON),
		sr.CoverImageRef, sr.ReadingMode, sr.ReadingDirection, sr.Status, sr.AverageRating, sr.RatingCount, sr.CreatedAt, sr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert series: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSeries(ctx context.Context, id string) (Series, error) {
	sr, err := scanSeries(s.db.QueryRowContext(ctx, `SELECT `+seriesColumns+` FROM series WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Series{}, err
	}
	if err != nil {
		return Series{}, fmt.Errorf("get series: %w", err)
	}
	return sr, nil
}

func (s *PostgresStore) UpdateSeries(ctx context.Context, sr Series) error {
	tagsJSON, _ := json.Marshal(emptyIfNil(sr.Tags))
	warningsJSON, _ := json.Marshal(emptyIfNil(sr.ContentWarnings))
	_, err := s.db.ExecContext(ctx, `
		UPDATE series SET title=$2, description=$3, tags=$4, language=$5, is_mature=$6, content_warnings=$7,
			cover_image_ref=$8, reading_mode=$9, reading_direction=$10, status=$11, updated_at=$12
		WHERE id=$1`,
		sr.ID, sr.Title, sr.Description, string(tagsJSON), sr.Language, sr.IsMature, string(warningsJSON),
		sr.CoverImageRef, sr.ReadingMode, sr.ReadingDirection, sr.Status, sr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update series: %w", err)
	}
	return nil
}

func (s *PostgresStore) listSeriesQuery(ctx context.Context, query string, args ...any) ([]Series, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()
	var result []Series
	for rows.Next() {
		sr, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		result = append(result, sr)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListSeries(ctx context.Context) ([]Series, error) {
	return s.listSeriesQuery(ctx, `SELECT `+seriesColumns+` FROM series ORDER BY updated_at DESC`)
}

func (s *PostgresStore) ListSeriesByCreator(ctx context.Context, creatorID string) ([]Series, error) {
	return s.listSeriesQuery(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE creator_id=$1 ORDER BY updated_at DESC`, creatorID)
}

// --- chapters ---

const chapterColumns = `id, series_id, creator_id, chapter_number, title, notes, status, published_at, page_count, comment_count, reaction_count, view_count, created_at, updated_at`

func scanChapter(row interface{ Scan(...any) error }) (Chapter, error) {
	var c Chapter
	err := row.Scan(&c.ID, &c.SeriesID, &c.CreatorID, &c.ChapterNumber, &c.Title, &c.Notes,
		&c.Status, &c.PublishedAt, &c.PageCount, &c.CommentCount, &c.ReactionCount, &c.ViewCount,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) InsertChapter(ctx context.Context, c Chapter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapters (id, series_id, creator_id, chapter_number, title, notes, status, published_at,
			page_count, comment_count, reaction_count, view_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.SeriesID, c.CreatorID, c.ChapterNumber, c.Title, c.Notes, c.Status, c.PublishedAt,
		c.PageCount, c.CommentCount, c.ReactionCount, c.ViewCount, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chapter: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChapter(ctx context.Context, id string) (Chapter, error) {
	c, err := scanChapter(s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, err
	}
	if err != nil {
		return Chapter{}, fmt.Errorf("get chapter: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) listChaptersQuery(ctx context.Context, query string, args ...any) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()
	var result []Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListChaptersBySeries(ctx context.Context, seriesID string) ([]Chapter, error) {
	return s.listChaptersQuery(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE series_id=$1 ORDER BY chapter_number DESC`, seriesID)
}

func (s *PostgresStore) ListChaptersByCreator(ctx context.Context, creatorID, status string) ([]Chapter, error) {
	return s.listChaptersQuery(ctx, `
		SELECT `+chapterColumns+` FROM chapters WHERE creator_id=$1 AND status=$2
		ORDER BY COALESCE(published_at, updated_at) DESC`, creatorID, status)
}

func (s *PostgresStore) ListPublishedChapters(ctx context.Context) ([]Chapter, error) {
	return s.listChaptersQuery(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE status='PUBLISHED' ORDER BY published_at DESC`)
}

// AppendPage inserts the next page slot while the chapter is a draft and under
// the page limit; the guards live inside the statement so the append and the
// counter bump are one atomic unit.
func (s *PostgresStore) AppendPage(ctx context.Context, chapterID, pageID, imageRef string, maxPages int, at time.Time) (Page, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Page{}, false, fmt.Errorf("begin append page: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var page Page
	err = tx.QueryRowContext(ctx, `
		UPDATE chapters SET page_count = page_count + 1, updated_at = $2
		WHERE id=$1 AND status='DRAFT' AND page_count < $3
		RETURNING series_id, page_count`,
		chapterID, at, maxPages).Scan(&page.SeriesID, &page.PageNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, false, nil
	}
	if err != nil {
		return Page{}, false, fmt.Errorf("bump page count: %w", err)
	}

	page.ID = pageID
	page.ChapterID = chapterID
	page.ImageRef = imageRef
	page.CreatedAt = at
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pages (id, chapter_id, series_id, page_number, image_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		page.ID, page.ChapterID, page.SeriesID, page.PageNumber, page.ImageRef, page.CreatedAt); err != nil {
		return Page{}, false, fmt.Errorf("insert page: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Page{}, false, fmt.Errorf("commit append page: %w", err)
	}
	return page, true, nil
}

func (s *PostgresStore) ListPages(ctx context.Context, chapterID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chapter_id, series_id, page_number, image_ref, created_at
		FROM pages WHERE chapter_id=$1 ORDER BY page_number`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	var result []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.ChapterID, &p.SeriesID, &p.PageNumber, &p.ImageRef, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// ReorderPages reassigns sequence numbers 1..N following orderedIDs. The
// chapter must still be a draft and orderedIDs must cover its pages exactly;
// verified inside the transaction so a concurrent publish cannot interleave.
func (s *PostgresStore) ReorderPages(ctx context.Context, chapterID string, orderedIDs []string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reorder: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pageCount int
	err = tx.QueryRowContext(ctx,
		`SELECT page_count FROM chapters WHERE id=$1 AND status='DRAFT' FOR UPDATE`,
		chapterID).Scan(&pageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock chapter: %w", err)
	}
	if pageCount != len(orderedIDs) {
		return false, nil
	}

	for index, pageID := range orderedIDs {
		result, err := tx.ExecContext(ctx,
			`UPDATE pages SET page_number=$3 WHERE id=$1 AND chapter_id=$2`,
			pageID, chapterID, index+1)
		if err != nil {
			return false, fmt.Errorf("renumber page: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("renumber page: %w", err)
		}
		if affected == 0 {
			return false, nil
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chapters SET updated_at=$2 WHERE id=$1`, chapterID, at); err != nil {
		return false, fmt.Errorf("touch chapter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reorder: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) PublishChapter(ctx context.Context, chapterID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chapters SET status='PUBLISHED', published_at=$2, updated_at=$2
		WHERE id=$1 AND status='DRAFT' AND page_count > 0`,
		chapterID, at)
	if err != nil {
		return false, fmt.Errorf("publish chapter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("publish chapter: %w", err)
	}
	return affected > 0, nil
}

// UnpublishChapter reverts to draft only when no engagement exists; a chapter
// that ever drew a comment or reaction stays published.
func (s *PostgresStore) UnpublishChapter(ctx context.Context, chapterID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chapters SET status='DRAFT', published_at=NULL, updated_at=$2
		WHERE id=$1 AND status='PUBLISHED'
		AND NOT EXISTS (SELECT 1 FROM comments WHERE chapter_id=$1)
		AND NOT EXISTS (SELECT 1 FROM reactions WHERE chapter_id=$1)`,
		chapterID, at)
	if err != nil {
		return false, fmt.Errorf("unpublish chapter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unpublish chapter: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ChapterHasEngagement(ctx context.Context, chapterID string) (bool, error) {
	var has bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM comments WHERE chapter_id=$1)
		    OR EXISTS(SELECT 1 FROM reactions WHERE chapter_id=$1)`,
		chapterID).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("check engagement: %w", err)
	}
	return has, nil
}

// ReplacePageImage swaps only the asset reference of an existing slot on a
// published chapter.
func (s *PostgresStore) ReplacePageImage(ctx context.Context, chapterID string, pageNumber int, imageRef string, at time.Time) (Page, bool, error) {
	var p Page
	err := s.db.QueryRowContext(ctx, `
		UPDATE pages SET image_ref=$3
		WHERE chapter_id=$1 AND page_number=$2
		AND EXISTS (SELECT 1 FROM chapters WHERE id=$1 AND status='PUBLISHED')
		RETURNING id, chapter_id, series_id, page_number, image_ref, created_at`,
		chapterID, pageNumber, imageRef).Scan(&p.ID, &p.ChapterID, &p.SeriesID, &p.PageNumber, &p.ImageRef, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, false, nil
	}
	if err != nil {
		return Page{}, false, fmt.Errorf("replace page image: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chapters SET updated_at=$2 WHERE id=$1`, chapterID, at); err != nil {
		return Page{}, false, fmt.Errorf("touch chapter: %w", err)
	}
	return p, true, nil
}

func (s *PostgresStore) IncrementChapterViews(ctx context.Context, chapterID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chapters SET view_count = view_count + 1 WHERE id=$1`, chapterID)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- comments ---

const commentColumns = `id, chapter_id, series_id, page_number, author_id, parent_id, body, is_deleted, is_pinned, upvotes, downvotes, score, created_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.ChapterID, &c.SeriesID, &c.PageNumber, &c.AuthorID, &c.ParentID,
		&c.Body, &c.IsDeleted, &c.IsPinned, &c.Upvotes, &c.Downvotes, &c.Score, &c.CreatedAt)
	return c, err
}

// InsertComment creates the comment and bumps the chapter's comment counter in
// one transaction, guarded on the chapter still being published.
func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin insert comment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE chapters SET comment_count = comment_count + 1
		WHERE id=$1 AND status='PUBLISHED'`, c.ChapterID)
	if err != nil {
		return false, fmt.Errorf("bump comment count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bump comment count: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (id, chapter_id, series_id, page_number, author_id, parent_id, body,
			is_deleted, is_pinned, upvotes, downvotes, score, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.ChapterID, c.SeriesID, c.PageNumber, c.AuthorID, c.ParentID, c.Body,
		c.IsDeleted, c.IsPinned, c.Upvotes, c.Downvotes, c.Score, c.CreatedAt); err != nil {
		return false, fmt.Errorf("insert comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit insert comment: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, err
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListPageComments(ctx context.Context, chapterID string, pageNumber int) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments
		WHERE chapter_id=$1 AND page_number=$2 ORDER BY created_at`, chapterID, pageNumber)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	var result []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SoftDeleteComment(ctx context.Context, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE comments SET is_deleted=TRUE WHERE id=$1 AND is_deleted=FALSE`, commentID)
	if err != nil {
		return false, fmt.Errorf("soft delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete comment: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetCommentPinned(ctx context.Context, commentID string, pinned bool) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE comments SET is_pinned=$2 WHERE id=$1 AND is_deleted=FALSE`, commentID, pinned)
	if err != nil {
		return false, fmt.Errorf("pin comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pin comment: %w", err)
	}
	return affected > 0, nil
}

// ApplyCommentVote upserts the (voter, comment) vote and moves the tallies in
// the same transaction. changed=false means the voter already held this value,
// which is a no-op.
func (s *PostgresStore) ApplyCommentVote(ctx context.Context, voteID, commentID, voterID string, value int, at time.Time) (Comment, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comment{}, false, fmt.Errorf("begin vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM comment_votes WHERE comment_id=$1 AND voter_id=$2 FOR UPDATE`,
		commentID, voterID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Comment{}, false, fmt.Errorf("read vote: %w", err)
	}

	if previous.Valid && int(previous.Int64) == value {
		comment, err := scanComment(tx.QueryRowContext(ctx,
			`SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID))
		if err != nil {
			return Comment{}, false, fmt.Errorf("reread comment: %w", err)
		}
		return comment, false, tx.Commit()
	}

	if previous.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE comment_votes SET value=$3, created_at=$4 WHERE comment_id=$1 AND voter_id=$2`,
			commentID, voterID, value, at); err != nil {
			return Comment{}, false, fmt.Errorf("update vote: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comment_votes (id, comment_id, voter_id, value, created_at)
			VALUES ($1,$2,$3,$4,$5)`,
			voteID, commentID, voterID, value, at); err != nil {
			return Comment{}, false, fmt.Errorf("insert vote: %w", err)
		}
	}

	oldUp, oldDown := 0, 0
	if previous.Valid {
		if previous.Int64 == 1 {
			oldUp = 1
		} else {
			oldDown = 1
		}
	}
	newUp, newDown := 0, 0
	if value == 1 {
		newUp = 1
	} else {
		newDown = 1
	}

	comment, err := scanComment(tx.QueryRowContext(ctx, `
		UPDATE comments SET
			upvotes = upvotes - $2 + $3,
			downvotes = downvotes - $4 + $5,
			score = (upvotes - $2 + $3) - (downvotes - $4 + $5)
		WHERE id=$1
		RETURNING `+commentColumns,
		commentID, oldUp, newUp, oldDown, newDown))
	if err != nil {
		return Comment{}, false, fmt.Errorf("move tallies: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Comment{}, false, fmt.Errorf("commit vote: %w", err)
	}
	return comment, true, nil
}

// --- reactions ---

// InsertReaction appends the reaction and bumps the chapter counter, guarded
// on the chapter still being published. Reactions are never deduplicated.
func (s *PostgresStore) InsertReaction(ctx context.Context, r Reaction) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin insert reaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE chapters SET reaction_count = reaction_count + 1
		WHERE id=$1 AND status='PUBLISHED'`, r.ChapterID)
	if err != nil {
		return false, fmt.Errorf("bump reaction count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bump reaction count: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reactions (id, chapter_id, series_id, page_number, account_id, emoji, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.ChapterID, r.SeriesID, r.PageNumber, r.AccountID, r.Emoji, r.CreatedAt); err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit insert reaction: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListPageReactions(ctx context.Context, chapterID string, pageNumber int) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chapter_id, series_id, page_number, account_id, emoji, created_at
		FROM reactions WHERE chapter_id=$1 AND page_number=$2 ORDER BY created_at DESC`,
		chapterID, pageNumber)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()
	var result []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.ChapterID, &r.SeriesID, &r.PageNumber, &r.AccountID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- follows ---

func (s *PostgresStore) InsertFollow(ctx context.Context, f Follow) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO follows (id, follower_id, creator_id, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (follower_id, creator_id) DO NOTHING`,
		f.ID, f.FollowerID, f.CreatorID, f.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert follow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert follow: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteFollow(ctx context.Context, followerID, creatorID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id=$1 AND creator_id=$2`, followerID, creatorID); err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsFollowing(ctx context.Context, followerID, creatorID string) (bool, error) {
	var following bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id=$1 AND creator_id=$2)`,
		followerID, creatorID).Scan(&following)
	if err != nil {
		return false, fmt.Errorf("check follow: %w", err)
	}
	return following, nil
}

func (s *PostgresStore) FollowerCount(ctx context.Context, creatorID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM follows WHERE creator_id=$1`, creatorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count followers: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) FollowerCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT creator_id, COUNT(*) FROM follows GROUP BY creator_id`)
	if err != nil {
		return nil, fmt.Errorf("count followers: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var creatorID string
		var count int
		if err := rows.Scan(&creatorID, &count); err != nil {
			return nil, fmt.Errorf("scan follower count: %w", err)
		}
		counts[creatorID] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) ListFollowerIDs(ctx context.Context, creatorID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT follower_id FROM follows WHERE creator_id=$1`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan follower: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- notifications ---

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	payloadJSON, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, account_id, type, payload, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		n.ID, n.AccountID, n.Type, string(payloadJSON), n.IsRead, n.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertNotifications(ctx context.Context, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin notifications: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, n := range notifications {
		payloadJSON, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, account_id, type, payload, is_read, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			n.ID, n.AccountID, n.Type, string(payloadJSON), n.IsRead, n.CreatedAt); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit notifications: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, accountID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, type, payload, is_read, created_at
		FROM notifications WHERE account_id=$1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var result []Notification
	for rows.Next() {
		var n Notification
		var payloadJSON []byte
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Type, &payloadJSON, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &n.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, accountID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read=TRUE WHERE account_id=$1 AND is_read=FALSE`, accountID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return int(affected), nil
}

// --- reports ---

func (s *PostgresStore) InsertReport(ctx context.Context, r Report) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, reporter_id, target_type, target_id, reason, details, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.ReporterID, r.TargetType, r.TargetID, r.Reason, r.Details, r.Status, r.CreatedAt); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// --- ranking rollups ---

func (s *PostgresStore) GetRankingRollup(ctx context.Context, period, rankingType string) (*RankingRollup, error) {
	var rollup RankingRollup
	var itemsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, period, ranking_type, items, computed_at
		FROM ranking_rollups WHERE period=$1 AND ranking_type=$2`,
		period, rankingType).Scan(&rollup.ID, &rollup.Period, &rollup.Type, &itemsJSON, &rollup.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rollup: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &rollup.Items); err != nil {
		return nil, fmt.Errorf("decode rollup items: %w", err)
	}
	return &rollup, nil
}

func (s *PostgresStore) SaveRankingRollup(ctx context.Context, rollup RankingRollup) error {
	itemsJSON, err := json.Marshal(rollup.Items)
	if err != nil {
		return fmt.Errorf("marshal rollup items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ranking_rollups (id, period, ranking_type, items, computed_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (period, ranking_type) DO UPDATE SET items=EXCLUDED.items, computed_at=EXCLUDED.computed_at`,
		rollup.ID, rollup.Period, rollup.Type, string(itemsJSON), rollup.ComputedAt); err != nil {
		return fmt.Errorf("save rollup: %w", err)
	}
	return nil
}

// --- creator stats ---

func (s *PostgresStore) CreatorEngagementStats(ctx context.Context, creatorID string) (CreatorStats, error) {
	var stats CreatorStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT SUM(view_count) FROM chapters WHERE creator_id=$1), 0),
			(SELECT COUNT(*) FROM comments c JOIN chapters ch ON ch.id = c.chapter_id
				WHERE ch.creator_id=$1 AND c.is_deleted=FALSE),
			(SELECT COUNT(*) FROM reactions r JOIN chapters ch ON ch.id = r.chapter_id
				WHERE ch.creator_id=$1)`,
		creatorID).Scan(&stats.Reads, &stats.Comments, &stats.Reactions)
	if err != nil {
		return CreatorStats{}, fmt.Errorf("creator stats: %w", err)
	}
	return stats, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

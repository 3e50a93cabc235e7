package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"distill/api/internal/blocks"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const pageColumns = `id, user_id, parent_id, title, icon, is_folder, position, status, source_type, collapsed, trashed_at, trash_root, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(row scanner) (Page, error) {
	var p Page
	var parentID sql.NullString
	var trashedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &parentID, &p.Title, &p.Icon, &p.IsFolder, &p.Position, &p.Status, &p.SourceType, &p.Collapsed, &trashedAt, &p.TrashRoot, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Page{}, err
	}
	if parentID.Valid {
		p.ParentID = &parentID.String
	}
	if trashedAt.Valid {
		p.TrashedAt = &trashedAt.Time
	}
	return p, nil
}

func collectPages(rows *sql.Rows) ([]Page, error) {
	defer rows.Close()
	items := make([]Page, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

// ListPages returns the user's live pages ordered for tree assembly.
func (s *PostgresStore) ListPages(ctx context.Context, userID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE user_id=$1 AND trashed_at IS NULL
		ORDER BY position, created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return collectPages(rows)
}

// GetPage returns a page whether or not it is trashed.
func (s *PostgresStore) GetPage(ctx context.Context, userID, pageID string) (Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1 AND user_id=$2`, pageID, userID)
	return scanPage(row)
}

// InsertPage appends the page after its last sibling.
func (s *PostgresStore) InsertPage(ctx context.Context, page Page) (Page, error) {
	if page.Status == "" {
		page.Status = "crystallized"
	}
	if page.SourceType == "" {
		page.SourceType = "note"
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pages (id, user_id, parent_id, title, icon, is_folder, position, status, source_type)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM pages
				WHERE user_id=$2 AND parent_id IS NOT DISTINCT FROM $3 AND trashed_at IS NULL),
			$7, $8)
		RETURNING `+pageColumns,
		page.ID, page.UserID, page.ParentID, page.Title, page.Icon, page.IsFolder, page.Status, page.SourceType)
	created, err := scanPage(row)
	if err != nil {
		return Page{}, fmt.Errorf("insert page: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdatePage(ctx context.Context, userID, pageID string, patch PagePatch) (Page, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE pages
		SET title=COALESCE($3, title), icon=COALESCE($4, icon), updated_at=NOW()
		WHERE id=$1 AND user_id=$2 AND trashed_at IS NULL
		RETURNING `+pageColumns,
		pageID, userID, patch.Title, patch.Icon)
	return scanPage(row)
}

func (s *PostgresStore) ToggleCollapse(ctx context.Context, userID, pageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages SET collapsed = NOT collapsed, updated_at=NOW()
		WHERE id=$1 AND user_id=$2 AND trashed_at IS NULL
	`, pageID, userID)
	if err != nil {
		return fmt.Errorf("toggle collapse: %w", err)
	}
	return expectRows(res)
}

// ReorderPages makes pageIDs the children of parentID in the given order.
// Cycle checks are the caller's job.
func (s *PostgresStore) ReorderPages(ctx context.Context, userID string, parentID *string, pageIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, id := range pageIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE pages SET parent_id=$3, position=$4, updated_at=NOW()
			WHERE id=$1 AND user_id=$2 AND trashed_at IS NULL
		`, id, userID, parentID, i)
		if err != nil {
			return fmt.Errorf("reorder page %s: %w", id, err)
		}
		if err := expectRows(res); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

// TrashPage soft-deletes a page and its live descendants. Only the page
// itself shows up in the trash listing.
func (s *PostgresStore) TrashPage(ctx context.Context, userID, pageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE sub AS (
			SELECT id FROM pages WHERE id=$1 AND user_id=$2 AND trashed_at IS NULL
			UNION ALL
			SELECT p.id FROM pages p JOIN sub ON p.parent_id = sub.id WHERE p.trashed_at IS NULL
		)
		UPDATE pages SET trashed_at=$3, trash_root=(id=$1), updated_at=NOW()
		WHERE id IN (SELECT id FROM sub)
	`, pageID, userID, at)
	if err != nil {
		return fmt.Errorf("trash page: %w", err)
	}
	return expectRows(res)
}

// RestorePage brings back a trashed page with the descendants trashed
// alongside it. It reattaches at the root when its parent is gone or
// still trashed.
func (s *PostgresStore) RestorePage(ctx context.Context, userID, pageID string) (Page, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Page{}, fmt.Errorf("begin restore tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	root, err := scanPage(tx.QueryRowContext(ctx, `
		SELECT `+pageColumns+` FROM pages
		WHERE id=$1 AND user_id=$2 AND trash_root
		FOR UPDATE
	`, pageID, userID))
	if err != nil {
		return Page{}, err
	}

	parentID := root.ParentID
	if parentID != nil {
		var live bool
		err := tx.QueryRowContext(ctx, `SELECT trashed_at IS NULL FROM pages WHERE id=$1 AND user_id=$2`, *parentID, userID).Scan(&live)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !live) {
			parentID = nil
		} else if err != nil {
			return Page{}, fmt.Errorf("check restore parent: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		WITH RECURSIVE sub AS (
			SELECT id FROM pages WHERE id=$1
			UNION ALL
			SELECT p.id FROM pages p JOIN sub ON p.parent_id = sub.id
			WHERE p.trashed_at = $2 AND NOT p.trash_root
		)
		UPDATE pages SET trashed_at=NULL, trash_root=FALSE, updated_at=NOW()
		WHERE id IN (SELECT id FROM sub)
	`, pageID, root.TrashedAt); err != nil {
		return Page{}, fmt.Errorf("restore subtree: %w", err)
	}

	restored, err := scanPage(tx.QueryRowContext(ctx, `
		UPDATE pages
		SET parent_id=$3,
			position=(SELECT COALESCE(MAX(position) + 1, 0) FROM pages
				WHERE user_id=$2 AND parent_id IS NOT DISTINCT FROM $3 AND trashed_at IS NULL AND id <> $1)
		WHERE id=$1 AND user_id=$2
		RETURNING `+pageColumns,
		pageID, userID, parentID))
	if err != nil {
		return Page{}, fmt.Errorf("reattach restored page: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Page{}, fmt.Errorf("commit restore: %w", err)
	}
	return restored, nil
}

func (s *PostgresStore) ListTrash(ctx context.Context, userID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE user_id=$1 AND trash_root
		ORDER BY trashed_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list trash: %w", err)
	}
	return collectPages(rows)
}

// DeletePermanent purges a trashed page and everything below it, returning
// the ids removed.
func (s *PostgresStore) DeletePermanent(ctx context.Context, userID, pageID string) ([]string, error) {
	return s.purge(ctx, userID, `SELECT id FROM pages WHERE id=$2 AND user_id=$1 AND trash_root`, pageID)
}

// EmptyTrash purges every trashed page of the user.
func (s *PostgresStore) EmptyTrash(ctx context.Context, userID string) ([]string, error) {
	return s.purge(ctx, userID, `SELECT id FROM pages WHERE user_id=$1 AND trash_root`)
}

func (s *PostgresStore) purge(ctx context.Context, userID, roots string, args ...any) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	params := append([]any{userID}, args...)
	rows, err := tx.QueryContext(ctx, `
		WITH RECURSIVE sub AS (
			`+roots+`
			UNION ALL
			SELECT p.id FROM pages p JOIN sub ON p.parent_id = sub.id
		)
		DELETE FROM pages WHERE id IN (SELECT id FROM sub)
		RETURNING id
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("purge pages: %w", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan purged id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purged ids: %w", err)
	}
	if len(args) > 0 && len(ids) == 0 {
		return nil, sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purge: %w", err)
	}
	return ids, nil
}

// Blocks

const blockColumns = `b.id, b.page_id, b.parent_id, b.type, b.content, b.properties, b.position`

func scanBlock(row scanner) (blocks.Row, error) {
	var r blocks.Row
	var parentID sql.NullString
	var props []byte
	if err := row.Scan(&r.ID, &r.PageID, &parentID, &r.Type, &r.Content, &props, &r.Position); err != nil {
		return blocks.Row{}, err
	}
	if parentID.Valid {
		r.ParentID = &parentID.String
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &r.Properties); err != nil {
			return blocks.Row{}, fmt.Errorf("decode block properties %s: %w", r.ID, err)
		}
		if len(r.Properties) == 0 {
			r.Properties = nil
		}
	}
	return r, nil
}

func encodeProps(props map[string]any) ([]byte, error) {
	if len(props) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(props)
}

func (s *PostgresStore) ListBlocks(ctx context.Context, userID, pageID string) ([]blocks.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+blockColumns+`
		FROM blocks b
		JOIN pages p ON p.id = b.page_id
		WHERE b.page_id=$1 AND p.user_id=$2
		ORDER BY b.position, b.created_at
	`, pageID, userID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	items := make([]blocks.Row, 0)
	for rows.Next() {
		r, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return items, nil
}

// ReplaceBlocks swaps the page's rows for rows in one transaction and
// stores searchText as the page's indexed body.
func (s *PostgresStore) ReplaceBlocks(ctx context.Context, userID, pageID string, rows []blocks.Row, searchText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin blocks tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM pages WHERE id=$1 AND user_id=$2 AND trashed_at IS NULL FOR UPDATE
	`, pageID, userID).Scan(&id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE page_id=$1`, pageID); err != nil {
		return fmt.Errorf("clear blocks: %w", err)
	}
	for _, r := range rows {
		props, err := encodeProps(r.Properties)
		if err != nil {
			return fmt.Errorf("encode block properties %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO blocks (id, page_id, parent_id, type, content, properties, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE
			SET page_id=EXCLUDED.page_id, parent_id=EXCLUDED.parent_id, type=EXCLUDED.type,
				content=EXCLUDED.content, properties=EXCLUDED.properties, position=EXCLUDED.position,
				updated_at=NOW()
		`, r.ID, pageID, r.ParentID, r.Type, r.Content, props, r.Position); err != nil {
			return fmt.Errorf("insert block %s: %w", r.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE pages SET search_text=$2, updated_at=NOW() WHERE id=$1`, pageID, searchText); err != nil {
		return fmt.Errorf("update page search text: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit blocks: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBlock(ctx context.Context, userID, blockID string) (blocks.Row, error) {
	return scanBlock(s.db.QueryRowContext(ctx, `
		SELECT `+blockColumns+`
		FROM blocks b
		JOIN pages p ON p.id = b.page_id
		WHERE b.id=$1 AND p.user_id=$2
	`, blockID, userID))
}

// Synced blocks

const syncedColumns = `id, user_id, title, content, created_at, updated_at`

func scanSynced(row scanner) (SyncedBlock, error) {
	var b SyncedBlock
	var content []byte
	if err := row.Scan(&b.ID, &b.UserID, &b.Title, &content, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return SyncedBlock{}, err
	}
	b.Content = json.RawMessage(content)
	return b, nil
}

func (s *PostgresStore) ListSyncedBlocks(ctx context.Context, userID string) ([]SyncedBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+syncedColumns+` FROM synced_blocks WHERE user_id=$1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list synced blocks: %w", err)
	}
	defer rows.Close()

	items := make([]SyncedBlock, 0)
	for rows.Next() {
		b, err := scanSynced(rows)
		if err != nil {
			return nil, fmt.Errorf("scan synced block: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate synced blocks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSyncedBlock(ctx context.Context, userID, id string) (SyncedBlock, error) {
	return scanSynced(s.db.QueryRowContext(ctx, `
		SELECT `+syncedColumns+` FROM synced_blocks WHERE id=$1 AND user_id=$2
	`, id, userID))
}

func (s *PostgresStore) InsertSyncedBlock(ctx context.Context, b SyncedBlock) (SyncedBlock, error) {
	created, err := scanSynced(s.db.QueryRowContext(ctx, `
		INSERT INTO synced_blocks (id, user_id, title, content)
		VALUES ($1, $2, $3, $4)
		RETURNING `+syncedColumns,
		b.ID, b.UserID, b.Title, contentOrEmpty(b.Content)))
	if err != nil {
		return SyncedBlock{}, fmt.Errorf("insert synced block: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateSyncedBlock(ctx context.Context, userID, id string, title *string, content json.RawMessage) (SyncedBlock, error) {
	return scanSynced(s.db.QueryRowContext(ctx, `
		UPDATE synced_blocks
		SET title=COALESCE($3, title), content=$4, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
		RETURNING `+syncedColumns,
		id, userID, title, contentOrEmpty(content)))
}

// DeleteSyncedBlock removes the entity. Reference blocks stay in place and
// render as unavailable.
func (s *PostgresStore) DeleteSyncedBlock(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM synced_blocks WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete synced block: %w", err)
	}
	return expectRows(res)
}

func (s *PostgresStore) SyncedReferences(ctx context.Context, userID, id string) ([]SyncedReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, p.id, p.title
		FROM blocks b
		JOIN pages p ON p.id = b.page_id
		WHERE b.type='synced_block' AND b.properties->>'syncedBlockId'=$1
			AND p.user_id=$2 AND p.trashed_at IS NULL
		ORDER BY p.title, b.position
	`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("list synced references: %w", err)
	}
	defer rows.Close()

	items := make([]SyncedReference, 0)
	for rows.Next() {
		var ref SyncedReference
		if err := rows.Scan(&ref.BlockID, &ref.PageID, &ref.PageTitle); err != nil {
			return nil, fmt.Errorf("scan synced reference: %w", err)
		}
		items = append(items, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate synced references: %w", err)
	}
	return items, nil
}

type syncedItem struct {
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ConvertBlock moves a block's content into a new synced block and turns
// the block into a reference to it.
func (s *PostgresStore) ConvertBlock(ctx context.Context, userID, blockID, syncedID string) (SyncedBlock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SyncedBlock{}, fmt.Errorf("begin convert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := lockBlock(ctx, tx, userID, blockID)
	if err != nil {
		return SyncedBlock{}, err
	}
	if row.Type == blocks.TypeSyncedBlock {
		return SyncedBlock{}, ErrAlreadySynced
	}
	content, err := json.Marshal([]syncedItem{{Type: row.Type, Content: row.Content, Properties: row.Properties}})
	if err != nil {
		return SyncedBlock{}, fmt.Errorf("encode synced content: %w", err)
	}
	created, err := scanSynced(tx.QueryRowContext(ctx, `
		INSERT INTO synced_blocks (id, user_id, title, content)
		VALUES ($1, $2, '', $3)
		RETURNING `+syncedColumns,
		syncedID, userID, content))
	if err != nil {
		return SyncedBlock{}, fmt.Errorf("insert synced block: %w", err)
	}
	if err := setBlockBody(ctx, tx, blockID, blocks.TypeSyncedBlock, "", map[string]any{blocks.PropSyncedBlockID: syncedID}); err != nil {
		return SyncedBlock{}, err
	}
	if err := tx.Commit(); err != nil {
		return SyncedBlock{}, fmt.Errorf("commit convert: %w", err)
	}
	return created, nil
}

// LinkBlock points an existing block at a synced block, discarding the
// block's own content.
func (s *PostgresStore) LinkBlock(ctx context.Context, userID, syncedID, blockID string) (blocks.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return blocks.Row{}, fmt.Errorf("begin link tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM synced_blocks WHERE id=$1 AND user_id=$2)`, syncedID, userID).Scan(&exists); err != nil {
		return blocks.Row{}, fmt.Errorf("check synced block: %w", err)
	}
	if !exists {
		return blocks.Row{}, sql.ErrNoRows
	}
	row, err := lockBlock(ctx, tx, userID, blockID)
	if err != nil {
		return blocks.Row{}, err
	}
	row.Type, row.Content = blocks.TypeSyncedBlock, ""
	row.Properties = map[string]any{blocks.PropSyncedBlockID: syncedID}
	if err := setBlockBody(ctx, tx, blockID, row.Type, row.Content, row.Properties); err != nil {
		return blocks.Row{}, err
	}
	if err := tx.Commit(); err != nil {
		return blocks.Row{}, fmt.Errorf("commit link: %w", err)
	}
	return row, nil
}

// UnlinkBlock turns a reference back into an ordinary block holding the
// synced block's first item. The synced block itself is kept.
func (s *PostgresStore) UnlinkBlock(ctx context.Context, userID, blockID string) (blocks.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return blocks.Row{}, fmt.Errorf("begin unlink tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := lockBlock(ctx, tx, userID, blockID)
	if err != nil {
		return blocks.Row{}, err
	}
	if row.Type != blocks.TypeSyncedBlock {
		return blocks.Row{}, ErrNotSyncedRef
	}
	syncedID, _ := row.Properties[blocks.PropSyncedBlockID].(string)

	first := syncedItem{Type: blocks.TypeText}
	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT content FROM synced_blocks WHERE id=$1 AND user_id=$2`, syncedID, userID).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return blocks.Row{}, fmt.Errorf("read synced content: %w", err)
	default:
		var items []syncedItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return blocks.Row{}, fmt.Errorf("decode synced content: %w", err)
		}
		if len(items) > 0 && items[0].Type != blocks.TypeSyncedBlock {
			first = items[0]
		}
	}
	if first.Type == "" {
		first.Type = blocks.TypeText
	}
	row.Type, row.Content, row.Properties = first.Type, first.Content, first.Properties
	if err := setBlockBody(ctx, tx, blockID, row.Type, row.Content, row.Properties); err != nil {
		return blocks.Row{}, err
	}
	if err := tx.Commit(); err != nil {
		return blocks.Row{}, fmt.Errorf("commit unlink: %w", err)
	}
	return row, nil
}

func lockBlock(ctx context.Context, tx *sql.Tx, userID, blockID string) (blocks.Row, error) {
	return scanBlock(tx.QueryRowContext(ctx, `
		SELECT `+blockColumns+`
		FROM blocks b
		JOIN pages p ON p.id = b.page_id
		WHERE b.id=$1 AND p.user_id=$2
		FOR UPDATE OF b
	`, blockID, userID))
}

func setBlockBody(ctx context.Context, tx *sql.Tx, blockID, typ, content string, props map[string]any) error {
	encoded, err := encodeProps(props)
	if err != nil {
		return fmt.Errorf("encode block properties: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE blocks SET type=$2, content=$3, properties=$4, updated_at=NOW() WHERE id=$1
	`, blockID, typ, content, encoded); err != nil {
		return fmt.Errorf("update block %s: %w", blockID, err)
	}
	return nil
}

func contentOrEmpty(content json.RawMessage) []byte {
	if len(content) == 0 {
		return []byte("[]")
	}
	return content
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

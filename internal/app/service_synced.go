package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"distill/api/internal/blocks"
	"distill/api/internal/realtime"
	"distill/api/internal/store"
	"distill/api/internal/synced"
	"distill/api/internal/util"
)

func toSyncedBlock(b store.SyncedBlock) (synced.Block, error) {
	out := synced.Block{
		ID:        b.ID,
		UserID:    b.UserID,
		Title:     b.Title,
		Content:   []synced.Item{},
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if len(b.Content) > 0 {
		if err := json.Unmarshal(b.Content, &out.Content); err != nil {
			return synced.Block{}, fmt.Errorf("decode synced block %s content: %w", b.ID, err)
		}
		if out.Content == nil {
			out.Content = []synced.Item{}
		}
	}
	return out, nil
}

// syncedDoc renders a synced block's items as a flat document.
func syncedDoc(b store.SyncedBlock) ([]*blocks.Block, error) {
	block, err := toSyncedBlock(b)
	if err != nil {
		return nil, err
	}
	rows := make([]blocks.Row, 0, len(block.Content))
	for i, item := range block.Content {
		rows = append(rows, blocks.Row{
			ID:         fmt.Sprintf("%s#%d", b.ID, i),
			Type:       item.Type,
			Content:    item.Content,
			Properties: item.Properties,
			Position:   i,
		})
	}
	return blocks.Hydrate(rows, blocks.HydrateOptions{}), nil
}

func validateItems(items []synced.Item) ([]synced.Item, error) {
	out := make([]synced.Item, 0, len(items))
	for i, item := range items {
		item.Type = strings.TrimSpace(item.Type)
		if item.Type == "" {
			item.Type = blocks.TypeText
		}
		if item.Type == blocks.TypeSyncedBlock {
			return nil, validationError("synced blocks cannot contain synced block references", map[string]any{"index": i})
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) publishSynced(ctx context.Context, kind realtime.Kind, userID, id string, record any) {
	evt, err := realtime.NewEvent(realtime.CollectionSyncedBlocks, kind, id, userID, record)
	if err != nil {
		s.log.Warn("encode change event failed", "synced_block_id", id, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.log.Warn("publish change event failed", "synced_block_id", id, "kind", kind, "error", err)
	}
}

func (s *Service) ListSyncedBlocks(ctx context.Context, userID string) ([]synced.Block, error) {
	list, err := s.store.ListSyncedBlocks(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]synced.Block, 0, len(list))
	for _, b := range list {
		block, err := toSyncedBlock(b)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

func (s *Service) GetSyncedBlock(ctx context.Context, userID, id string) (synced.Detail, error) {
	b, err := s.store.GetSyncedBlock(ctx, userID, id)
	if err != nil {
		return synced.Detail{}, err
	}
	block, err := toSyncedBlock(b)
	if err != nil {
		return synced.Detail{}, err
	}
	refs, err := s.references(ctx, userID, id)
	if err != nil {
		return synced.Detail{}, err
	}
	return synced.Detail{Block: block, References: refs}, nil
}

func (s *Service) SyncedReferences(ctx context.Context, userID, id string) ([]synced.Reference, error) {
	if _, err := s.store.GetSyncedBlock(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.references(ctx, userID, id)
}

func (s *Service) references(ctx context.Context, userID, id string) ([]synced.Reference, error) {
	refs, err := s.store.SyncedReferences(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	out := make([]synced.Reference, 0, len(refs))
	for _, r := range refs {
		out = append(out, synced.Reference{BlockID: r.BlockID, PageID: r.PageID, PageTitle: r.PageTitle})
	}
	return out, nil
}

func (s *Service) CreateSyncedBlock(ctx context.Context, userID, title string, items []synced.Item) (synced.Block, error) {
	items, err := validateItems(items)
	if err != nil {
		return synced.Block{}, err
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return synced.Block{}, fmt.Errorf("encode synced content: %w", err)
	}
	created, err := s.store.InsertSyncedBlock(ctx, store.SyncedBlock{
		ID:      util.NewID("sb"),
		UserID:  userID,
		Title:   strings.TrimSpace(title),
		Content: raw,
	})
	if err != nil {
		return synced.Block{}, err
	}
	block, err := toSyncedBlock(created)
	if err != nil {
		return synced.Block{}, err
	}
	s.publishSynced(ctx, realtime.KindInsert, userID, block.ID, block)
	return block, nil
}

// UpdateSyncedBlock changes the title and/or content. A nil Content keeps
// the stored items.
func (s *Service) UpdateSyncedBlock(ctx context.Context, userID, id string, update synced.Update) (synced.Block, error) {
	var raw json.RawMessage
	if update.Content == nil {
		current, err := s.store.GetSyncedBlock(ctx, userID, id)
		if err != nil {
			return synced.Block{}, err
		}
		raw = current.Content
	} else {
		items, err := validateItems(update.Content)
		if err != nil {
			return synced.Block{}, err
		}
		if raw, err = json.Marshal(items); err != nil {
			return synced.Block{}, fmt.Errorf("encode synced content: %w", err)
		}
	}
	var title *string
	if update.Title != nil {
		t := strings.TrimSpace(*update.Title)
		title = &t
	}
	updated, err := s.store.UpdateSyncedBlock(ctx, userID, id, title, raw)
	if err != nil {
		return synced.Block{}, err
	}
	block, err := toSyncedBlock(updated)
	if err != nil {
		return synced.Block{}, err
	}
	s.publishSynced(ctx, realtime.KindUpdate, userID, block.ID, block)
	return block, nil
}

func (s *Service) DeleteSyncedBlock(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteSyncedBlock(ctx, userID, id); err != nil {
		return err
	}
	s.publishSynced(ctx, realtime.KindDelete, userID, id, nil)
	return nil
}

// ConvertToSynced moves a block's content into a new synced block and turns
// the block into a reference to it.
func (s *Service) ConvertToSynced(ctx context.Context, userID, blockID string) (synced.Block, error) {
	if strings.TrimSpace(blockID) == "" {
		return synced.Block{}, validationError("blockId is required", nil)
	}
	created, err := s.store.ConvertBlock(ctx, userID, blockID, util.NewID("sb"))
	if err != nil {
		return synced.Block{}, err
	}
	block, err := toSyncedBlock(created)
	if err != nil {
		return synced.Block{}, err
	}
	s.publishSynced(ctx, realtime.KindInsert, userID, block.ID, block)
	return block, nil
}

func (s *Service) LinkSyncedBlock(ctx context.Context, userID, syncedID, blockID string) (blocks.Row, error) {
	if strings.TrimSpace(syncedID) == "" || strings.TrimSpace(blockID) == "" {
		return blocks.Row{}, validationError("syncedBlockId and blockId are required", nil)
	}
	row, err := s.store.LinkBlock(ctx, userID, syncedID, blockID)
	if err != nil {
		return blocks.Row{}, err
	}
	s.reindex(ctx, userID, []string{row.PageID})
	return row, nil
}

// UnlinkSyncedBlock detaches a reference; the synced block itself is kept.
func (s *Service) UnlinkSyncedBlock(ctx context.Context, userID, blockID string) (blocks.Row, error) {
	if strings.TrimSpace(blockID) == "" {
		return blocks.Row{}, validationError("blockId is required", nil)
	}
	row, err := s.store.UnlinkBlock(ctx, userID, blockID)
	if err != nil {
		return blocks.Row{}, err
	}
	s.reindex(ctx, userID, []string{row.PageID})
	return row, nil
}

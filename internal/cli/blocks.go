package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"distill/api/internal/autosave"
	"distill/api/internal/blocks"
	"distill/api/internal/engine"
	"distill/api/internal/remote"
	"distill/api/internal/util"
)

// NewBlocksCmd creates the blocks command group.
func NewBlocksCmd(c *connector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Read and append page content",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newBlocksShowCmd(c))
	cmd.AddCommand(newBlocksAppendCmd(c))
	return cmd
}

func (c *connector) autosaver(client *remote.Client, store *engine.Store) *autosave.Autosaver {
	cfg := c.config()
	opts := []autosave.Option{autosave.WithResolver(store.ResolveID)}
	if cfg.AutosaveDelay > 0 {
		opts = append(opts, autosave.WithDelay(cfg.AutosaveDelay))
	}
	if cfg.OrderSettleDelay > 0 {
		opts = append(opts, autosave.WithSettleDelay(cfg.OrderSettleDelay))
	}
	return autosave.New(client, c.env.Log, opts...)
}

func newBlocksShowCmd(c *connector) *cobra.Command {
	var markup bool
	cmd := &cobra.Command{
		Use:   "show <page-id>",
		Short: "Print a page's blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, client, err := c.engine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			doc, repaired, err := store.Document(ctx, args[0])
			if err != nil {
				return err
			}
			printDocument(cmd.OutOrStdout(), doc, markup)
			if !repaired {
				return nil
			}
			saver := c.autosaver(client, store)
			defer saver.Close()
			saver.Schedule(store.ResolveID(args[0]), doc)
			if err := saver.Flush(ctx); err != nil {
				return fmt.Errorf("saving repaired page links: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markup, "markup", false, "print inline markup instead of plain text")
	return cmd
}

func newBlocksAppendCmd(c *connector) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "append <page-id> <markup>",
		Short: "Append a block to the end of a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := bodyFor(kind, args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, client, err := c.engine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			doc, _, err := store.Document(ctx, args[0])
			if err != nil {
				return err
			}
			block := &blocks.Block{ID: util.NewID("blk"), Body: body}
			doc = append(doc, block)

			saver := c.autosaver(client, store)
			defer saver.Close()
			saver.Schedule(store.ResolveID(args[0]), doc)
			if err := saver.Flush(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), block.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", "text", "block type: text, heading1-3, bullet, numbered, todo, quote, code")
	return cmd
}

func bodyFor(kind, src string) (blocks.Body, error) {
	switch kind {
	case "text", "":
		return blocks.Paragraph{Text: blocks.Parse(src)}, nil
	case "heading1", "heading2", "heading3":
		return blocks.Heading{Level: int(kind[len(kind)-1] - '0'), Text: blocks.Parse(src)}, nil
	case "bullet":
		return blocks.BulletItem{Text: blocks.Parse(src)}, nil
	case "numbered":
		return blocks.NumberedItem{Text: blocks.Parse(src)}, nil
	case "todo":
		return blocks.Todo{Text: blocks.Parse(src)}, nil
	case "quote":
		return blocks.Quote{Text: blocks.Parse(src)}, nil
	case "code":
		return blocks.Code{Source: src}, nil
	default:
		return nil, fmt.Errorf("unknown block type %q", kind)
	}
}

func printDocument(out io.Writer, doc []*blocks.Block, markup bool) {
	if len(doc) == 0 {
		fmt.Fprintln(out, "(empty page)")
		return
	}
	text := func(spans []blocks.Span) string {
		if markup {
			return blocks.Serialize(spans)
		}
		return blocks.PlainText(spans)
	}
	blocks.Walk(doc, func(b *blocks.Block, depth int) {
		indent := strings.Repeat("  ", depth)
		var line string
		switch v := b.Body.(type) {
		case blocks.Paragraph:
			line = text(v.Text)
		case blocks.Heading:
			line = strings.Repeat("#", v.Level) + " " + text(v.Text)
		case blocks.BulletItem:
			line = "- " + text(v.Text)
		case blocks.NumberedItem:
			line = "1. " + text(v.Text)
		case blocks.Todo:
			box := "[ ] "
			if v.Checked {
				box = "[x] "
			}
			line = box + text(v.Text)
		case blocks.Quote:
			line = "> " + text(v.Text)
		case blocks.Code:
			line = "```" + v.Language + "\n" + indent + v.Source + "\n" + indent + "```"
		case blocks.Divider:
			line = "---"
		case blocks.Embed:
			line = fmt.Sprintf("[embed %s] %s", v.Kind, v.URL)
		case blocks.PageLink:
			title := v.Title
			if v.Icon != "" {
				title = v.Icon + " " + title
			}
			line = fmt.Sprintf("-> %s (%s)", title, v.PageID)
		case blocks.SyncedRef:
			line = "[synced " + v.SyncedBlockID + "]"
		}
		fmt.Fprintln(out, indent+line)
	})
}

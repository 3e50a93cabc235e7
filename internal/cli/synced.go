package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"distill/api/internal/realtime"
	"distill/api/internal/synced"
)

// NewSyncedCmd creates the synced command group.
func NewSyncedCmd(c *connector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synced",
		Short: "Inspect synced blocks",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newSyncedListCmd(c))
	cmd.AddCommand(newSyncedShowCmd(c))
	cmd.AddCommand(newSyncedRefsCmd(c))
	cmd.AddCommand(newSyncedWatchCmd(c))
	return cmd
}

func newSyncedListCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List synced blocks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := synced.NewService(c.client(), nil, c.env.Log)
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "no synced blocks")
				return nil
			}
			for _, b := range list {
				fmt.Fprintf(out, "%s\t%s\t%d item(s)\t%s\n", b.ID, syncedTitle(b), len(b.Content), b.UpdatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newSyncedShowCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "show <synced-block-id>",
		Short: "Print a synced block's content and references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := synced.NewService(c.client(), nil, c.env.Log)
			detail, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, syncedTitle(detail.Block))
			printItems(out, detail.Content)
			fmt.Fprintf(out, "referenced by %d block(s)\n", len(detail.References))
			return nil
		},
	}
}

func newSyncedRefsCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "refs <synced-block-id>",
		Short: "List the blocks that transclude a synced block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := synced.NewService(c.client(), nil, c.env.Log)
			refs, err := svc.References(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(refs) == 0 {
				fmt.Fprintln(out, "no references")
				return nil
			}
			for _, r := range refs {
				fmt.Fprintf(out, "%s\t%s\t%s\n", r.PageID, r.PageTitle, r.BlockID)
			}
			return nil
		},
	}
}

// newSyncedWatchCmd prints a synced block's content each time it changes,
// until interrupted or --count updates have been seen.
func newSyncedWatchCmd(c *connector) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch <synced-block-id>",
		Short: "Follow live edits to a synced block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := c.client()
			wsURL, err := realtime.WebSocketURL(client.BaseURL())
			if err != nil {
				return err
			}
			feed, err := realtime.DialFeed(ctx, wsURL, client.Header(), c.env.Log)
			if err != nil {
				return err
			}
			defer feed.Close()

			svc := synced.NewService(client, feed, c.env.Log)
			if err := svc.Subscribe(ctx); err != nil {
				return err
			}
			defer svc.Unsubscribe()

			id := args[0]
			release := svc.Track(id)
			defer release()

			updates := make(chan synced.Block, 16)
			off := svc.OnUpdate(func(b synced.Block) {
				if b.ID != id {
					return
				}
				select {
				case updates <- b:
				default:
				}
			})
			defer off()

			detail, err := svc.Get(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching %s\n", syncedTitle(detail.Block))
			printItems(out, detail.Content)

			seen := 0
			for count <= 0 || seen < count {
				select {
				case <-ctx.Done():
					return nil
				case <-feed.Done():
					return fmt.Errorf("realtime connection closed")
				case b := <-updates:
					seen++
					fmt.Fprintf(out, "updated %s\n", b.UpdatedAt.Local().Format(time.DateTime))
					printItems(out, b.Content)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many updates (0 watches forever)")
	return cmd
}

func syncedTitle(b synced.Block) string {
	if b.Title == "" {
		return "(untitled synced block)"
	}
	return b.Title
}

func printItems(out io.Writer, items []synced.Item) {
	for _, item := range items {
		fmt.Fprintf(out, "  %s: %s\n", item.Type, item.Content)
	}
}

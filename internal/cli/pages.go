package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"distill/api/internal/order"
	"distill/api/internal/tree"
)

// NewTreeCmd creates the tree subcommand.
func NewTreeCmd(c *connector) *cobra.Command {
	var showIDs bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the page tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			store.State().Forest.Walk(func(p tree.Page, depth int) bool {
				fmt.Fprint(out, strings.Repeat("  ", depth), pageLabel(p))
				if showIDs {
					fmt.Fprintf(out, "  [%s]", p.ID)
				}
				fmt.Fprintln(out)
				return true
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&showIDs, "ids", false, "print page ids")
	return cmd
}

func pageLabel(p tree.Page) string {
	title := p.Title
	if title == "" {
		title = "Untitled"
	}
	if p.Icon != "" {
		title = p.Icon + " " + title
	}
	if p.Collapsed {
		title += " (collapsed)"
	}
	return title
}

// NewCreateCmd creates the create subcommand.
func NewCreateCmd(c *connector) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a page",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Wait()
			id, err := store.Create(cmd.Context(), parent, title)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent page id (default root)")
	return cmd
}

// NewRenameCmd creates the rename subcommand.
func NewRenameCmd(c *connector) *cobra.Command {
	var icon string
	cmd := &cobra.Command{
		Use:   "rename <page-id> <title>",
		Short: "Rename a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := store.Rename(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			if cmd.Flags().Changed("icon") {
				return store.SetIcon(cmd.Context(), args[0], icon)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&icon, "icon", "", "also set the page icon")
	return cmd
}

// NewMoveCmd creates the move subcommand. A page is placed either at an
// index under --parent, or relative to another page as a drag would.
func NewMoveCmd(c *connector) *cobra.Command {
	var (
		parent string
		index  int
		before string
		after  string
		inside string
	)
	cmd := &cobra.Command{
		Use:   "move <page-id>",
		Short: "Move a page within the tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drop, isDrop, err := dropFlags(before, after, inside)
			if err != nil {
				return err
			}
			if isDrop && cmd.Flags().Changed("parent") {
				return fmt.Errorf("--parent cannot be combined with --before, --after or --inside")
			}
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if isDrop {
				return store.Drop(cmd.Context(), args[0], drop)
			}
			if !cmd.Flags().Changed("index") {
				index = len(store.State().Forest.Children(parent))
			}
			return store.Move(cmd.Context(), args[0], parent, index)
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "destination parent id (default root)")
	cmd.Flags().IntVar(&index, "index", 0, "position among the destination's children (default last)")
	cmd.Flags().StringVar(&before, "before", "", "place before this page")
	cmd.Flags().StringVar(&after, "after", "", "place after this page")
	cmd.Flags().StringVar(&inside, "inside", "", "place as the first child of this page")
	return cmd
}

func dropFlags(before, after, inside string) (order.Drop, bool, error) {
	var drops []order.Drop
	if before != "" {
		drops = append(drops, order.Drop{TargetID: before, Zone: order.ZoneBefore})
	}
	if after != "" {
		drops = append(drops, order.Drop{TargetID: after, Zone: order.ZoneAfter})
	}
	if inside != "" {
		drops = append(drops, order.Drop{TargetID: inside, Zone: order.ZoneInside})
	}
	switch len(drops) {
	case 0:
		return order.Drop{}, false, nil
	case 1:
		return drops[0], true, nil
	default:
		return order.Drop{}, false, fmt.Errorf("only one of --before, --after or --inside may be given")
	}
}

// NewDeleteCmd creates the delete subcommand, which moves a page and its
// subtree to the trash.
func NewDeleteCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <page-id>",
		Short: "Move a page to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Wait()
			return store.Delete(cmd.Context(), args[0])
		},
	}
}

// NewDuplicateCmd creates the duplicate subcommand.
func NewDuplicateCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <page-id>",
		Short: "Copy a page and its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Wait()
			id, err := store.Duplicate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// NewSearchCmd creates the search subcommand.
func NewSearchCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search page titles and content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := c.client().Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(out, "%s\t%s", h.PageID, h.Title)
				if h.Snippet != "" {
					fmt.Fprintf(out, "\t%s", h.Snippet)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

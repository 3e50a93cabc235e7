package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"distill/api/internal/trash"
)

// NewTrashCmd creates the trash command group.
func NewTrashCmd(c *connector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and manage trashed pages",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newTrashListCmd(c))
	cmd.AddCommand(newTrashSearchCmd(c))
	cmd.AddCommand(newTrashRestoreCmd(c))
	cmd.AddCommand(newTrashPurgeCmd(c))
	cmd.AddCommand(newTrashEmptyCmd(c))
	return cmd
}

func newTrashListCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trashed pages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), store.TrashEntries(), "trash is empty")
			return nil
		},
	}
}

func newTrashSearchCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Filter trashed pages by title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), store.SearchTrash(args[0]), "no matches")
			return nil
		},
	}
}

func newTrashRestoreCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <page-id>",
		Short: "Restore a trashed page and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Wait()
			return store.Restore(cmd.Context(), args[0])
		},
	}
}

func newTrashPurgeCmd(c *connector) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <page-id>",
		Short: "Permanently delete a trashed page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Wait()
			return store.PermanentDelete(cmd.Context(), args[0])
		},
	}
}

func newTrashEmptyCmd(c *connector) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "empty",
		Short: "Permanently delete everything in the trash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to empty the trash without --yes")
			}
			store, _, err := c.engine(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Wait()
			n := len(store.TrashEntries())
			if err := store.EmptyTrash(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d page(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm permanent deletion")
	return cmd
}

func printEntries(out io.Writer, entries []trash.Entry, none string) {
	if len(entries) == 0 {
		fmt.Fprintln(out, none)
		return
	}
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", e.ID, title, e.TrashedAt.Local().Format(time.DateTime))
	}
}

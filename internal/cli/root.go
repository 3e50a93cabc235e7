// Package cli implements the distill operator commands. Every command
// drives the same engine and synced services a UI would, against a running
// API server.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"distill/api/internal/config"
	"distill/api/internal/engine"
	"distill/api/internal/logger"
	"distill/api/internal/remote"
)

// Env carries the dependencies shared by all commands.
type Env struct {
	Config     config.Config
	Log        *logger.Logger
	HTTPClient *http.Client
}

type options struct {
	apiURL  string
	user    string
	timeout time.Duration
}

// connector builds clients from the resolved global flags. Flags are parsed
// after the commands are constructed, so clients are built lazily.
type connector struct {
	env  Env
	opts *options
}

// NewRootCmd creates the root distill command with all subcommands
// registered.
func NewRootCmd(env Env) *cobra.Command {
	env.Log = logger.OrNop(env.Log)
	opts := &options{
		apiURL:  env.Config.APIURL,
		user:    env.Config.UserID,
		timeout: env.Config.HTTPTimeout,
	}
	if opts.timeout <= 0 {
		opts.timeout = 30 * time.Second
	}

	root := &cobra.Command{
		Use:           "distill",
		Short:         "distill - page tree and block document client",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", opts.apiURL, "API base URL")
	root.PersistentFlags().StringVar(&opts.user, "user", opts.user, "acting user id")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", opts.timeout, "HTTP request timeout")

	c := &connector{env: env, opts: opts}
	root.AddCommand(NewTreeCmd(c))
	root.AddCommand(NewCreateCmd(c))
	root.AddCommand(NewRenameCmd(c))
	root.AddCommand(NewMoveCmd(c))
	root.AddCommand(NewDeleteCmd(c))
	root.AddCommand(NewDuplicateCmd(c))
	root.AddCommand(NewSearchCmd(c))
	root.AddCommand(NewTrashCmd(c))
	root.AddCommand(NewBlocksCmd(c))
	root.AddCommand(NewSyncedCmd(c))
	return root
}

func (c *connector) client() *remote.Client {
	opts := []remote.Option{remote.WithUser(c.opts.user), remote.WithLogger(c.env.Log)}
	if c.env.HTTPClient != nil {
		opts = append(opts, remote.WithHTTPClient(c.env.HTTPClient))
	} else {
		opts = append(opts, remote.WithTimeout(c.opts.timeout))
	}
	return remote.New(c.opts.apiURL, opts...)
}

// engine returns a loaded page store. Rejected mutations are reported on
// errOut as they happen.
func (c *connector) engine(ctx context.Context, errOut io.Writer) (*engine.Store, *remote.Client, error) {
	client := c.client()
	notify := engine.NotifierFunc(func(n engine.Notice) {
		fmt.Fprintf(errOut, "warning: %s\n", n.Message)
	})
	store := engine.New(client, c.env.Log, engine.WithNotifier(notify))
	if err := store.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("loading pages: %w", err)
	}
	return store, client, nil
}

func (c *connector) config() config.Config { return c.env.Config }

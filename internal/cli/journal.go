package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultsync/internal/config"
	"github.com/roach88/vaultsync/internal/store"
)

// JournalOptions holds the journal flag shared by history and trace.
type JournalOptions struct {
	*RootOptions
	Journal string // defaults to VAULTSYNC_JOURNAL_PATH
}

func addJournalFlag(cmd *cobra.Command, opts *JournalOptions) {
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the run journal (defaults to "+config.EnvJournalPath+")")
}

// openJournal opens an existing journal read-side. It never creates one: a
// missing file is a command error rather than an empty history.
func openJournal(opts *JournalOptions) (*store.Store, error) {
	path := opts.Journal
	if path == "" {
		config.LoadDotEnv()
		path = os.Getenv(config.EnvJournalPath)
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("no journal configured: pass --journal or set %s", config.EnvJournalPath))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "journal not found", err)
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return st, nil
}

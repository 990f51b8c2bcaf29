package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultsync/internal/authz"
	"github.com/roach88/vaultsync/internal/config"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check worker configuration",
		Long: `Load the configuration from the environment (and .env when present),
validate it against the schema and print it with secrets redacted.

When an operator key is configured, the derived operator address is
printed so it can be compared with the bookkeeping contract's owner.

Exit codes:
  0 - Configuration is valid
  2 - Configuration is invalid

Examples:
  vaultsync validate
  vaultsync validate --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			if f.Format == "json" {
				if err := f.Error(CodeConfigInvalid, "invalid configuration", verr.Fields); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(f.Writer, "Configuration invalid:")
				for _, fe := range verr.Fields {
					fmt.Fprintf(f.Writer, "  %s (%s): %s\n", fe.Env, fe.Field, fe.Message)
				}
			}
		}
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	out := cfg.Redacted()
	if cfg.OperatorKey != "" {
		id, err := authz.LoadIdentity(cfg.OperatorKey)
		if err != nil {
			if err := f.Error(CodeConfigInvalid, "invalid operator key", nil); err != nil {
				return err
			}
			return WrapExitError(ExitCommandError, "invalid operator key", err)
		}
		out["operator_address"] = id.Address.Hex()
	}

	return f.Success(out, func(w io.Writer) {
		fmt.Fprintln(w, "Configuration valid:")
		keys := make([]string, 0, len(out))
		for k := range out {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-22s %v\n", k, out[k])
		}
	})
}

package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/atinyakov/ozon/internal/app"
	"github.com/atinyakov/ozon/internal/credential"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/spf13/cobra"
)

// NewSweepCommand hard-deletes records whose retention elapsed.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove soft-deleted records past their retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd.Context(), func(a *app.App) error {
				swept, err := a.Data.SweepAll(cmd.Context())
				if perr := rootOpts.print(cmd.OutOrStdout(), swept, func(w io.Writer) {
					names := make([]string, 0, len(swept))
					for name := range swept {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						fmt.Fprintf(w, "%s\t%d\n", name, swept[name])
					}
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

// NewCleanSessionsCommand removes expired and closed sessions.
func NewCleanSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "clean-sessions",
		Short: "Remove sessions that expired more than --grace ago",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Sessions.CleanSessions(cmd.Context(), time.Now().Add(-grace))
				if err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]int64{"deleted": n}, func(w io.Writer) {
					fmt.Fprintf(w, "%d sessions removed\n", n)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "keep sessions expired less than this long ago")
	return cmd
}

// NewEnsureIndexesCommand creates the unique indexes of every model.
func NewEnsureIndexesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create the unique indexes of every model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Data.EnsureIndexes(cmd.Context()); err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]string{"status": "ok"}, func(w io.Writer) {
					fmt.Fprintln(w, "indexes ensured")
				})
			})
		},
	}
}

// NewLoadModelsCommand saves the model definitions of a YAML file.
func NewLoadModelsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load-models <file.yaml>",
		Short: "Load model definitions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.LoadModels(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]int{"loaded": n}, func(w io.Writer) {
					fmt.Fprintf(w, "%d models loaded\n", n)
				})
			})
		},
	}
}

// NewModelsCommand lists the resolvable models.
func NewModelsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd.Context(), func(a *app.App) error {
				names, err := a.Data.Models(cmd.Context())
				if err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), names, func(w io.Writer) {
					for _, n := range names {
						fmt.Fprintln(w, n)
					}
				})
			})
		},
	}
}

// NewCreateUserCommand creates or updates a user of the directory.
func NewCreateUserCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		password string
		user     models.User
	)
	cmd := &cobra.Command{
		Use:   "create-user <uid>",
		Short: "Create or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			user.UID = args[0]
			return rootOpts.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Auth.RegisterUser(cmd.Context(), &user, password); err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), user, func(w io.Writer) {
					fmt.Fprintf(w, "user %s saved\n", user.UID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&user.FullName, "full-name", "", "display name")
	cmd.Flags().StringVar(&user.Mail, "mail", "", "mail address")
	cmd.Flags().BoolVar(&user.IsAdmin, "admin", false, "grant administrator rights")
	cmd.Flags().StringVar(&user.Token, "api-token", "", "api token for machine callers")
	cmd.Flags().StringSliceVar(&user.AllowedUsers, "allowed-users", nil, "uids whose records the user may access")
	return cmd
}

// NewHashPasswordCommand prints the hash of a password. It needs no
// store connection.
func NewHashPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	var hasher string
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the hash of a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := credential.NewRegistry().New(hasher)
			if err != nil {
				return err
			}
			hash, err := h.Hash(args[0])
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), map[string]string{"hash": hash}, func(w io.Writer) {
				fmt.Fprintln(w, hash)
			})
		},
	}
	cmd.Flags().StringVar(&hasher, "hasher", credential.Argon2ID, "password hasher (argon2id, bcrypt)")
	return cmd
}

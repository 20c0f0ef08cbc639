// Package cli implements the backofficectl administrative commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/automata-backoffice/backoffice/internal/users"
	"github.com/automata-backoffice/backoffice/jobs"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(newLiveRuntime, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCmd assembles the command tree over factory.
func NewRootCmd(factory RuntimeFactory, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "backofficectl",
		Short:         "Backoffice administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)

	root.AddCommand(
		newMigrateCmd(factory),
		newBootstrapCmd(factory),
		newUnlockUserCmd(factory),
		newJobsCmd(factory),
		newSettingsCmd(factory),
	)
	return root
}

func withRuntime(cmd *cobra.Command, factory RuntimeFactory, fn func(context.Context, Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := factory(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(ctx, rt)
}

func newMigrateCmd(factory RuntimeFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, factory, func(ctx context.Context, rt Runtime) error {
				if err := rt.Migrate(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newBootstrapCmd(factory RuntimeFactory) *cobra.Command {
	var admin users.CreateUserInput
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Load the permission manifest, system roles and default messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if admin.Username != "" && admin.Password == "" {
				return errors.New("--admin-password is required with --admin-username")
			}
			return withRuntime(cmd, factory, func(ctx context.Context, rt Runtime) error {
				if err := rt.Bootstrap(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "bootstrap complete")
				if admin.Username == "" {
					return nil
				}
				user, err := rt.CreateUser(ctx, admin)
				if err != nil {
					return fmt.Errorf("create admin: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s with role %s\n", user.Username, user.AssignedRole)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&admin.Username, "admin-username", "", "Provision an initial user")
	cmd.Flags().StringVar(&admin.Email, "admin-email", "", "Email of the initial user")
	cmd.Flags().StringVar(&admin.Password, "admin-password", "", "Password of the initial user")
	cmd.Flags().StringVar(&admin.Role, "admin-role", "checker", "Role of the initial user")
	return cmd
}

func newUnlockUserCmd(factory RuntimeFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock-user <username>",
		Short: "Clear a login lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, factory, func(ctx context.Context, rt Runtime) error {
				if err := rt.UnlockUser(ctx, args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", args[0])
				return nil
			})
		},
	}
}

func newJobsCmd(factory RuntimeFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Background job helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a worker task",
		Long:      "Enqueue a worker task. Known tasks: " + strings.Join(jobs.TaskNames(), ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs.TaskNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := jobs.NewTask(args[0]); err != nil {
				return err
			}
			return withRuntime(cmd, factory, func(ctx context.Context, rt Runtime) error {
				id, err := rt.TriggerJob(ctx, args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s\n", args[0], id)
				return nil
			})
		},
	})
	return cmd
}

func newSettingsCmd(factory RuntimeFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage message settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Override a message template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, factory, func(ctx context.Context, rt Runtime) error {
				if err := rt.SetSetting(ctx, args[0], args[1]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/repository"
	"github.com/secura/vault/pkg/logger"
	"github.com/spf13/cobra"
)

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newSetRoleCommand("promote", "Grant the admin role", models.RoleAdmin))
	cmd.AddCommand(newSetRoleCommand("demote", "Revoke the admin role", models.RoleUser))
	cmd.AddCommand(newListUsersCommand())
	return cmd
}

func newSetRoleCommand(use, short string, role models.Role) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			users := repository.NewUserRepository(db)
			email := strings.ToLower(strings.TrimSpace(args[0]))
			user, err := users.GetByEmail(cmd.Context(), email)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("no account with email %q", email)
			}
			if err != nil {
				return err
			}

			if err := users.SetRole(cmd.Context(), user.ID, role); err != nil {
				return err
			}
			logger.Audit("role_changed", user.ID, map[string]string{"role": string(role)})
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s (sign in again to apply)\n", email, role)
			return nil
		},
	}
}

func newListUsersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			users, err := repository.NewUserRepository(db).List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tROLE\tCREATED")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Role, u.CreatedAt.UTC().Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

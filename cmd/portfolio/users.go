package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	adminEmail    string
	adminPassword string
	adminReset    bool
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Add an admin account or reset its password",
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminEmail == "" || adminPassword == "" {
			return errors.New("--email and --password are required")
		}
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if adminReset {
			if err := db.SetPassword(ctx, adminEmail, adminPassword); err != nil {
				return fmt.Errorf("reset password: %w", err)
			}
			logger.Info().Str("email", adminEmail).Msg("password reset")
			return nil
		}
		id, err := db.CreateUser(ctx, adminEmail, adminPassword, []string{"admin"})
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		logger.Info().Str("email", adminEmail).Str("id", id).Msg("admin created")
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "account email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "account password")
	createAdminCmd.Flags().BoolVar(&adminReset, "reset", false, "reset the password of an existing account")
}

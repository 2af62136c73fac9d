package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xelth-com/trainingcms/internal/config"
	"github.com/xelth-com/trainingcms/internal/utils"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin access token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			email = cfg.AdminEmail
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := utils.GenerateAdminToken(email, cfg.JWTSecret, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print the bcrypt hash to use as ADMIN_PASSWORD_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := utils.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("email", "", "Subject email (defaults to ADMIN_EMAIL)")
	tokenCmd.Flags().Duration("ttl", utils.AdminTokenTTL, "Token lifetime")
}

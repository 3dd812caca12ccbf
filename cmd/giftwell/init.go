package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	initCmd.Flags().String("base-url", "", "API origin override (e.g. for staging)")
	initCmd.Flags().String("user-id", "", "local user id, used for read receipts")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store the bearer token",
	Long:  "Store the bearer token (and optionally a base URL) in ~/.giftwell/config.toml.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if v, _ := cmd.Flags().GetString("base-url"); v != "" {
			cfg.Default.BaseURL = v
		}
		if v, _ := cmd.Flags().GetString("user-id"); v != "" {
			cfg.Auth.UserID = v
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Credentials saved.")
		return nil
	},
}

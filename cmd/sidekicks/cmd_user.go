package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xaenox/sidekicks/internal/storage"
)

func init() {
	rootCmd.AddCommand(userCmd, supervisorCmd)
	userCmd.AddCommand(userAllowCmd)
	supervisorCmd.AddCommand(supervisorTokenCmd)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users allowed to talk to sidekicks",
}

var userAllowCmd = &cobra.Command{
	Use:   "allow <platform> <user-id>",
	Short: "Allow a platform user to talk to sidekicks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePlatform(args[0])
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(store storage.Storage) error {
			if err := store.AllowUser(cmd.Context(), p, args[1]); err != nil {
				return fmt.Errorf("allow user: %w", err)
			}
			fmt.Printf("User %s may now talk to %s sidekicks.\n", args[1], p)
			return nil
		})
	},
}

var supervisorCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Manage supervisor settings kept in the store",
}

var supervisorTokenCmd = &cobra.Command{
	Use:   "set-discord-token <token>",
	Short: "Store the Discord supervisor token used when none is configured",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store storage.Storage) error {
			if err := store.SetConfig(cmd.Context(), storage.ConfigSupervisorDiscordToken, args[0]); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Println("Discord supervisor token stored.")
			return nil
		})
	},
}

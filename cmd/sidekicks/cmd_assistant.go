package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/storage"
)

var (
	assistantPlatform string
	assistantName     string
	assistantID       string
	assistantToken    string
)

func init() {
	rootCmd.AddCommand(assistantCmd)
	assistantCmd.AddCommand(assistantAddCmd, assistantListCmd)

	assistantCmd.PersistentFlags().StringVarP(&assistantPlatform, "platform", "p", string(models.PlatformDiscord), "platform (discord or telegram)")

	assistantAddCmd.Flags().StringVar(&assistantName, "name", "", "display name of the sidekick")
	assistantAddCmd.Flags().StringVar(&assistantID, "assistant-id", "", "OpenAI assistant ID")
	assistantAddCmd.Flags().StringVar(&assistantToken, "token", "", "bot token on the platform")
	for _, name := range []string{"name", "assistant-id", "token"} {
		_ = assistantAddCmd.MarkFlagRequired(name)
	}
}

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Manage assistants",
}

func parsePlatform(s string) (models.Platform, error) {
	p := models.Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

var assistantAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an assistant; running supervisors pick it up on restart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePlatform(assistantPlatform)
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(store storage.Storage) error {
			created, err := store.CreateAssistant(cmd.Context(), &models.Assistant{
				Name:          assistantName,
				Platform:      p,
				AssistantID:   assistantID,
				PlatformToken: assistantToken,
			})
			if errors.Is(err, storage.ErrDuplicate) {
				return fmt.Errorf("a sidekick for assistant %s already exists on %s", assistantID, p)
			}
			if err != nil {
				return fmt.Errorf("create assistant: %w", err)
			}
			fmt.Printf("Added %s (%s) on %s.\n", created.Name, created.AssistantID, created.Platform)
			return nil
		})
	},
}

var assistantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assistants of a platform",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePlatform(assistantPlatform)
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(store storage.Storage) error {
			list, err := store.ListAssistants(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("list assistants: %w", err)
			}
			if len(list) == 0 {
				fmt.Println("No assistants found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tASSISTANT\tCREATED")
			for _, a := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, a.AssistantID, a.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		})
	},
}

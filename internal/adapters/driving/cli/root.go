// Package cli implements the chatguard command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/chatguard/internal/app"
	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
	"github.com/custodia-labs/chatguard/internal/logger"
)

var (
	version   = "dev"
	verbose   bool
	configDir string
)

// Services used by the commands. They are built from configuration on first
// use; tests assign them directly.
var (
	chatService     driving.ChatService
	contentFilter   driving.ContentFilter
	knowledgeSearch driving.KnowledgeSearch
	historyService  driving.HistoryService

	application *app.App
)

var rootCmd = &cobra.Command{
	Use:   "chatguard",
	Short: "Moderated chat gateway",
	Long: `chatguard relays conversations to a language model while masking
sensitive terms in both directions, grounding questions in a local
knowledge base and recording every turn.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "config directory (default ~/.chatguard)")
}

// Execute runs the root command with the given build version.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	defer closeServices()
	defer logger.Sync() //nolint:errcheck

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadServices builds the application from configuration unless the
// services are already set.
func loadServices() error {
	if chatService != nil {
		return nil
	}

	a, err := app.New(configDir)
	if err != nil {
		return err
	}
	application = a
	chatService = a.Chat
	contentFilter = a.Chat
	knowledgeSearch = a.Chat
	historyService = a.History
	return nil
}

func closeServices() {
	if application == nil {
		return
	}
	if err := application.Close(); err != nil {
		logger.Warn("closing: %v", err)
	}
	application = nil
}

package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/chatguard/internal/adapters/driven/config/file"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
	"github.com/custodia-labs/chatguard/internal/core/services"
)

// Settings commands only need the config file, not the full application.
var (
	settingsService driving.SettingsService
	configStore     driven.ConfigStore
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and change settings stored in config.toml.

Every key can also be set through the environment, e.g. llm.model is read
from CHATGUARD_LLM_MODEL. Environment values take precedence.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the settings for problems",
	RunE:  runSettingsValidate,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a setting in config.toml",
	Long: `Store a setting. Values that parse as booleans or numbers are stored as
such; "a,b,c" is stored as a list for filter.terms.

Examples:
  chatguard settings set llm.provider ollama
  chatguard settings set knowledge.top_k 5
  chatguard settings set filter.terms "spam,scam"`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsValidateCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func loadSettings() error {
	if settingsService != nil {
		return nil
	}
	store, err := file.NewConfigStore(configDir)
	if err != nil {
		return err
	}
	configStore = store
	settingsService = services.NewSettingsService(store)
	return nil
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(); err != nil {
		return err
	}

	settings, err := settingsService.Get()
	if err != nil {
		return err
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Server]")
	cmd.Printf("  Address: %s\n", settings.Server.Addr)
	cmd.Println()

	cmd.Println("[LLM]")
	cmd.Printf("  Provider: %s\n", settings.LLM.Provider.Description())
	cmd.Printf("  Model: %s\n", settings.LLM.Model)
	if settings.LLM.BaseURL != "" {
		cmd.Printf("  Base URL: %s\n", settings.LLM.BaseURL)
	}
	if settings.LLM.Provider.RequiresAPIKey() {
		if settings.LLM.APIKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(settings.LLM.APIKey))
		} else {
			cmd.Printf("  API Key: (not set)\n")
		}
	}
	cmd.Printf("  Timeout: %s\n", settings.LLM.Timeout)
	if settings.LLM.RequestsPerSecond > 0 {
		cmd.Printf("  Rate limit: %g req/s\n", settings.LLM.RequestsPerSecond)
	}
	status := "configured"
	if !settings.LLM.IsConfigured() {
		status = "not configured (replies use the fallback message)"
	}
	cmd.Printf("  Status: %s\n", status)
	cmd.Println()

	cmd.Println("[Filter]")
	cmd.Printf("  Terms file: %s\n", orBuiltIn(settings.Filter.TermsFile))
	if len(settings.Filter.Terms) > 0 {
		cmd.Printf("  Extra terms: %d\n", len(settings.Filter.Terms))
	}
	cmd.Printf("  Watch: %t\n", settings.Filter.Watch)
	cmd.Println()

	cmd.Println("[Knowledge]")
	cmd.Printf("  File: %s\n", orBuiltIn(settings.Knowledge.File))
	cmd.Printf("  Top K: %d\n", settings.Knowledge.TopK)
	cmd.Printf("  Threshold: %g\n", settings.Knowledge.Threshold)
	cmd.Println()

	cmd.Println("[Storage]")
	cmd.Printf("  Driver: %s\n", settings.Storage.Driver)
	if settings.Storage.DataDir != "" {
		cmd.Printf("  Data dir: %s\n", settings.Storage.DataDir)
	}
	cmd.Printf("  Client session ids: %t\n", settings.Session.ClientIDs)
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
	} else {
		cmd.Println("Configuration is valid.")
	}
	return nil
}

func runSettingsValidate(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(); err != nil {
		return err
	}
	if err := settingsService.Validate(); err != nil {
		return err
	}
	cmd.Println("Configuration is valid.")
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if err := loadSettings(); err != nil {
		return err
	}

	key, value := args[0], parseValue(args[0], args[1])
	if err := configStore.Set(key, value); err != nil {
		return err
	}
	cmd.Printf("Set %s\n", key)
	return nil
}

// parseValue converts a command line value to the type the settings expect.
func parseValue(key, raw string) any {
	if key == "filter.terms" {
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func orBuiltIn(path string) string {
	if path == "" {
		return "(built-in)"
	}
	return path
}

// maskAPIKey masks an API key for display, showing only first and last 4 characters.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

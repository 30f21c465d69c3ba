package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var filterJSON bool

var filterCmd = &cobra.Command{
	Use:   "filter [text]",
	Short: "Mask sensitive terms in text",
	Long: `Scans the text with the configured sensitive-term list and prints it with
every match replaced by asterisks, followed by the terms that were found.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFilter,
}

func init() {
	filterCmd.Flags().BoolVar(&filterJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(filterCmd)
}

func runFilter(cmd *cobra.Command, args []string) error {
	if err := loadServices(); err != nil {
		return err
	}

	masked, found := contentFilter.Filter(strings.Join(args, " "))
	if filterJSON {
		if found == nil {
			found = []string{}
		}
		return printJSON(cmd, map[string]any{"masked": masked, "found": found})
	}

	cmd.Println(masked)
	if len(found) > 0 {
		cmd.Printf("found: %s\n", strings.Join(found, ", "))
	}
	return nil
}

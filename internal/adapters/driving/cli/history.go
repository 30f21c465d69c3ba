package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

var (
	historySession  string
	historyLimit    int
	historyOffset   int
	historyJSON     bool
	historySessions bool
	historyRaw      bool
)

var historyCmd = &cobra.Command{
	Use:   "history [user-id]",
	Short: "Show a user's stored chat turns",
	Long: `Lists stored turns for a user, most recent first. The filtered text is
shown unless --raw is given. Use --sessions to list sessions instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

var historyDeleteSession string

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [user-id]",
	Short: "Delete a user's stored turns",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	historyCmd.Flags().StringVarP(&historySession, "session", "s", "", "only show this session")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", domain.DefaultHistoryLimit, "maximum number of turns")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "number of turns to skip")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
	historyCmd.Flags().BoolVar(&historySessions, "sessions", false, "list sessions by latest activity")
	historyCmd.Flags().BoolVar(&historyRaw, "raw", false, "show the unfiltered text")

	historyDeleteCmd.Flags().StringVarP(&historyDeleteSession, "session", "s", "", "only delete this session")
	historyCmd.AddCommand(historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := loadServices(); err != nil {
		return err
	}
	ctx := context.Background()
	userID := args[0]

	if historySessions {
		sessions, err := historyService.Sessions(ctx, userID)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if historyJSON {
			return printJSON(cmd, sessions)
		}
		if len(sessions) == 0 {
			cmd.Println("No sessions found.")
			return nil
		}
		for _, s := range sessions {
			cmd.Printf("%s  %s\n", s.LatestMessageTime.Local().Format(time.DateTime), s.SessionID)
		}
		return nil
	}

	turns, err := historyService.History(ctx, userID, domain.HistoryQuery{
		SessionID: historySession,
		Limit:     historyLimit,
		Offset:    historyOffset,
	})
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	if historyJSON {
		return printJSON(cmd, turns)
	}
	if len(turns) == 0 {
		cmd.Println("No history found.")
		return nil
	}

	for i := range turns {
		content := turns[i].FilteredContent
		if historyRaw || content == "" {
			content = turns[i].RawContent
		}
		cmd.Printf("[%d] %s %-9s %s\n",
			turns[i].ID,
			turns[i].Timestamp.Local().Format(time.DateTime),
			turns[i].Role,
			strings.ReplaceAll(content, "\n", " "))
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	if err := loadServices(); err != nil {
		return err
	}

	n, err := historyService.Delete(context.Background(), domain.DeleteFilter{
		UserID:    args[0],
		SessionID: historyDeleteSession,
	})
	if err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	cmd.Printf("Deleted %d turn(s).\n", n)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

var (
	chatUser    string
	chatSession string
	chatModel   string
	chatJSON    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message through the moderated pipeline",
	Long: `Sends a message to the configured model. Sensitive terms are masked in
the question and the reply, and relevant knowledge documents are attached.

On a terminal the reply is printed as it streams; otherwise only the final
reply is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "cli", "user id the turns are recorded under")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id to continue (requires session.client_ids)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "upstream model name")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print the full response as JSON")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := loadServices(); err != nil {
		return err
	}

	req := domain.ChatRequest{
		UserID:    chatUser,
		SessionID: chatSession,
		Model:     chatModel,
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: strings.Join(args, " ")}},
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := cmd.OutOrStdout()
	if chatJSON || !isTerminal(out) {
		resp, err := chatService.Chat(ctx, req)
		if err != nil {
			return err
		}
		if chatJSON {
			data, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal response: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		fmt.Fprintln(out, resp.Message.Content)
		return nil
	}

	// The final unit carries the whole reply filtered as one text. It is
	// printed again only when that masked more than the partial units did.
	var streamed strings.Builder
	return chatService.ChatStream(ctx, req, func(unit domain.StreamUnit) error {
		if !unit.IsFinal {
			streamed.WriteString(unit.Content)
			fmt.Fprint(out, unit.Content)
			return nil
		}
		if unit.Content != streamed.String() {
			if streamed.Len() > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprint(out, unit.Content)
		}
		fmt.Fprintln(out)
		if failed, _ := unit.Metadata[domain.MetaError].(bool); failed {
			cmd.PrintErrln("(reply interrupted)")
		}
		return nil
	})
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

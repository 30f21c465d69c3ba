package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/chatguard/internal/core/knowledge"
)

var (
	kbTopK int
	kbJSON bool
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Knowledge base commands",
}

var kbSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find the documents most relevant to a query",
	Long: `Ranks the knowledge documents by TF-IDF cosine similarity to the query.
Documents at or below the similarity threshold are not shown.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runKBSearch,
}

var kbShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a knowledge document",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBShow,
}

func init() {
	kbSearchCmd.Flags().IntVarP(&kbTopK, "top-k", "k", knowledge.DefaultTopK, "maximum number of documents")
	kbSearchCmd.Flags().BoolVar(&kbJSON, "json", false, "output as JSON")
	kbCmd.AddCommand(kbSearchCmd, kbShowCmd)
	rootCmd.AddCommand(kbCmd)
}

func runKBSearch(cmd *cobra.Command, args []string) error {
	if err := loadServices(); err != nil {
		return err
	}

	hits := knowledgeSearch.SearchKnowledge(strings.Join(args, " "), kbTopK)
	if kbJSON {
		return printJSON(cmd, hits)
	}
	if len(hits) == 0 {
		cmd.Println("No matching documents.")
		return nil
	}

	for i, h := range hits {
		cmd.Printf("[%d] %s (%s) %.3f\n", i+1, h.Title, h.ID, h.Similarity)
		cmd.Printf("    %s\n", truncate(h.Content, 120))
	}
	return nil
}

func runKBShow(cmd *cobra.Command, args []string) error {
	if err := loadServices(); err != nil {
		return err
	}

	doc, ok := knowledgeSearch.KnowledgeDocument(args[0])
	if !ok {
		return fmt.Errorf("knowledge document %q not found", args[0])
	}
	cmd.Printf("%s\n\n%s\n", doc.Title, doc.Content)
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

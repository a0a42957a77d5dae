package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Answer a question from ingested pages",
	Long: `Embed the question, search the vector index and answer from the most
similar passages. Without a configured language model the answer is built
from excerpts of the top passages.

Examples:
  ragweb query -q "what does the pricing page say about refunds"
  ragweb query -q "release schedule" -k 10 --json`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of passages to retrieve (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	topK := cfg.Retrieve.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.queryService().Query(cmd.Context(), queryText, topK)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Println(answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Printf("\nSources:\n")
		for i, c := range answer.Citations {
			fmt.Printf("  [%d] %s (chunk %d, score %.3f)\n", i+1, c.URL, c.ChunkIndex, c.Score)
		}
	}
	if !answer.UsedLLM {
		fmt.Printf("\n(answer built from excerpts, no language model used)\n")
	}
	return nil
}

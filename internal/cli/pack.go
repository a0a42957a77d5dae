package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ragweb/internal/adapter/llm"
	"ragweb/internal/usecase"
)

var (
	packQuery  string
	packBudget int
	packOutput string
	packTopK   int
	packPrompt bool
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack relevant passages for LLM consumption",
	Long: `Retrieve passages for a question and pack the best of them into a token
budget, with their sources. Use --prompt to print the exact system and user
messages the answer generator would send, for manual LLM orchestration.

Examples:
  ragweb pack -q "how are refunds handled"
  ragweb pack -q "release schedule" -b 2000 -o context.json
  ragweb pack -q "release schedule" --prompt`,
	Args: cobra.NoArgs,
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
	packCmd.Flags().StringVarP(&packQuery, "query", "q", "", "question (required)")
	packCmd.Flags().IntVarP(&packBudget, "budget", "b", 0, "token budget (default from config)")
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "output file (default: stdout)")
	packCmd.Flags().IntVarP(&packTopK, "top-k", "k", 0, "candidate pool size (default from config)")
	packCmd.Flags().BoolVar(&packPrompt, "prompt", false, "print the generator prompt instead of JSON")
	packCmd.MarkFlagRequired("query")
}

type packedPassage struct {
	URL        string  `json:"url"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Tokens     int     `json:"tokens"`
	Text       string  `json:"text"`
}

type packedOutput struct {
	Query        string          `json:"query"`
	Passages     []packedPassage `json:"passages"`
	BudgetTokens int             `json:"budget_tokens"`
	UsedTokens   int             `json:"used_tokens"`
	Dropped      int             `json:"dropped"`
}

func runPack(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	topK := cfg.Retrieve.TopK
	if packTopK > 0 {
		topK = packTopK
	}
	budget := cfg.LLM.ContextTokens
	if packBudget > 0 {
		budget = packBudget
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	_, passages, err := a.retrieveUseCase().Retrieve(ctx, packQuery, topK)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	if len(passages) == 0 {
		fmt.Fprintln(os.Stderr, "No relevant content found.")
		return nil
	}

	packed := usecase.NewContextPacker(a.tokenizer, budget, cfg.LLM.MaxContextChunks).Pack(passages)

	var output []byte
	if packPrompt {
		system, user := llm.Prompt(packQuery, packed.Passages)
		output = []byte(fmt.Sprintf("### System\n%s\n\n### User\n%s\n", system, user))
	} else {
		out := packedOutput{
			Query:        packQuery,
			Passages:     make([]packedPassage, len(packed.Passages)),
			BudgetTokens: packed.BudgetTokens,
			UsedTokens:   packed.UsedTokens,
			Dropped:      packed.Dropped,
		}
		for i, p := range packed.Passages {
			out.Passages[i] = packedPassage{
				URL:        p.Chunk.URL,
				ChunkIndex: p.Chunk.ChunkIndex,
				Score:      p.Score,
				Tokens:     p.Chunk.TokenCount,
				Text:       p.Chunk.Text,
			}
		}
		output, err = json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
	}

	if packOutput != "" {
		if err := os.WriteFile(packOutput, output, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Printf("Context packed to: %s\n", packOutput)
		fmt.Printf("  Passages: %d (%d dropped)\n", len(packed.Passages), packed.Dropped)
		fmt.Printf("  Tokens:   %d / %d\n", packed.UsedTokens, packed.BudgetTokens)
	} else {
		fmt.Println(string(output))
	}
	return nil
}

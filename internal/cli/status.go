package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ragweb/internal/domain"
)

var (
	statusFilter string
	statusLimit  int
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status [ingestion-id]",
	Short: "Show ingestion status",
	Long: `Show one ingestion by id, or list recent ingestions.

Examples:
  ragweb status 3f0c9a4e-6f55-4a57-9a53-2b1f0c1d7e11
  ragweb status --status failed --limit 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "only list ingestions in this status")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "maximum number of ingestions to list")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

type ingestionView struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	Title        string    `json:"title,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Chunks       int       `json:"chunks"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var ings []domain.Ingestion
	if len(args) == 1 {
		ing, err := st.GetIngestion(ctx, args[0])
		if err != nil {
			return fmt.Errorf("ingestion %s: %w", args[0], err)
		}
		ings = []domain.Ingestion{*ing}
	} else {
		status := domain.Status(statusFilter)
		if status != "" && !status.Valid() {
			return fmt.Errorf("unknown status %q", statusFilter)
		}
		ings, err = st.ListIngestions(ctx, status, statusLimit)
		if err != nil {
			return fmt.Errorf("failed to list ingestions: %w", err)
		}
	}

	views := make([]ingestionView, 0, len(ings))
	for _, ing := range ings {
		chunks, err := st.CountChunks(ctx, ing.ID)
		if err != nil {
			return err
		}
		views = append(views, ingestionView{
			ID:           ing.ID,
			URL:          ing.URL,
			Status:       string(ing.Status),
			Title:        ing.Title,
			ErrorMessage: ing.ErrorMessage,
			Chunks:       chunks,
			CreatedAt:    ing.CreatedAt,
			UpdatedAt:    ing.UpdatedAt,
		})
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(views) == 0 {
		fmt.Println("No ingestions found")
		return nil
	}
	for _, v := range views {
		fmt.Printf("%s  %-10s %4d chunks  %s\n", v.ID, v.Status, v.Chunks, v.URL)
		if v.Title != "" {
			fmt.Printf("    title:   %s\n", v.Title)
		}
		if v.ErrorMessage != "" {
			fmt.Printf("    error:   %s\n", v.ErrorMessage)
		}
		fmt.Printf("    updated: %s\n", v.UpdatedAt.Local().Format(time.RFC3339))
	}
	return nil
}

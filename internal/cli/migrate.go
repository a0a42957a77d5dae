package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragweb/internal/adapter/store"
)

var migrateAccept bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply metadata schema migrations",
	Long: `Apply pending schema migrations to the sqlite or postgres metadata store
and report whether the stored data was built under a different chunking or
embedding configuration.

Examples:
  ragweb migrate
  ragweb migrate --accept-config   # record the current configuration as the baseline`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateAccept, "accept-config", false, "record the current index configuration even if it changed")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	if cfg.Database.Driver == "memory" {
		fmt.Println("The memory database has no schema to migrate")
		return nil
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer st.Close()

	before, err := st.CheckMigration(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}
	if before.NeedsRebuild && before.NewVersion < before.OldVersion {
		return fmt.Errorf("cannot migrate: %s", before.Reason)
	}

	if before.NeedsMigration {
		fmt.Printf("Running schema migration: %s\n", before.Reason)
	}
	applied, err := st.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	after, err := st.CheckMigration(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Schema version:  %d (%d migrations applied)\n", version, applied)
	fmt.Printf("Config hash:     %s\n", store.ComputeConfigHash(cfg))

	if after.NeedsRebuild && !migrateAccept {
		fmt.Printf("\nWarning: %s.\n", after.Reason)
		fmt.Println("Existing vectors were built with other chunking or embedding settings and")
		fmt.Println("will not compare well with new ones. Re-ingest into a fresh index, or pass")
		fmt.Println("--accept-config to keep the data and record the current settings.")
		return nil
	}
	if err := st.RecordConfig(ctx, cfg); err != nil {
		return err
	}
	fmt.Println("Configuration recorded")
	return nil
}

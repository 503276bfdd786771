package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/migrate"
)

var statusPlugin string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a plugin's migration status",
	Long:  "Display whether the plugin's schema has been migrated and when",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		locker, err := buildLocker(cfg, db)
		if err != nil {
			return err
		}

		coordinator := migrate.New(db, locker, logger, migrate.Options{
			CorePlugin: cfg.Migration.CorePlugin,
		})

		record, err := coordinator.Status(cmd.Context(), statusPlugin)
		if err != nil {
			return err
		}

		if record == nil {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("%s %s [never migrated]\n", yellow("○"), statusPlugin)
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s [migrated %s]\n", green("✓"), record.PluginName,
			record.AppliedAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusPlugin, "plugin", "p", "", "plugin name (required)")
	statusCmd.MarkFlagRequired("plugin")
}

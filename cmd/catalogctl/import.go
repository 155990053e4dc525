package main

import (
	"context"
	"fmt"
	"os"

	"multiverse-server/internal/catalog"
	"multiverse-server/internal/database"

	"github.com/spf13/cobra"
)

var importStrict bool

func readDocument(path string) (*catalog.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := catalog.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func printDefects(cmd *cobra.Command, defects []catalog.Defect) {
	if len(defects) == 0 {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Content defects (%d):\n", len(defects))
	for _, d := range defects {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", d)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.yaml>...",
		Short: "Check story documents without touching the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				doc, err := readDocument(path)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
					failed++
					continue
				}
				defects := doc.Check()
				fmt.Fprintf(cmd.OutOrStdout(), "%s: story %s, %d nodes\n", path, catalog.StoryID(doc.Slug), len(doc.Nodes))
				printDefects(cmd, defects)
				if len(defects) > 0 {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed validation", failed, len(args))
			}
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Validate a story document and upsert it into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			zlog, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = zlog.Sync() }()

			ctx := context.Background()
			pool, err := connect(ctx, zlog)
			if err != nil {
				return err
			}
			defer pool.Close()

			importer := catalog.NewImporter(database.NewTxManager(pool), database.NewPgCatalogRepository(zlog), zlog)
			report, err := importer.Import(ctx, doc, importStrict)
			if report != nil {
				printDefects(cmd, report.Defects)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported story %s: %d characters, %d nodes\n", report.StoryID, report.Characters, report.Nodes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&importStrict, "strict", false, "Reject documents with content defects")
	return cmd
}

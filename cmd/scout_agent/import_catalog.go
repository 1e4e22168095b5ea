package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/scout-agent/internal/catalog"
)

var importCatalogCmd = &cobra.Command{
	Use:   "import-catalog",
	Short: "Append job postings to the catalog workbook",
	Long: `Reads one job record or an array of records in the importer JSON shape
(job_id, company_name, position_name, ...) and appends them to the catalog sheet.
A posting whose company and title are already in the sheet is skipped.
The workbook and sheet are created when missing.`,
	RunE: runImportCatalog,
}

var (
	importFile  string
	importTo    string
	importSheet string
)

func init() {
	importCatalogCmd.Flags().StringVar(&importFile, "file", "", "JSON file with one record or an array of records (- for stdin)")
	importCatalogCmd.Flags().StringVar(&importTo, "to", "", "Catalog workbook (.xlsx)")
	importCatalogCmd.Flags().StringVar(&importSheet, "sheet", catalog.DefaultSheet, "Sheet name")
	_ = importCatalogCmd.MarkFlagRequired("file")
	_ = importCatalogCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(importCatalogCmd)
}

func runImportCatalog(cmd *cobra.Command, _ []string) error {
	var (
		data []byte
		err  error
	)
	if importFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(importFile)
	}
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	records, err := decodeRecords(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var added, skipped int
	for _, rec := range records {
		row, err := catalog.Import(importTo, importSheet, rec)
		switch {
		case errors.Is(err, catalog.ErrDuplicate):
			skipped++
			fmt.Fprintf(out, "skipped: %v\n", err)
		case err != nil:
			return err
		default:
			added++
			fmt.Fprintf(out, "added row %d: %s / %s\n", row, rec.CompanyName, rec.PositionName)
		}
	}
	fmt.Fprintf(out, "%d added, %d skipped\n", added, skipped)
	return nil
}

// decodeRecords accepts a single record object or an array of them.
func decodeRecords(data []byte) ([]catalog.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var recs []catalog.Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("failed to parse records: %w", err)
		}
		return recs, nil
	}
	var rec catalog.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return []catalog.Record{rec}, nil
}

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/scout-agent/internal/batch"
	"github.com/jonathan/scout-agent/internal/config"
	"github.com/jonathan/scout-agent/internal/ingestion"
	"github.com/jonathan/scout-agent/internal/packing"
	"github.com/jonathan/scout-agent/internal/types"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Print the request body that would be sent for one candidate",
	Long: `Builds the size-bounded request envelope for a single candidate without calling any
service. Useful for checking how a long profile or a large catalog is truncated.

The body is written to stdout; the size after each shrink step goes to stderr.`,
	RunE: runPack,
}

var (
	packFlags       configFlags
	packName        string
	packProfileFile string
	packMaxBytes    int
)

func init() {
	packFlags.register(packCmd)
	packCmd.Flags().StringVar(&packName, "name", "", "Candidate name")
	packCmd.Flags().StringVar(&packProfileFile, "profile-file", "", "File holding the pasted profile (text or HTML)")
	packCmd.Flags().IntVar(&packMaxBytes, "max-bytes", 0, "Override the payload ceiling")
	_ = packCmd.MarkFlagRequired("profile-file")
	rootCmd.AddCommand(packCmd)
}

func runPack(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, &packFlags, nil)
	if err != nil {
		return err
	}
	profile, err := ingestion.IngestFromFile(packProfileFile)
	if err != nil {
		return err
	}

	limits := cfg.Packing
	if cmd.Flags().Changed("max-bytes") {
		limits.MaxBytes = packMaxBytes
	}

	var catalog []types.CatalogItem
	if cfg.Mode == config.ModeScout {
		if limits.MaxBytes <= 0 {
			limits.MaxBytes = batch.ScoutMaxBytes
		}
	} else {
		a := &app{cfg: cfg, logger: slog.Default()}
		if catalog, err = a.loadCatalog(); err != nil {
			return err
		}
	}

	if err := limits.Check(); err != nil {
		return err
	}
	packed, err := packing.Pack(packName, profile, catalog, limits)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(packed.Body))

	sizes := make([]string, len(packed.Sizes))
	for i, n := range packed.Sizes {
		sizes[i] = fmt.Sprint(n)
	}
	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "bytes: %d (limit %d)\n", len(packed.Body), limits.MaxBytes)
	fmt.Fprintf(errOut, "sizes: %s\n", strings.Join(sizes, " -> "))
	fmt.Fprintf(errOut, "catalog items: %d of %d\n", len(packed.Envelope.Catalog), len(catalog))
	if packed.Truncated {
		fmt.Fprintln(errOut, "truncated: yes")
	}
	return nil
}

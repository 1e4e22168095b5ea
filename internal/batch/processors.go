package batch

import (
	"context"
	"log/slog"

	"github.com/jonathan/scout-agent/internal/llm"
	"github.com/jonathan/scout-agent/internal/matching"
	"github.com/jonathan/scout-agent/internal/packing"
	"github.com/jonathan/scout-agent/internal/telemetry"
	"github.com/jonathan/scout-agent/internal/types"
)

// Matcher calls the matching service
type Matcher interface {
	Match(ctx context.Context, mode matching.Mode, body []byte) ([]byte, error)
}

// Generator is the part of llm.Client the processors use
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
	GenerateContent(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

func pack(logger *slog.Logger, row types.Row, catalog []types.CatalogItem, limits packing.Limits) (*packing.Packed, error) {
	packed, err := packing.Pack(row.Name, row.Profile, catalog, limits)
	if err != nil {
		return nil, stageErr(StagePack, err)
	}
	if packed.Truncated {
		telemetry.PayloadTruncated.Inc()
		logger.Info("batch.payload_truncated", "row_id", row.ID, "sizes", packed.Sizes,
			"catalog_items", len(packed.Envelope.Catalog))
	}
	return packed, nil
}

package batch

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/jonathan/scout-agent/internal/compose"
	"github.com/jonathan/scout-agent/internal/llm"
	"github.com/jonathan/scout-agent/internal/matching"
	"github.com/jonathan/scout-agent/internal/packing"
	"github.com/jonathan/scout-agent/internal/parsing"
	"github.com/jonathan/scout-agent/internal/prompts"
	"github.com/jonathan/scout-agent/internal/schemas"
	"github.com/jonathan/scout-agent/internal/types"
)

// DefaultInMailPositions is how many positions an in-mail presents.
const DefaultInMailPositions = 2

// InMailProcessor drafts an in-mail for a candidate against the job catalog.
// The draft comes from the generative service when Generator is set, otherwise from
// the matching service in in-mail mode.
type InMailProcessor struct {
	Catalog      []types.CatalogItem
	Limits       packing.Limits
	Generator    Generator
	Matcher      Matcher
	Tier         llm.ModelTier
	Normalizer   *parsing.Normalizer
	Composer     *compose.InMailComposer
	Sender       compose.Sender
	MaxPositions int
	Logger       *slog.Logger
}

// Process implements Processor.
func (p *InMailProcessor) Process(ctx context.Context, row types.Row) (*types.RowResult, error) {
	logger := p.logger()

	packed, err := pack(logger, row, p.Catalog, p.Limits)
	if err != nil {
		return nil, err
	}

	raw, err := p.call(ctx, packed)
	if err != nil {
		return nil, stageErr(StageCall, err)
	}

	normalizer := p.Normalizer
	if normalizer == nil {
		normalizer = parsing.NewNormalizer(parsing.InMailRequired...)
	}
	result, err := normalizer.Normalize(raw)
	if err != nil {
		return nil, stageErr(StageNormalize, err)
	}
	logger.Debug("batch.normalized", "row_id", row.ID, "variant", result.Variant, "positions", len(result.Positions))

	if err := parsing.Validate(result, parsing.InMailRequired); err != nil {
		return nil, stageErr(StageValidate, err)
	}
	if err := schemas.ValidateResult(result); err != nil {
		return nil, stageErr(StageValidate, err)
	}

	body, err := p.Composer.Compose(row.Name, result)
	if err != nil {
		return nil, stageErr(StageCompose, err)
	}

	return &types.RowResult{
		Positions: result.PositionLines(p.maxPositions()),
		Subject:   result.Subject,
		Message:   body,
		Raw:       raw,
	}, nil
}

func (p *InMailProcessor) call(ctx context.Context, packed *packing.Packed) (string, error) {
	if p.Generator == nil {
		body, err := p.Matcher.Match(ctx, matching.ModeInMail, packed.Body)
		return string(body), err
	}

	prompt, err := prompts.Render(prompts.KeyInMailDraft, map[string]string{
		"Placeholder":   compose.DefaultPlaceholder,
		"SenderCompany": p.Sender.Company,
		"MeetingHost":   p.Sender.MeetingHost,
		"MaxPositions":  strconv.Itoa(p.maxPositions()),
		"Envelope":      string(packed.Body),
	})
	if err != nil {
		return "", err
	}
	tier := p.Tier
	if tier == "" {
		tier = llm.TierStandard
	}
	return p.Generator.GenerateJSON(ctx, prompt, tier)
}

func (p *InMailProcessor) maxPositions() int {
	if p.MaxPositions > 0 {
		return p.MaxPositions
	}
	return DefaultInMailPositions
}

func (p *InMailProcessor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

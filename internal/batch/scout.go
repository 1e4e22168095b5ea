package batch

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jonathan/scout-agent/internal/compose"
	"github.com/jonathan/scout-agent/internal/llm"
	"github.com/jonathan/scout-agent/internal/matching"
	"github.com/jonathan/scout-agent/internal/packing"
	"github.com/jonathan/scout-agent/internal/parsing"
	"github.com/jonathan/scout-agent/internal/prompts"
	"github.com/jonathan/scout-agent/internal/types"
)

// Scout mode defaults
const (
	ScoutPositions      = 2
	ScoutMaxBytes       = 30000
	scoutProfilePreview = 1500
)

// ScoutProcessor matches a candidate and writes a friend-request note.
// The note is written by the generative service when Generator is set; any failure
// there falls back to a locally assembled note.
type ScoutProcessor struct {
	Limits     packing.Limits
	Matcher    Matcher
	Generator  Generator
	Normalizer *parsing.Normalizer
	Note       compose.NoteTemplate
	Logger     *slog.Logger
}

// Process implements Processor.
func (p *ScoutProcessor) Process(ctx context.Context, row types.Row) (*types.RowResult, error) {
	logger := p.logger()

	limits := p.Limits
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = ScoutMaxBytes
	}
	packed, err := pack(logger, row, nil, limits)
	if err != nil {
		return nil, err
	}

	raw, err := p.Matcher.Match(ctx, matching.ModeScout, packed.Body)
	if err != nil {
		return nil, stageErr(StageCall, err)
	}

	normalizer := p.Normalizer
	if normalizer == nil {
		normalizer = parsing.NewNormalizer()
	}
	result, err := normalizer.Normalize(raw)
	if err != nil {
		return nil, stageErr(StageNormalize, err)
	}
	if err := parsing.Validate(result, nil); err != nil {
		return nil, stageErr(StageValidate, err)
	}

	top := result.Positions
	if len(top) > ScoutPositions {
		top = top[:ScoutPositions]
	}

	note := p.note(ctx, logger, row, result, top)
	return &types.RowResult{
		Positions: result.PositionLines(ScoutPositions),
		Message:   note,
		Raw:       string(raw),
	}, nil
}

func (p *ScoutProcessor) note(ctx context.Context, logger *slog.Logger, row types.Row, result *types.ServiceResult, top []types.Position) string {
	if strings.TrimSpace(result.Note) != "" {
		return compose.FinishNote(p.Note, result.Note)
	}
	if p.Generator != nil {
		text, err := p.generate(ctx, row, top)
		if err == nil && strings.TrimSpace(text) != "" {
			return compose.FinishNote(p.Note, text)
		}
		logger.Warn("batch.note_fallback", "row_id", row.ID, "error", err)
	}
	return compose.LocalNote(p.Note, row.Name, top)
}

func (p *ScoutProcessor) generate(ctx context.Context, row types.Row, top []types.Position) (string, error) {
	limit := p.Note.MaxRunes
	if limit <= 0 {
		limit = compose.DefaultNoteLimit
	}
	prompt, err := prompts.Render(prompts.KeyFriendRequestNote, map[string]string{
		"MaxChars": strconv.Itoa(limit),
		"Name":     compose.Surname(row.Name),
		"JobLines": compose.JobLines(top, ScoutPositions),
		"URL":      p.Note.URL,
		"Profile":  packing.TruncateRunes(row.Profile, scoutProfilePreview),
	})
	if err != nil {
		return "", err
	}
	text, err := p.Generator.GenerateContent(ctx, prompt, llm.TierLite)
	if err != nil {
		return "", err
	}
	return llm.StripCodeFence(text), nil
}

func (p *ScoutProcessor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

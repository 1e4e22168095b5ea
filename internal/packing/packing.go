// Package packing builds size-bounded request envelopes for the matching service.
//
// Pack is pure: it never logs and never performs I/O. Callers decide how to
// report a truncated payload.
package packing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/scout-agent/internal/ingestion"
	"github.com/jonathan/scout-agent/internal/types"
)

// ErrSizeLimitExceeded is returned when even the minimal envelope exceeds the ceiling.
var ErrSizeLimitExceeded = errors.New("payload exceeds size limit after maximal truncation")

// Default limits
const (
	DefaultMaxBytes       = 30000
	DefaultShrinkRatio    = 0.8
	DefaultMinTextRunes   = 200
	DefaultMaxExtras      = 50
	DefaultMaxExtrasBytes = 20000
	DefaultMinFieldRunes  = 40
	identityFloorRunes    = 64
)

// Limits bounds the envelope produced by Pack
type Limits struct {
	MaxBytes       int     `json:"max_bytes" toml:"max_bytes"`               // ceiling on the serialized envelope
	ShrinkRatio    float64 `json:"shrink_ratio" toml:"shrink_ratio"`         // text length multiplier per iteration, in (0,1)
	MinTextRunes   int     `json:"min_text_runes" toml:"min_text_runes"`     // text is never cut below this
	MaxExtras      int     `json:"max_extras" toml:"max_extras"`             // catalog item count cap
	MaxExtrasBytes int     `json:"max_extras_bytes" toml:"max_extras_bytes"` // catalog serialized size cap
	MinFieldRunes  int     `json:"min_field_runes" toml:"min_field_runes"`   // catalog text fields are never cut below this
}

// DefaultLimits returns the limits used by the friend-request flow.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:       DefaultMaxBytes,
		ShrinkRatio:    DefaultShrinkRatio,
		MinTextRunes:   DefaultMinTextRunes,
		MaxExtras:      DefaultMaxExtras,
		MaxExtrasBytes: DefaultMaxExtrasBytes,
		MinFieldRunes:  DefaultMinFieldRunes,
	}
}

// Check rejects limits whose text floor alone could exceed MaxBytes.
// Pack never cuts text below MinTextRunes, so such limits fail with
// ErrSizeLimitExceeded on long profiles instead of shrinking further.
func (l Limits) Check() error {
	if l.MaxBytes > 0 && l.MinTextRunes*utf8.UTFMax > l.MaxBytes {
		return fmt.Errorf("max_bytes %d is below the text floor of %d runes (%d bytes)",
			l.MaxBytes, l.MinTextRunes, l.MinTextRunes*utf8.UTFMax)
	}
	return nil
}

// withDefaults fills zero values so a partially configured Limits still terminates.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxBytes <= 0 {
		l.MaxBytes = d.MaxBytes
	}
	if l.ShrinkRatio <= 0 || l.ShrinkRatio >= 1 {
		l.ShrinkRatio = d.ShrinkRatio
	}
	if l.MinTextRunes < 1 {
		l.MinTextRunes = 1
	}
	if l.MaxExtras <= 0 {
		l.MaxExtras = d.MaxExtras
	}
	if l.MaxExtrasBytes <= 0 {
		l.MaxExtrasBytes = d.MaxExtrasBytes
	}
	if l.MinFieldRunes < 1 {
		l.MinFieldRunes = 1
	}
	return l
}

// Packed is the result of Pack
type Packed struct {
	Body      []byte                // serialized envelope, exactly what is sent
	Envelope  types.RequestEnvelope // decoded form of Body
	Truncated bool                  // any part of the input was cut or dropped
	Sizes     []int                 // serialized size after each shrink iteration, non-increasing
}

// Pack builds the request envelope for a candidate and guarantees len(Body) <= limits.MaxBytes.
//
// The profile text is cut by ShrinkRatio per iteration until the envelope fits
// or MinTextRunes is reached. Catalog extras are capped independently first.
// If the envelope still does not fit at the text floor, the identity is cut and
// then catalog items are dropped; ErrSizeLimitExceeded means nothing more can go.
func Pack(identity, text string, extras []types.CatalogItem, limits Limits) (*Packed, error) {
	limits = limits.withDefaults()

	identity = strings.TrimSpace(identity)
	text = ingestion.NormalizeProfile(text)
	catalog, truncated := capExtras(extras, limits)

	p := &Packed{Truncated: truncated}
	env := types.RequestEnvelope{
		Candidate: types.Candidate{
			Name:            identity,
			LinkedInProfile: types.CandidateProfile{Text: text},
		},
		Catalog: catalog,
	}

	for {
		body, err := encode(env)
		if err != nil {
			return nil, err
		}
		p.Sizes = append(p.Sizes, len(body))
		if len(body) <= limits.MaxBytes {
			p.Body, p.Envelope = body, env
			return p, nil
		}

		current := []rune(env.Candidate.LinkedInProfile.Text)
		floor := min(limits.MinTextRunes, len(current))
		if len(current) <= floor {
			break
		}
		next := int(float64(len(current)) * limits.ShrinkRatio)
		if next >= len(current) {
			next = len(current) - 1
		}
		next = max(next, floor)
		env.Candidate.LinkedInProfile.Text = string(current[:next])
		p.Truncated = true
	}

	// Text is at its floor; shed everything else that can go.
	if r := []rune(env.Candidate.Name); len(r) > identityFloorRunes {
		env.Candidate.Name = string(r[:identityFloorRunes])
		p.Truncated = true
		if fits, err := p.measure(env, limits); err != nil || fits {
			return p, err
		}
	}
	for len(env.Catalog) > 0 {
		env.Catalog = env.Catalog[:len(env.Catalog)-1]
		if len(env.Catalog) == 0 {
			env.Catalog = nil
		}
		p.Truncated = true
		if fits, err := p.measure(env, limits); err != nil || fits {
			return p, err
		}
	}

	return nil, fmt.Errorf("%w: %d bytes > %d", ErrSizeLimitExceeded, p.Sizes[len(p.Sizes)-1], limits.MaxBytes)
}

// measure encodes env, records its size and stores it on p when it fits.
func (p *Packed) measure(env types.RequestEnvelope, limits Limits) (bool, error) {
	body, err := encode(env)
	if err != nil {
		return false, err
	}
	p.Sizes = append(p.Sizes, len(body))
	if len(body) > limits.MaxBytes {
		return false, nil
	}
	p.Body, p.Envelope = body, env
	return true, nil
}

// encode serializes without HTML escaping so the measured size is the sent size.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

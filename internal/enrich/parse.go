package enrich

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

type oracleResponse struct {
	Specialties *[]string       `json:"specialties"`
	Languages   *[]string       `json:"languages"`
	TrustScore  json.RawMessage `json:"trust_score"`
}

// ParseResult validates a raw oracle completion. Code fences are stripped,
// the specialties and languages keys are required, specialties must hold
// 1 to 3 non-blank items, and a trust score that is not a number inside
// [MinTrustScore, MaxTrustScore] is dropped rather than rejected. Every
// failure wraps ErrEnrichmentParse.
func ParseResult(raw string) (*model.EnrichmentResult, error) {
	text := cleanJSON(raw)
	if text == "" {
		return nil, eris.Wrap(ErrEnrichmentParse, "empty completion")
	}

	var resp oracleResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, eris.Wrapf(ErrEnrichmentParse, "decode: %v", err)
	}

	if resp.Specialties == nil {
		return nil, eris.Wrap(ErrEnrichmentParse, "missing key specialties")
	}
	if resp.Languages == nil {
		return nil, eris.Wrap(ErrEnrichmentParse, "missing key languages")
	}

	specialties := cleanList(*resp.Specialties)
	switch {
	case len(specialties) == 0:
		return nil, eris.Wrap(ErrEnrichmentParse, "specialties is empty")
	case len(specialties) > model.MaxSpecialties:
		return nil, eris.Wrapf(ErrEnrichmentParse, "specialties has %d items, max %d", len(specialties), model.MaxSpecialties)
	}

	return &model.EnrichmentResult{
		Specialties: specialties,
		Languages:   cleanList(*resp.Languages),
		TrustScore:  trustScore(resp.TrustScore),
	}, nil
}

// ToEnrichment converts a validated result to its column form. Lists are
// comma-joined; an empty language list is stored as unset.
func ToEnrichment(r *model.EnrichmentResult) model.Enrichment {
	e := model.Enrichment{TrustPrior: r.TrustScore}
	if len(r.Specialties) > 0 {
		s := strings.Join(r.Specialties, ", ")
		e.Specialties = &s
	}
	if len(r.Languages) > 0 {
		l := strings.Join(r.Languages, ", ")
		e.Languages = &l
	}
	return e
}

func trustScore(raw json.RawMessage) *float64 {
	var v float64
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return nil
	}
	if v < model.MinTrustScore || v > model.MaxTrustScore {
		return nil
	}
	return &v
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// cleanJSON strips markdown code fences and any prose around the outermost
// JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimPrefix(text, "json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// Package enrich looks up neighborhood and community names for an address
// using an AI model.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-enrich/internal/address"
	"github.com/sells-group/listing-enrich/internal/resilience"
)

// Enrichment is the area information returned for one address.
type Enrichment struct {
	Neighborhood string  `json:"neighborhood"`
	Community    string  `json:"community"`
	Confidence   float64 `json:"confidence"`
	Source       string  `json:"source"`
}

// Empty reports whether neither field was found.
func (e *Enrichment) Empty() bool {
	return e == nil || (e.Neighborhood == "" && e.Community == "")
}

// Provider resolves area names for an address.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, street, city, county string) (*Enrichment, error)
}

const systemPrompt = `You identify residential areas for US real-estate listings.
Given a street address, return the neighborhood and the master-planned community or subdivision it belongs to.
Use the commonly marketed name. Omit section, phase, unit and block qualifiers.
If you are not reasonably sure, use an empty string.
Respond with only a JSON object: {"neighborhood": "", "community": "", "confidence": 0.0}`

func buildPrompt(street, city, county string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Address: %s\n", strings.TrimSpace(street))
	if c := strings.TrimSpace(city); c != "" {
		fmt.Fprintf(&b, "City: %s\n", c)
	}
	if c := strings.TrimSpace(county); c != "" {
		fmt.Fprintf(&b, "County: %s\n", c)
	}
	return b.String()
}

type rawEnrichment struct {
	Neighborhood string `json:"neighborhood"`
	Community    string `json:"community"`
	Confidence   any    `json:"confidence"`
}

// parseEnrichment extracts the JSON answer from model output and cleans the
// area names. Unparseable output is a permanent error.
func parseEnrichment(text, source string) (*Enrichment, error) {
	cleaned := cleanJSON(text)

	var raw rawEnrichment
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, resilience.Permanent(eris.Wrapf(err, "enrich: %s returned unparseable answer", source))
	}

	return &Enrichment{
		Neighborhood: address.CleanAreaName(raw.Neighborhood),
		Community:    address.CleanAreaName(raw.Community),
		Confidence:   toConfidence(raw.Confidence),
		Source:       source,
	}, nil
}

func toConfidence(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
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

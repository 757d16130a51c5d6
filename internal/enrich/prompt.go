package enrich

import (
	"fmt"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

const promptTemplate = `You are a medical data assistant enriching surgeon profiles.

Surgeon:
- Name: %s
- Profile URL: %s

Respond with a single JSON object and nothing else:
- "specialties": up to %d key cosmetic specialties, as an array of strings
- "languages": languages spoken, as an array of strings
- "trust_score": a number from %g to %g based on public profile reputation
`

// BuildPrompt asks for specialties, languages and a trust estimate using only
// the surgeon's name and profile URL as context.
func BuildPrompt(s model.Surgeon) string {
	return fmt.Sprintf(promptTemplate, s.Name, s.ProfileURL,
		model.MaxSpecialties, model.MinTrustScore, model.MaxTrustScore)
}

package enrich

import "github.com/rotisserie/eris"

// Per-record failures. Neither aborts a batch; the surgeon stays unenriched
// and is selected again on the next run.
var (
	ErrEnrichmentParse   = eris.New("enrichment parse error")
	ErrEnrichmentPersist = eris.New("enrichment persist error")
)

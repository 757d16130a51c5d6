package extract

import "github.com/rotisserie/eris"

// Stage-fatal extraction failures. Neither is retried: the listing structure
// is presumed genuinely absent or changed.
var (
	// ErrSourceUnavailable means the page or a listing selector never
	// appeared within the configured wait.
	ErrSourceUnavailable = eris.New("source unavailable")

	// ErrStructureChanged means the listing rendered but no row exposed the
	// expected name and clinic fields.
	ErrStructureChanged = eris.New("structure changed")
)

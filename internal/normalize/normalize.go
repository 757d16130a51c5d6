// Package normalize turns raw directory rows into related clinic and surgeon
// record sets. It performs no I/O.
package normalize

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// Options configures Normalize.
type Options struct {
	// DefaultCountry is assigned to every emitted clinic.
	DefaultCountry string
}

// Result is the output of one normalization pass. Rejected counts raw rows
// dropped by the data-quality filter.
type Result struct {
	Clinics  []model.Clinic
	Surgeons []model.Surgeon
	Rejected int
}

// Normalize deduplicates clinic labels and maps each complete entry to a
// surgeon. Clinic ids count up from 1 in order of first occurrence, so the
// output is a pure function of the input order.
func Normalize(entries []model.RawDirectoryEntry, opts Options) Result {
	res := Result{
		Clinics:  []model.Clinic{},
		Surgeons: []model.Surgeon{},
	}

	ids := make(map[string]int64)
	for _, e := range entries {
		label := strings.TrimSpace(e.ClinicLabel)
		if label == "" {
			continue
		}
		if _, seen := ids[label]; seen {
			continue
		}
		id := int64(len(res.Clinics) + 1)
		ids[label] = id
		res.Clinics = append(res.Clinics, model.Clinic{
			ClinicID: id,
			Name:     label,
			Country:  opts.DefaultCountry,
		})
	}

	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		profileURL := strings.TrimSpace(e.ProfileURL)
		clinicID, ok := ids[strings.TrimSpace(e.ClinicLabel)]
		if name == "" || profileURL == "" || !ok {
			res.Rejected++
			zap.L().Debug("normalize: record rejected",
				zap.Int("position", i),
				zap.Bool("has_name", name != ""),
				zap.Bool("has_profile_url", profileURL != ""),
				zap.Bool("has_clinic", ok),
			)
			continue
		}
		res.Surgeons = append(res.Surgeons, model.Surgeon{
			Name:       name,
			ClinicID:   clinicID,
			ProfileURL: profileURL,
		})
	}

	return res
}

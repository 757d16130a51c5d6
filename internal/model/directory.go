// Package model defines the record shapes that flow between pipeline stages.
package model

// RawDirectoryEntry is one listing row exactly as observed on the directory
// source. It has no identity beyond its position in the extracted sequence.
type RawDirectoryEntry struct {
	Name        string `json:"name"`
	ClinicLabel string `json:"clinic_label"`
	ContactBlob string `json:"contact_blob,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
}

// Clinic is a deduplicated clinic. Identity is the trimmed name.
type Clinic struct {
	ClinicID int64   `json:"clinic_id"`
	Name     string  `json:"name"`
	City     *string `json:"city"`
	Country  string  `json:"country"`
}

// Surgeon is a practitioner linked to exactly one Clinic.
//
// SurgeonID is zero until the store assigns one. TrustPrior holds the
// enrichment oracle's provisional estimate; TrustScore is owned by the
// aggregation procedure.
type Surgeon struct {
	SurgeonID        int64    `json:"surgeon_id,omitempty"`
	Name             string   `json:"name"`
	ClinicID         int64    `json:"clinic_id"`
	ProfileURL       string   `json:"profile_url"`
	ProfileImageURL  *string  `json:"profile_image_url,omitempty"`
	Specialties      *string  `json:"specialties,omitempty"`
	Languages        *string  `json:"languages,omitempty"`
	TrustPrior       *float64 `json:"trust_prior,omitempty"`
	TrustScore       *float64 `json:"trust_score,omitempty"`
	SocialMediaScore *float64 `json:"social_media_score,omitempty"`
}

// Enriched reports whether the surgeon already carries derived attributes.
func (s Surgeon) Enriched() bool {
	return s.Specialties != nil
}

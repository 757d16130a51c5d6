// Package artifact reads and writes the JSON files that hand records from
// one stage to the next.
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// File names inside the artifacts directory.
const (
	RawEntriesFile     = "raw_entries.json"
	ClinicsFile        = "clinics.json"
	SurgeonsMappedFile = "surgeons_mapped.json"
)

// Dir is an artifacts directory.
type Dir string

// Path returns the full path of name inside d.
func (d Dir) Path(name string) string {
	return filepath.Join(string(d), name)
}

func (d Dir) WriteRawEntries(entries []model.RawDirectoryEntry) error {
	return Write(d.Path(RawEntriesFile), nonNil(entries))
}

func (d Dir) ReadRawEntries() ([]model.RawDirectoryEntry, error) {
	var entries []model.RawDirectoryEntry
	return entries, Read(d.Path(RawEntriesFile), &entries)
}

func (d Dir) WriteClinics(clinics []model.Clinic) error {
	return Write(d.Path(ClinicsFile), nonNil(clinics))
}

func (d Dir) ReadClinics() ([]model.Clinic, error) {
	var clinics []model.Clinic
	return clinics, Read(d.Path(ClinicsFile), &clinics)
}

func (d Dir) WriteSurgeons(surgeons []model.Surgeon) error {
	return Write(d.Path(SurgeonsMappedFile), nonNil(surgeons))
}

func (d Dir) ReadSurgeons() ([]model.Surgeon, error) {
	var surgeons []model.Surgeon
	return surgeons, Read(d.Path(SurgeonsMappedFile), &surgeons)
}

// Write marshals v as indented JSON and atomically replaces path with it, so
// a reader never observes a half-written artifact.
func Write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "artifact: marshal %s", filepath.Base(path))
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "artifact: create temp for %s", filepath.Base(path))
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "artifact: write %s", filepath.Base(path))
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "artifact: close %s", filepath.Base(path))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "artifact: rename into %s", path)
	}
	return nil
}

// Read unmarshals the JSON array at path into v.
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "artifact: decode %s", path)
	}
	return nil
}

// nonNil keeps empty sets serialized as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

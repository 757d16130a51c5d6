package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

func TestDir_RawEntriesRoundTrip(t *testing.T) {
	d := Dir(filepath.Join(t.TempDir(), "nested", "data"))
	entries := []model.RawDirectoryEntry{
		{Name: "Dr. A", ClinicLabel: "Acme Clinic", ProfileURL: "/a"},
		{Name: "", ClinicLabel: "Acme Clinic", ProfileURL: "/b"},
	}

	require.NoError(t, d.WriteRawEntries(entries))
	got, err := d.ReadRawEntries()
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestDir_EmptySetsWriteArrays(t *testing.T) {
	d := Dir(t.TempDir())

	require.NoError(t, d.WriteClinics(nil))
	data, err := os.ReadFile(d.Path(ClinicsFile))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestDir_SurgeonsShape(t *testing.T) {
	d := Dir(t.TempDir())
	require.NoError(t, d.WriteSurgeons([]model.Surgeon{{Name: "Dr. A", ClinicID: 1, ProfileURL: "/a"}}))

	data, err := os.ReadFile(d.Path(SurgeonsMappedFile))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Dr. A","clinic_id":1,"profile_url":"/a"}]`, string(data))
}

func TestWrite_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")

	require.NoError(t, Write(path, []int{1}))
	require.NoError(t, Write(path, []int{1, 2}))

	var got []int
	require.NoError(t, Read(path, &got))
	assert.Equal(t, []int{1, 2}, got)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "temp files must not be left behind")
}

func TestRead_Missing(t *testing.T) {
	_, err := Dir(t.TempDir()).ReadClinics()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact: read")
}

func TestRead_Malformed(t *testing.T) {
	d := Dir(t.TempDir())
	require.NoError(t, os.WriteFile(d.Path(RawEntriesFile), []byte(`{"not":"an array"}`), 0o644))

	_, err := d.ReadRawEntries()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

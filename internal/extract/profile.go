package extract

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile holds every selector the strategies depend on, so a markup change
// can be absorbed by editing a YAML file.
type Profile struct {
	Origin string          `yaml:"origin"`
	Flat   FlatSelectors   `yaml:"flat"`
	Framed FramedSelectors `yaml:"framed"`
}

// FlatSelectors locate listing items directly in the page DOM.
type FlatSelectors struct {
	Container string `yaml:"container"`
	Item      string `yaml:"item"`
	Name      string `yaml:"name"`
	Clinic    string `yaml:"clinic"`
	Link      string `yaml:"link"`
}

// FramedSelectors locate table rows inside an embedded frame. Cells are
// addressed by position.
type FramedSelectors struct {
	Frame      string `yaml:"frame"`
	Row        string `yaml:"row"`
	Cell       string `yaml:"cell"`
	NameCell   int    `yaml:"name_cell"`
	ClinicCell int    `yaml:"clinic_cell"`
	Link       string `yaml:"link"`
}

// DefaultProfile returns the selectors for the Turkish plastic surgery
// society member directory.
func DefaultProfile() Profile {
	return Profile{
		Origin: "https://turkplasticsurgery.org",
		Flat: FlatSelectors{
			Container: ".member-listing",
			Item:      ".single-member",
			Name:      "h3",
			Clinic:    "p",
			Link:      "a[href]",
		},
		Framed: FramedSelectors{
			Frame:      "iframe",
			Row:        "tr.tbl",
			Cell:       "td",
			NameCell:   0,
			ClinicCell: 1,
			Link:       "a[href]",
		},
	}
}

// LoadProfile reads a YAML profile from path. Keys missing from the file keep
// their DefaultProfile values. An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "extract: read profile %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, eris.Wrapf(err, "extract: parse profile %s", path)
	}
	if err := p.validate(); err != nil {
		return p, eris.Wrapf(err, "extract: profile %s", path)
	}
	return p, nil
}

func (p Profile) validate() error {
	switch {
	case p.Flat.Container == "" || p.Flat.Item == "":
		return eris.New("flat.container and flat.item are required")
	case p.Framed.Frame == "" || p.Framed.Row == "" || p.Framed.Cell == "":
		return eris.New("framed.frame, framed.row and framed.cell are required")
	case p.Framed.NameCell < 0 || p.Framed.ClinicCell < 0:
		return eris.New("framed cell positions must be >= 0")
	}
	return nil
}

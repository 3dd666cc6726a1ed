package region

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed data/br.yml
var defaultData []byte

var (
	ErrUnknownRegion = errors.New("unknown region")
	ErrUnknownCity   = errors.New("city not available for region")
)

// Region is an administrative region (a Brazilian UF) and its cities.
type Region struct {
	ID     string   `yaml:"id"     json:"id"`
	Name   string   `yaml:"name"   json:"name"`
	Cities []string `yaml:"cities" json:"-"`
}

// Directory is the region/city reference data.
type Directory interface {
	Regions() []Region
	Cities(regionID string) []string
}

// StaticDirectory is a Directory loaded once from YAML.
type StaticDirectory struct {
	regions []Region
	byID    map[string]int
	byName  map[string]string
}

type directoryFile struct {
	Regions []Region `yaml:"regions"`
}

// LoadDirectory reads the YAML file at path, or the embedded Brazilian data
// when path is empty.
func LoadDirectory(path string) (*StaticDirectory, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ParseDirectory(defaultData)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file %q: %w", path, err)
	}
	return ParseDirectory(content)
}

// ParseDirectory decodes region data in the br.yml layout.
func ParseDirectory(content []byte) (*StaticDirectory, error) {
	var file directoryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}
	if len(file.Regions) == 0 {
		return nil, errors.New("parse regions: no regions defined")
	}

	d := &StaticDirectory{
		regions: make([]Region, 0, len(file.Regions)),
		byID:    make(map[string]int, len(file.Regions)),
		byName:  make(map[string]string, len(file.Regions)),
	}
	for _, r := range file.Regions {
		r.ID = strings.ToUpper(strings.TrimSpace(r.ID))
		r.Name = strings.TrimSpace(r.Name)
		if r.ID == "" {
			return nil, fmt.Errorf("parse regions: region %q has no id", r.Name)
		}
		if _, dup := d.byID[r.ID]; dup {
			return nil, fmt.Errorf("parse regions: duplicate region %q", r.ID)
		}
		d.byID[r.ID] = len(d.regions)
		d.byName[Fold(r.Name)] = r.ID
		d.regions = append(d.regions, r)
	}
	return d, nil
}

func (d *StaticDirectory) Regions() []Region {
	out := make([]Region, len(d.regions))
	copy(out, d.regions)
	return out
}

func (d *StaticDirectory) Cities(regionID string) []string {
	i, ok := d.byID[strings.ToUpper(strings.TrimSpace(regionID))]
	if !ok {
		return nil
	}
	out := make([]string, len(d.regions[i].Cities))
	copy(out, d.regions[i].Cities)
	return out
}

// Has reports whether regionID is a known region code.
func (d *StaticDirectory) Has(regionID string) bool {
	_, ok := d.byID[strings.ToUpper(strings.TrimSpace(regionID))]
	return ok
}

// CodeFor maps a region name as returned by a geocoder ("São Paulo",
// "sao paulo") or a code ("sp") to its code. Unknown names are returned
// trimmed and unchanged.
func (d *StaticDirectory) CodeFor(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if d.Has(name) {
		return strings.ToUpper(name)
	}
	if id, ok := d.byName[Fold(name)]; ok {
		return id
	}
	return name
}

// Fold lowercases s and strips diacritics, for accent-insensitive matching.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}

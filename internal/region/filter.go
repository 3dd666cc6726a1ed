package region

import (
	"fmt"
	"strings"
	"sync"
)

// Mode says which rule the feed filter applies.
type Mode int

const (
	// ModeAuto filters by distance from the user.
	ModeAuto Mode = iota
	// ModeOverride filters by the selected region and city, ignoring radius.
	ModeOverride
)

func (m Mode) String() string {
	if m == ModeOverride {
		return "override"
	}
	return "auto"
}

// Selection is the region criterion handed to the feed.
type Selection struct {
	Override  bool   `json:"override"`
	Estado    string `json:"estado"`
	Municipio string `json:"municipio"`
}

// Matches reports whether a secret stamped with estado/municipio passes the
// override filter. An incomplete selection matches nothing.
func (s Selection) Matches(estado, municipio string) bool {
	if s.Estado == "" || s.Municipio == "" {
		return false
	}
	return estado == s.Estado && municipio == s.Municipio
}

// State is a read-only view of a Filter.
type State struct {
	Mode              Mode     `json:"-"`
	ModeName          string   `json:"mode"`
	Estado            string   `json:"estado"`
	Municipio         string   `json:"municipio"`
	OriginalEstado    string   `json:"originalEstado"`
	OriginalMunicipio string   `json:"originalMunicipio"`
	Cities            []string `json:"cities"`
}

// Filter tracks the detected region of the user and any manual selection.
// The override is active whenever the selection differs from the detected
// values.
type Filter struct {
	dir Directory

	mu                sync.Mutex
	originalEstado    string
	originalMunicipio string
	estado            string
	municipio         string
}

func NewFilter(dir Directory) *Filter {
	return &Filter{dir: dir}
}

// SetDetected records the region resolved for the user's location and
// resets the selection to it.
func (f *Filter) SetDetected(estado, municipio string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.originalEstado = strings.TrimSpace(estado)
	f.originalMunicipio = strings.TrimSpace(municipio)
	f.estado = f.originalEstado
	f.municipio = f.originalMunicipio
}

// SelectEstado changes the selected region. The selected city is kept only
// when it belongs to the new region.
func (f *Filter) SelectEstado(estado string) error {
	estado = strings.ToUpper(strings.TrimSpace(estado))
	f.mu.Lock()
	defer f.mu.Unlock()

	if estado == f.estado {
		return nil
	}
	if estado != "" && !f.knownLocked(estado) {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, estado)
	}
	f.estado = estado
	if name, ok := f.cityLocked(estado, f.municipio); ok {
		f.municipio = name
	} else {
		f.municipio = ""
	}
	return nil
}

// SelectMunicipio changes the selected city within the selected region.
func (f *Filter) SelectMunicipio(municipio string) error {
	municipio = strings.TrimSpace(municipio)
	f.mu.Lock()
	defer f.mu.Unlock()

	name, ok := f.cityLocked(f.estado, municipio)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownCity, f.estado, municipio)
	}
	f.municipio = name
	return nil
}

// Clear restores the detected region and city.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estado = f.originalEstado
	f.municipio = f.originalMunicipio
}

func (f *Filter) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modeLocked()
}

func (f *Filter) Selection() Selection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Selection{
		Override:  f.modeLocked() == ModeOverride,
		Estado:    f.estado,
		Municipio: f.municipio,
	}
}

func (f *Filter) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	mode := f.modeLocked()
	return State{
		Mode:              mode,
		ModeName:          mode.String(),
		Estado:            f.estado,
		Municipio:         f.municipio,
		OriginalEstado:    f.originalEstado,
		OriginalMunicipio: f.originalMunicipio,
		Cities:            f.dir.Cities(f.estado),
	}
}

func (f *Filter) modeLocked() Mode {
	if f.estado != f.originalEstado || f.municipio != f.originalMunicipio {
		return ModeOverride
	}
	return ModeAuto
}

func (f *Filter) knownLocked(estado string) bool {
	for _, r := range f.dir.Regions() {
		if r.ID == estado {
			return true
		}
	}
	return false
}

// cityLocked resolves municipio to its listed spelling within estado. The
// detected city of the detected region is accepted even when unlisted.
func (f *Filter) cityLocked(estado, municipio string) (string, bool) {
	if municipio == "" {
		return "", true
	}
	if estado == f.originalEstado && Fold(municipio) == Fold(f.originalMunicipio) {
		return f.originalMunicipio, true
	}
	folded := Fold(municipio)
	for _, c := range f.dir.Cities(estado) {
		if Fold(c) == folded {
			return c, true
		}
	}
	return "", false
}

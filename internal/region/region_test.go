package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDirectory_Embedded(t *testing.T) {
	dir, err := LoadDirectory("")
	require.NoError(t, err)

	assert.Len(t, dir.Regions(), 27)
	assert.Contains(t, dir.Cities("SP"), "Campinas")
	assert.Contains(t, dir.Cities("rj"), "Niterói")
	assert.Nil(t, dir.Cities("XX"))
}

func TestParseDirectory_Invalid(t *testing.T) {
	_, err := ParseDirectory([]byte("regions: []"))
	assert.Error(t, err)

	_, err = ParseDirectory([]byte("regions:\n  - id: SP\n  - id: sp\n"))
	assert.Error(t, err)

	_, err = ParseDirectory([]byte("regions: ["))
	assert.Error(t, err)
}

func TestStaticDirectory_CodeFor(t *testing.T) {
	dir, err := LoadDirectory("")
	require.NoError(t, err)

	cases := map[string]string{
		"São Paulo":         "SP",
		"sao paulo":         "SP",
		"  Espírito Santo ": "ES",
		"PARANÁ":            "PR",
		"rs":                "RS",
		"Distrito Federal":  "DF",
		"Atlantis":          "Atlantis",
		"":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, dir.CodeFor(in), in)
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, "sao jose dos campos", Fold("  São  José dos Campos "))
	assert.Equal(t, "maceio", Fold("MACEIÓ"))
}

func newFilter(t *testing.T) *Filter {
	t.Helper()
	dir, err := LoadDirectory("")
	require.NoError(t, err)
	f := NewFilter(dir)
	f.SetDetected("SP", "Campinas")
	return f
}

func TestFilter_AutoUntilSelectionDiffers(t *testing.T) {
	f := newFilter(t)
	assert.Equal(t, ModeAuto, f.Mode())
	assert.False(t, f.Selection().Override)

	require.NoError(t, f.SelectMunicipio("santos"))
	sel := f.Selection()
	assert.True(t, sel.Override)
	assert.Equal(t, "Santos", sel.Municipio)

	require.NoError(t, f.SelectMunicipio("Campinas"))
	assert.Equal(t, ModeAuto, f.Mode())
}

func TestFilter_SelectEstadoClearsForeignCity(t *testing.T) {
	f := newFilter(t)

	require.NoError(t, f.SelectEstado("RJ"))
	st := f.State()
	assert.Equal(t, "RJ", st.Estado)
	assert.Empty(t, st.Municipio)
	assert.Equal(t, ModeOverride, st.Mode)
	assert.Contains(t, st.Cities, "Niterói")

	// Incomplete selection filters everything out.
	assert.False(t, f.Selection().Matches("RJ", "Niterói"))

	require.NoError(t, f.SelectMunicipio("Niterói"))
	assert.True(t, f.Selection().Matches("RJ", "Niterói"))
	assert.False(t, f.Selection().Matches("RJ", "Petrópolis"))
}

func TestFilter_Errors(t *testing.T) {
	f := newFilter(t)

	assert.ErrorIs(t, f.SelectEstado("ZZ"), ErrUnknownRegion)
	assert.ErrorIs(t, f.SelectMunicipio("Niterói"), ErrUnknownCity)
	assert.Equal(t, ModeAuto, f.Mode())
}

func TestFilter_DetectedCityNeedNotBeListed(t *testing.T) {
	dir, err := LoadDirectory("")
	require.NoError(t, err)
	f := NewFilter(dir)
	f.SetDetected("SP", "Paulínia")

	require.NoError(t, f.SelectEstado("RJ"))
	require.NoError(t, f.SelectEstado("SP"))
	require.NoError(t, f.SelectMunicipio("Paulínia"))
	assert.Equal(t, ModeAuto, f.Mode())
}

func TestFilter_ClearIsIdempotent(t *testing.T) {
	f := newFilter(t)
	require.NoError(t, f.SelectEstado("MG"))
	require.NoError(t, f.SelectMunicipio("Uberlândia"))

	f.Clear()
	first := f.State()
	f.Clear()
	assert.Equal(t, first, f.State())
	assert.Equal(t, ModeAuto, first.Mode)
	assert.Equal(t, "Campinas", first.Municipio)
}

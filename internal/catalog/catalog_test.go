package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogTables(t *testing.T) {
	c := Default()

	sizes := c.Sizes()
	require.Len(t, sizes, 5)
	assert.Equal(t, 30.0, sizes[0].WidthCm)
	assert.Equal(t, 40.0, sizes[0].HeightCm)
	assert.Equal(t, "3:4", sizes[0].Ratio)
	assert.Equal(t, "70×100 cm", sizes[4].Label)

	assert.Len(t, c.FrameColors(), 5)
	assert.Len(t, c.MatteColors(), 4)

	materials := c.Materials()
	require.Len(t, materials, 3)
	assert.Equal(t, []string{"papel", "canvas", "vidro"}, []string{materials[0].ID, materials[1].ID, materials[2].ID})

	glass := c.GlassOptions()
	require.Len(t, glass, 3)
	assert.Equal(t, []string{"nenhum", "comum", "museu"}, []string{glass[0].ID, glass[1].ID, glass[2].ID})

	_, ok := c.Artwork("abstract-001")
	assert.True(t, ok)
}

func TestDefaultCatalogRates(t *testing.T) {
	rates := Default().Rates()

	assert.Equal(t, 120.0, rates.BaseFee)
	assert.Equal(t, 280.0, rates.BasePerM2)
	assert.Equal(t, 1.2, rates.FramePerMm)
	assert.Equal(t, 2.0, rates.MattePerCm)
	assert.Equal(t, 0.0, rates.MaterialRate("papel"))
	assert.Equal(t, 90.0, rates.MaterialRate("canvas"))
	assert.Equal(t, 140.0, rates.MaterialRate("vidro"))
	assert.Equal(t, 60.0, rates.GlassRate("comum"))
	assert.Equal(t, 150.0, rates.GlassRate("museu"))
	assert.Equal(t, 0.0, rates.GlassRate("unknown"))
}

func TestRatesReturnsCopy(t *testing.T) {
	c := Default()
	rates := c.Rates()
	rates.MaterialPerM2["canvas"] = 9999

	assert.Equal(t, 90.0, c.Rates().MaterialRate("canvas"))
}

func TestLookups(t *testing.T) {
	c := Default()

	size, ok := c.Size(50, 70)
	require.True(t, ok)
	assert.Equal(t, "5:7", size.Ratio)

	_, ok = c.Size(55, 70)
	assert.False(t, ok)

	swatch, ok := c.FrameColor("#1a1a1a")
	require.True(t, ok)
	assert.Equal(t, "Preto", swatch.Name)

	_, ok = c.MatteColor("#000000")
	assert.False(t, ok)

	material, ok := c.Material(" canvas ")
	require.True(t, ok)
	assert.Equal(t, "Canvas", material.Name)

	_, ok = c.Glass("laminated")
	assert.False(t, ok)
}

func TestParseRejectsInvalidDocument(t *testing.T) {
	doc := []byte(`
sizes:
  - { w: 0, h: 40 }
frame_colors:
  - { name: "Bad", value: "black" }
materials:
  - { id: papel }
  - { id: papel }
rates:
  base_fee: -1
`)
	_, err := Parse(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.Contains(t, err.Error(), "sizes[0]")
	assert.Contains(t, err.Error(), "frame_colors[0]")
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "rates")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	doc := `
sizes:
  - { w: 20, h: 20, ratio: "1:1" }
materials:
  - { id: papel, name: Papel, per_m2: 0 }
glass_options:
  - { id: nenhum, name: Nenhum, per_m2: 0 }
rates:
  base_fee: 50
  base_per_m2: 100
  frame_per_mm: 1
  matte_per_cm: 1
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	sizes := c.Sizes()
	require.Len(t, sizes, 1)
	assert.Equal(t, "20×20 cm", sizes[0].Label)
	assert.Equal(t, 50.0, c.Rates().BaseFee)
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	c, err := Load("  ")
	require.NoError(t, err)
	assert.Same(t, Default(), c)
}

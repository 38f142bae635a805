// Package catalog holds the static reference data of the frame configurator:
// preset sizes, colour swatches, materials, glass tiers, the art library and
// the pricing tariff. Tables are loaded once at start and never mutated.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	domain "github.com/pv-frame/api/internal/domain"
)

//go:embed catalog.yaml
var defaultDocument []byte

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog

	hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// ErrInvalidDocument is returned when a catalog document fails validation.
var ErrInvalidDocument = errors.New("catalog: invalid document")

// Catalog is an immutable, ordered view over the configurator reference data.
type Catalog struct {
	sizes       []domain.SizeOption
	frameColors []domain.Swatch
	matteColors []domain.Swatch
	materials   []domain.Option
	glass       []domain.Option
	library     []domain.Artwork
	rates       domain.PricingRates
}

type document struct {
	Sizes []struct {
		W     float64 `yaml:"w"`
		H     float64 `yaml:"h"`
		Label string  `yaml:"label"`
		Ratio string  `yaml:"ratio"`
	} `yaml:"sizes"`
	FrameColors []swatchDoc `yaml:"frame_colors"`
	MatteColors []swatchDoc `yaml:"matte_colors"`
	Materials   []optionDoc `yaml:"materials"`
	Glass       []optionDoc `yaml:"glass_options"`
	Library     []struct {
		ID    string `yaml:"id"`
		Title string `yaml:"title"`
		URL   string `yaml:"url"`
		Ratio string `yaml:"ratio"`
	} `yaml:"library"`
	Rates struct {
		BaseFee    float64 `yaml:"base_fee"`
		BasePerM2  float64 `yaml:"base_per_m2"`
		FramePerMm float64 `yaml:"frame_per_mm"`
		MattePerCm float64 `yaml:"matte_per_cm"`
	} `yaml:"rates"`
}

type swatchDoc struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type optionDoc struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	PerM2       float64 `yaml:"per_m2"`
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	defaultOnce.Do(func() {
		parsed, err := Parse(defaultDocument)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded document is invalid: %v", err))
		}
		defaultCatalog = parsed
	})
	return defaultCatalog
}

// Load reads a catalog document from disk. An empty path yields the embedded catalog.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	var problems []string
	c := &Catalog{
		rates: domain.PricingRates{
			BaseFee:       doc.Rates.BaseFee,
			BasePerM2:     doc.Rates.BasePerM2,
			FramePerMm:    doc.Rates.FramePerMm,
			MattePerCm:    doc.Rates.MattePerCm,
			MaterialPerM2: make(map[string]float64, len(doc.Materials)),
			GlassPerM2:    make(map[string]float64, len(doc.Glass)),
		},
	}

	if len(doc.Sizes) == 0 {
		problems = append(problems, "sizes: at least one size is required")
	}
	for i, s := range doc.Sizes {
		if s.W <= 0 || s.H <= 0 {
			problems = append(problems, fmt.Sprintf("sizes[%d]: dimensions must be positive", i))
			continue
		}
		label := strings.TrimSpace(s.Label)
		if label == "" {
			label = fmt.Sprintf("%g×%g cm", s.W, s.H)
		}
		c.sizes = append(c.sizes, domain.SizeOption{WidthCm: s.W, HeightCm: s.H, Label: label, Ratio: strings.TrimSpace(s.Ratio)})
	}

	c.frameColors, problems = decodeSwatches("frame_colors", doc.FrameColors, problems)
	c.matteColors, problems = decodeSwatches("matte_colors", doc.MatteColors, problems)

	seen := make(map[string]struct{})
	for i, m := range doc.Materials {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			problems = append(problems, fmt.Sprintf("materials[%d]: id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("materials[%d]: duplicate id %q", i, id))
			continue
		}
		seen[id] = struct{}{}
		c.materials = append(c.materials, domain.Option{ID: id, Name: strings.TrimSpace(m.Name), Description: strings.TrimSpace(m.Description)})
		c.rates.MaterialPerM2[id] = m.PerM2
	}

	seen = make(map[string]struct{})
	for i, g := range doc.Glass {
		id := strings.TrimSpace(g.ID)
		if id == "" {
			problems = append(problems, fmt.Sprintf("glass_options[%d]: id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("glass_options[%d]: duplicate id %q", i, id))
			continue
		}
		seen[id] = struct{}{}
		c.glass = append(c.glass, domain.Option{ID: id, Name: strings.TrimSpace(g.Name), Description: strings.TrimSpace(g.Description)})
		c.rates.GlassPerM2[id] = g.PerM2
	}

	for i, art := range doc.Library {
		id := strings.TrimSpace(art.ID)
		if id == "" || strings.TrimSpace(art.URL) == "" {
			problems = append(problems, fmt.Sprintf("library[%d]: id and url are required", i))
			continue
		}
		c.library = append(c.library, domain.Artwork{
			ID:    id,
			Title: strings.TrimSpace(art.Title),
			URL:   strings.TrimSpace(art.URL),
			Ratio: strings.TrimSpace(art.Ratio),
		})
	}

	if c.rates.BaseFee < 0 || c.rates.BasePerM2 < 0 || c.rates.FramePerMm < 0 || c.rates.MattePerCm < 0 {
		problems = append(problems, "rates: values must not be negative")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(problems, "; "))
	}
	return c, nil
}

func decodeSwatches(field string, in []swatchDoc, problems []string) ([]domain.Swatch, []string) {
	out := make([]domain.Swatch, 0, len(in))
	for i, s := range in {
		value := strings.ToUpper(strings.TrimSpace(s.Value))
		if !hexColorPattern.MatchString(value) {
			problems = append(problems, fmt.Sprintf("%s[%d]: %q is not a #RRGGBB colour", field, i, s.Value))
			continue
		}
		out = append(out, domain.Swatch{Name: strings.TrimSpace(s.Name), Value: value})
	}
	return out, problems
}

// Sizes lists the preset sizes in catalog order.
func (c *Catalog) Sizes() []domain.SizeOption {
	return append([]domain.SizeOption(nil), c.sizes...)
}

// FrameColors lists the frame swatches in catalog order.
func (c *Catalog) FrameColors() []domain.Swatch {
	return append([]domain.Swatch(nil), c.frameColors...)
}

// MatteColors lists the matte swatches in catalog order.
func (c *Catalog) MatteColors() []domain.Swatch {
	return append([]domain.Swatch(nil), c.matteColors...)
}

// Materials lists the print materials in catalog order.
func (c *Catalog) Materials() []domain.Option {
	return append([]domain.Option(nil), c.materials...)
}

// GlassOptions lists the glass protection tiers in catalog order.
func (c *Catalog) GlassOptions() []domain.Option {
	return append([]domain.Option(nil), c.glass...)
}

// Library lists the curated artworks.
func (c *Catalog) Library() []domain.Artwork {
	return append([]domain.Artwork(nil), c.library...)
}

// Rates returns a copy of the pricing tariff.
func (c *Catalog) Rates() domain.PricingRates {
	rates := c.rates
	rates.MaterialPerM2 = copyRates(c.rates.MaterialPerM2)
	rates.GlassPerM2 = copyRates(c.rates.GlassPerM2)
	return rates
}

// Size finds the preset matching the given dimensions.
func (c *Catalog) Size(widthCm, heightCm float64) (domain.SizeOption, bool) {
	for _, s := range c.sizes {
		if s.WidthCm == widthCm && s.HeightCm == heightCm {
			return s, true
		}
	}
	return domain.SizeOption{}, false
}

// FrameColor finds a frame swatch by hex value, ignoring case.
func (c *Catalog) FrameColor(hex string) (domain.Swatch, bool) {
	return findSwatch(c.frameColors, hex)
}

// MatteColor finds a matte swatch by hex value, ignoring case.
func (c *Catalog) MatteColor(hex string) (domain.Swatch, bool) {
	return findSwatch(c.matteColors, hex)
}

// Material finds a material by id.
func (c *Catalog) Material(id string) (domain.Option, bool) {
	return findOption(c.materials, id)
}

// Glass finds a glass tier by id.
func (c *Catalog) Glass(id string) (domain.Option, bool) {
	return findOption(c.glass, id)
}

// Artwork finds a library artwork by id.
func (c *Catalog) Artwork(id string) (domain.Artwork, bool) {
	id = strings.TrimSpace(id)
	for _, art := range c.library {
		if art.ID == id {
			return art, true
		}
	}
	return domain.Artwork{}, false
}

func findSwatch(swatches []domain.Swatch, hex string) (domain.Swatch, bool) {
	hex = strings.TrimSpace(hex)
	for _, s := range swatches {
		if strings.EqualFold(s.Value, hex) {
			return s, true
		}
	}
	return domain.Swatch{}, false
}

func findOption(options []domain.Option, id string) (domain.Option, bool) {
	id = strings.TrimSpace(id)
	for _, o := range options {
		if o.ID == id {
			return o, true
		}
	}
	return domain.Option{}, false
}

func copyRates(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

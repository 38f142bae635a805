package services

import (
	"math"
	"strings"

	domain "github.com/pv-frame/api/internal/domain"
)

// Bounds of the bounded controls exposed by the configurator panel.
const (
	MinFrameThicknessMm  = 8
	MaxFrameThicknessMm  = 30
	FrameThicknessStepMm = 2

	MinFrameDepthMm  = 20
	MaxFrameDepthMm  = 50
	FrameDepthStepMm = 5

	MinMatteWidthCm  = 2
	MaxMatteWidthCm  = 8
	MatteWidthStepCm = 1

	// DefaultBaseSKU prefixes every SKU issued for a custom frame.
	DefaultBaseSKU = "QUAD-PERS"
)

// DefaultConfiguration returns the selection every new session starts from. Price is zero until recomputed.
func DefaultConfiguration() domain.Configuration {
	return domain.Configuration{
		Art: domain.ArtReference{
			ID:     "abstract-001",
			URL:    "/assets/art-abstract-1.jpg",
			Ratio:  "4:5",
			Source: domain.ArtSourceLibrary,
		},
		Frame: domain.FrameOptions{
			Color:       "#1A1A1A",
			ThicknessMm: 12,
			DepthMm:     30,
		},
		Matte: domain.MatteOptions{
			Enabled: false,
			WidthCm: 4,
			Color:   "#F8F8F8",
		},
		Size:     domain.PrintSize{WidthCm: 50, HeightCm: 70},
		Material: "papel",
		Glass:    "nenhum",
		BaseSKU:  DefaultBaseSKU,
		Price:    0,
	}
}

// Configurator owns the mutable configuration of a single session.
//
// Setters never recompute the price: callers apply a batch of setters and then call
// CalculatePrice. Between a setter and the following CalculatePrice the value returned
// by Price is stale. A Configurator is not safe for concurrent use.
type Configurator struct {
	cfg   domain.Configuration
	rates domain.PricingRates
}

// NewConfigurator returns a configurator holding the default selection.
func NewConfigurator(rates domain.PricingRates) *Configurator {
	return &Configurator{cfg: DefaultConfiguration(), rates: rates}
}

// RestoreConfigurator rebuilds a configurator from a persisted snapshot. Out-of-range values are
// clamped and the price is recomputed, so a stored price is never trusted.
func RestoreConfigurator(snapshot domain.Configuration, rates domain.PricingRates) *Configurator {
	c := &Configurator{cfg: DefaultConfiguration(), rates: rates}
	c.SetArt(snapshot.Art)
	c.SetFrameColor(snapshot.Frame.Color)
	c.SetFrameThickness(snapshot.Frame.ThicknessMm)
	c.SetFrameDepth(snapshot.Frame.DepthMm)
	c.SetMatteEnabled(snapshot.Matte.Enabled)
	c.SetMatteWidth(snapshot.Matte.WidthCm)
	c.SetMatteColor(snapshot.Matte.Color)
	c.SetSize(snapshot.Size.WidthCm, snapshot.Size.HeightCm)
	c.SetMaterial(snapshot.Material)
	c.SetGlass(snapshot.Glass)
	c.SetSnapshotURL(snapshot.SnapshotURL)
	if sku := strings.TrimSpace(snapshot.BaseSKU); sku != "" {
		c.cfg.BaseSKU = sku
	}
	c.CalculatePrice()
	return c
}

// Snapshot returns a copy of the current configuration.
func (c *Configurator) Snapshot() domain.Configuration {
	return c.cfg
}

// Price returns the last computed price.
func (c *Configurator) Price() int64 {
	return c.cfg.Price
}

// CalculatePrice recomputes the price from the current fields, stores it and returns it.
func (c *Configurator) CalculatePrice() int64 {
	c.cfg.Price = ComputePrice(c.cfg, c.rates)
	return c.cfg.Price
}

// Breakdown prices the current fields without touching the stored price.
func (c *Configurator) Breakdown() domain.PriceBreakdown {
	return PriceBreakdown(c.cfg, c.rates)
}

// SetArt replaces the artwork reference. References without id or url are ignored.
func (c *Configurator) SetArt(ref domain.ArtReference) {
	id := strings.TrimSpace(ref.ID)
	url := strings.TrimSpace(ref.URL)
	if id == "" || url == "" {
		return
	}
	source := ref.Source
	if source != domain.ArtSourceUpload {
		source = domain.ArtSourceLibrary
	}
	c.cfg.Art = domain.ArtReference{
		ID:     id,
		URL:    url,
		Ratio:  strings.TrimSpace(ref.Ratio),
		Title:  strings.TrimSpace(ref.Title),
		Source: source,
	}
}

// SetFrameColor replaces the frame colour. Blank values are ignored.
func (c *Configurator) SetFrameColor(color string) {
	if color = strings.TrimSpace(color); color != "" {
		c.cfg.Frame.Color = color
	}
}

// SetFrameThickness sets the moulding width, clamped to [8,30] mm on a 2 mm step.
func (c *Configurator) SetFrameThickness(mm int) {
	c.cfg.Frame.ThicknessMm = clampStep(mm, MinFrameThicknessMm, MaxFrameThicknessMm, FrameThicknessStepMm)
}

// SetFrameDepth sets the shadow box depth, clamped to [20,50] mm on a 5 mm step.
func (c *Configurator) SetFrameDepth(mm int) {
	c.cfg.Frame.DepthMm = clampStep(mm, MinFrameDepthMm, MaxFrameDepthMm, FrameDepthStepMm)
}

// SetMatteEnabled toggles the passe-partout.
func (c *Configurator) SetMatteEnabled(enabled bool) {
	c.cfg.Matte.Enabled = enabled
}

// SetMatteWidth sets the matte border, clamped to [2,8] cm. The value is kept while the matte is disabled.
func (c *Configurator) SetMatteWidth(cm int) {
	c.cfg.Matte.WidthCm = clampStep(cm, MinMatteWidthCm, MaxMatteWidthCm, MatteWidthStepCm)
}

// SetMatteColor replaces the matte colour. Blank values are ignored.
func (c *Configurator) SetMatteColor(color string) {
	if color = strings.TrimSpace(color); color != "" {
		c.cfg.Matte.Color = color
	}
}

// SetSize replaces the print size. Non-positive or non-finite dimensions are ignored.
func (c *Configurator) SetSize(widthCm, heightCm float64) {
	if !positiveFinite(widthCm) || !positiveFinite(heightCm) {
		return
	}
	c.cfg.Size = domain.PrintSize{WidthCm: widthCm, HeightCm: heightCm}
}

// SetMaterial stores the material id as given; unknown ids are kept and priced as zero surcharge.
func (c *Configurator) SetMaterial(id string) {
	if id = strings.TrimSpace(id); id != "" {
		c.cfg.Material = id
	}
}

// SetGlass stores the glass tier id as given; unknown ids are kept and priced as zero surcharge.
func (c *Configurator) SetGlass(id string) {
	if id = strings.TrimSpace(id); id != "" {
		c.cfg.Glass = id
	}
}

// SetSnapshotURL records the preview snapshot used on the review step. Blank clears it.
func (c *Configurator) SetSnapshotURL(url string) {
	c.cfg.SnapshotURL = strings.TrimSpace(url)
}

// Reset restores the defaults and zeroes the price until the next CalculatePrice.
func (c *Configurator) Reset() {
	c.cfg = DefaultConfiguration()
}

func clampStep(value, lo, hi, step int) int {
	if value < lo {
		value = lo
	}
	if value > hi {
		value = hi
	}
	if step > 1 {
		steps := math.Round(float64(value-lo) / float64(step))
		value = lo + int(steps)*step
		if value > hi {
			value -= step
		}
	}
	return value
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

package services

import (
	"math"

	domain "github.com/pv-frame/api/internal/domain"
)

// ComputePrice returns the rounded frame price for the configuration under the given tariff.
// It never fails: unknown material or glass ids contribute nothing and non-finite or
// negative measurements are treated as zero.
func ComputePrice(cfg domain.Configuration, rates domain.PricingRates) int64 {
	return PriceBreakdown(cfg, rates).Total
}

// PriceBreakdown runs the pricing function and returns every additive component.
func PriceBreakdown(cfg domain.Configuration, rates domain.PricingRates) domain.PriceBreakdown {
	width := finiteOrZero(cfg.Size.WidthCm)
	height := finiteOrZero(cfg.Size.HeightCm)
	area := (width * height) / 10000

	b := domain.PriceBreakdown{
		AreaM2:   area,
		BaseFee:  rates.BaseFee,
		AreaBase: area * rates.BasePerM2,
		Material: area * rates.MaterialRate(cfg.Material),
		Frame:    finiteOrZero(float64(cfg.Frame.ThicknessMm)) * rates.FramePerMm,
		Glass:    area * rates.GlassRate(cfg.Glass),
	}
	if cfg.Matte.Enabled {
		b.Matte = finiteOrZero(float64(cfg.Matte.WidthCm)) * rates.MattePerCm
	}

	// Accumulation order follows the tariff sheet.
	subtotal := b.BaseFee + b.AreaBase
	subtotal += b.Material
	subtotal += b.Frame
	subtotal += b.Glass
	subtotal += b.Matte

	b.Subtotal = subtotal
	b.Total = int64(math.Round(subtotal))
	return b
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

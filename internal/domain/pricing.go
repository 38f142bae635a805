package domain

// PriceBreakdown lists each additive component of a frame price before rounding.
type PriceBreakdown struct {
	AreaM2   float64
	BaseFee  float64
	AreaBase float64
	Material float64
	Frame    float64
	Glass    float64
	Matte    float64
	Subtotal float64
	Total    int64
}

// PricingRates defines the tariff applied by the pricing function.
type PricingRates struct {
	BaseFee       float64
	BasePerM2     float64
	FramePerMm    float64
	MattePerCm    float64
	MaterialPerM2 map[string]float64
	GlassPerM2    map[string]float64
}

// MaterialRate returns the per-m² surcharge for the material, zero when unknown.
func (r PricingRates) MaterialRate(id string) float64 {
	return r.MaterialPerM2[id]
}

// GlassRate returns the per-m² surcharge for the glass tier, zero when unknown.
func (r PricingRates) GlassRate(id string) float64 {
	return r.GlassPerM2[id]
}

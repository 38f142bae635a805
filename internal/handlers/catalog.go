package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pv-frame/api/internal/catalog"
	"github.com/pv-frame/api/internal/services"
)

const catalogCacheControl = "public, max-age=300"

// CatalogHandlers serves the static configurator reference data.
type CatalogHandlers struct {
	body []byte
	etag string
}

// NewCatalogHandlers pre-renders the catalog listing. The catalog never changes after boot.
func NewCatalogHandlers(c *catalog.Catalog, formatter *services.PriceFormatter) *CatalogHandlers {
	if c == nil {
		c = catalog.Default()
	}
	if formatter == nil {
		formatter = services.DefaultPriceFormatter()
	}
	body, err := json.Marshal(buildCatalogPayload(c, formatter))
	if err != nil {
		body = []byte("{}")
	}
	sum := sha256.Sum256(body)
	return &CatalogHandlers{
		body: append(body, '\n'),
		etag: `"` + hex.EncodeToString(sum[:8]) + `"`,
	}
}

// Routes wires GET /catalog.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCatalog)
}

func (h *CatalogHandlers) getCatalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", catalogCacheControl)
	w.Header().Set("ETag", h.etag)
	if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && match == h.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.body)
}

type catalogPayload struct {
	Currency     string               `json:"currency"`
	Sizes        []sizeOptionPayload  `json:"sizes"`
	FrameColors  []swatchPayload      `json:"frame_colors"`
	MatteColors  []swatchPayload      `json:"matte_colors"`
	Materials    []optionPayload      `json:"materials"`
	GlassOptions []optionPayload      `json:"glass_options"`
	Library      []artworkPayload     `json:"library"`
	Rates        ratesPayload         `json:"rates"`
	Defaults     configurationPayload `json:"defaults"`
}

type sizeOptionPayload struct {
	WidthCm  float64 `json:"width_cm"`
	HeightCm float64 `json:"height_cm"`
	Label    string  `json:"label"`
	Ratio    string  `json:"ratio,omitempty"`
}

type swatchPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type optionPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	PerM2       float64 `json:"per_m2"`
}

type artworkPayload struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
	Ratio string `json:"ratio,omitempty"`
}

type ratesPayload struct {
	BaseFee    float64 `json:"base_fee"`
	BasePerM2  float64 `json:"base_per_m2"`
	FramePerMm float64 `json:"frame_per_mm"`
	MattePerCm float64 `json:"matte_per_cm"`
}

func buildCatalogPayload(c *catalog.Catalog, formatter *services.PriceFormatter) catalogPayload {
	rates := c.Rates()
	payload := catalogPayload{
		Currency: formatter.Currency(),
		Rates: ratesPayload{
			BaseFee:    rates.BaseFee,
			BasePerM2:  rates.BasePerM2,
			FramePerMm: rates.FramePerMm,
			MattePerCm: rates.MattePerCm,
		},
	}

	for _, s := range c.Sizes() {
		payload.Sizes = append(payload.Sizes, sizeOptionPayload{WidthCm: s.WidthCm, HeightCm: s.HeightCm, Label: s.Label, Ratio: s.Ratio})
	}
	for _, s := range c.FrameColors() {
		payload.FrameColors = append(payload.FrameColors, swatchPayload{Name: s.Name, Value: s.Value})
	}
	for _, s := range c.MatteColors() {
		payload.MatteColors = append(payload.MatteColors, swatchPayload{Name: s.Name, Value: s.Value})
	}
	for _, m := range c.Materials() {
		payload.Materials = append(payload.Materials, optionPayload{ID: m.ID, Name: m.Name, Description: m.Description, PerM2: rates.MaterialRate(m.ID)})
	}
	for _, g := range c.GlassOptions() {
		payload.GlassOptions = append(payload.GlassOptions, optionPayload{ID: g.ID, Name: g.Name, Description: g.Description, PerM2: rates.GlassRate(g.ID)})
	}
	for _, art := range c.Library() {
		payload.Library = append(payload.Library, artworkPayload{ID: art.ID, Title: art.Title, URL: art.URL, Ratio: art.Ratio})
	}

	defaults := services.NewConfigurator(rates)
	defaults.CalculatePrice()
	payload.Defaults = buildConfigurationPayload(defaults.Snapshot())
	return payload
}

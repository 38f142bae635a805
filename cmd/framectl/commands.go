package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pv-frame/api/internal/catalog"
	domain "github.com/pv-frame/api/internal/domain"
	"github.com/pv-frame/api/internal/services"
)

type rootOptions struct {
	catalogFile string
	locale      string
	currency    string
	output      string
}

type priceOptions struct {
	widthCm     float64
	heightCm    float64
	material    string
	glass       string
	thicknessMm int
	matte       bool
	matteWidth  int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "framectl",
		Short:         "Inspect the frame catalog and price configurations offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.output {
			case "text", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported output %q (want text, json or yaml)", opts.output)
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.catalogFile, "catalog", "", "path to a catalog YAML document (embedded catalog when empty)")
	root.PersistentFlags().StringVar(&opts.locale, "locale", "pt-BR", "locale used for display prices")
	root.PersistentFlags().StringVar(&opts.currency, "currency", "BRL", "ISO currency code used for display prices")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")

	root.AddCommand(newPriceCommand(opts), newCatalogCommand(opts))
	return root
}

func newPriceCommand(root *rootOptions) *cobra.Command {
	defaults := services.DefaultConfiguration()
	opts := &priceOptions{
		widthCm:     defaults.Size.WidthCm,
		heightCm:    defaults.Size.HeightCm,
		material:    defaults.Material,
		glass:       defaults.Glass,
		thicknessMm: defaults.Frame.ThicknessMm,
		matte:       defaults.Matte.Enabled,
		matteWidth:  defaults.Matte.WidthCm,
	}
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Compute the price, breakdown and SKU of a configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, formatter, err := root.load()
			if err != nil {
				return err
			}
			configurator := services.NewConfigurator(c.Rates())
			configurator.SetSize(opts.widthCm, opts.heightCm)
			configurator.SetMaterial(opts.material)
			configurator.SetGlass(opts.glass)
			configurator.SetFrameThickness(opts.thicknessMm)
			configurator.SetMatteEnabled(opts.matte)
			if opts.matte {
				configurator.SetMatteWidth(opts.matteWidth)
			}
			configurator.CalculatePrice()
			return writePrice(cmd.OutOrStdout(), root.output, configurator.Snapshot(), configurator.Breakdown(), formatter)
		},
	}
	flags := cmd.Flags()
	flags.Float64Var(&opts.widthCm, "width", opts.widthCm, "print width in centimetres")
	flags.Float64Var(&opts.heightCm, "height", opts.heightCm, "print height in centimetres")
	flags.StringVar(&opts.material, "material", opts.material, "frame material id")
	flags.StringVar(&opts.glass, "glass", opts.glass, "glass option id")
	flags.IntVar(&opts.thicknessMm, "thickness", opts.thicknessMm, "frame thickness in millimetres")
	flags.BoolVar(&opts.matte, "matte", opts.matte, "enable the matte")
	flags.IntVar(&opts.matteWidth, "matte-width", opts.matteWidth, "matte width in centimetres")
	return cmd
}

func newCatalogCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List sizes, materials, glass options and rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := root.load()
			if err != nil {
				return err
			}
			return writeCatalog(cmd.OutOrStdout(), root.output, c)
		},
	}
}

func (o *rootOptions) load() (*catalog.Catalog, *services.PriceFormatter, error) {
	c, err := catalog.Load(o.catalogFile)
	if err != nil {
		return nil, nil, err
	}
	formatter, err := services.NewPriceFormatter(o.locale, o.currency)
	if err != nil {
		return nil, nil, err
	}
	return c, formatter, nil
}

type priceReport struct {
	SKU          string          `json:"sku" yaml:"sku"`
	WidthCm      float64         `json:"width_cm" yaml:"width_cm"`
	HeightCm     float64         `json:"height_cm" yaml:"height_cm"`
	Material     string          `json:"material" yaml:"material"`
	Glass        string          `json:"glass" yaml:"glass"`
	ThicknessMm  int             `json:"thickness_mm" yaml:"thickness_mm"`
	MatteWidthCm int             `json:"matte_width_cm,omitempty" yaml:"matte_width_cm,omitempty"`
	Breakdown    breakdownReport `json:"breakdown" yaml:"breakdown"`
	Total        int64           `json:"total" yaml:"total"`
	DisplayTotal string          `json:"display_total" yaml:"display_total"`
}

type breakdownReport struct {
	AreaM2   float64 `json:"area_m2" yaml:"area_m2"`
	BaseFee  float64 `json:"base_fee" yaml:"base_fee"`
	AreaBase float64 `json:"area_base" yaml:"area_base"`
	Material float64 `json:"material" yaml:"material"`
	Frame    float64 `json:"frame" yaml:"frame"`
	Glass    float64 `json:"glass" yaml:"glass"`
	Matte    float64 `json:"matte" yaml:"matte"`
	Subtotal float64 `json:"subtotal" yaml:"subtotal"`
}

func writePrice(w io.Writer, format string, cfg domain.Configuration, breakdown domain.PriceBreakdown, formatter *services.PriceFormatter) error {
	report := priceReport{
		SKU:         services.BuildSKU(cfg),
		WidthCm:     cfg.Size.WidthCm,
		HeightCm:    cfg.Size.HeightCm,
		Material:    cfg.Material,
		Glass:       cfg.Glass,
		ThicknessMm: cfg.Frame.ThicknessMm,
		Breakdown: breakdownReport{
			AreaM2:   breakdown.AreaM2,
			BaseFee:  breakdown.BaseFee,
			AreaBase: breakdown.AreaBase,
			Material: breakdown.Material,
			Frame:    breakdown.Frame,
			Glass:    breakdown.Glass,
			Matte:    breakdown.Matte,
			Subtotal: breakdown.Subtotal,
		},
		Total:        cfg.Price,
		DisplayTotal: formatter.Format(cfg.Price),
	}
	if cfg.Matte.Enabled {
		report.MatteWidthCm = cfg.Matte.WidthCm
	}

	switch format {
	case "json":
		return encodeJSON(w, report)
	case "yaml":
		return encodeYAML(w, report)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SKU\t%s\n", report.SKU)
	fmt.Fprintf(tw, "Area\t%.4f m²\n", report.Breakdown.AreaM2)
	fmt.Fprintf(tw, "Base fee\t%.2f\n", report.Breakdown.BaseFee)
	fmt.Fprintf(tw, "Area base\t%.2f\n", report.Breakdown.AreaBase)
	fmt.Fprintf(tw, "Material\t%.2f\n", report.Breakdown.Material)
	fmt.Fprintf(tw, "Frame\t%.2f\n", report.Breakdown.Frame)
	fmt.Fprintf(tw, "Glass\t%.2f\n", report.Breakdown.Glass)
	fmt.Fprintf(tw, "Matte\t%.2f\n", report.Breakdown.Matte)
	fmt.Fprintf(tw, "Total\t%s\n", report.DisplayTotal)
	return tw.Flush()
}

type catalogReport struct {
	Sizes     []string           `json:"sizes" yaml:"sizes"`
	Materials map[string]float64 `json:"materials" yaml:"materials"`
	Glass     map[string]float64 `json:"glass_options" yaml:"glass_options"`
	Rates     map[string]float64 `json:"rates" yaml:"rates"`
}

func writeCatalog(w io.Writer, format string, c *catalog.Catalog) error {
	rates := c.Rates()
	report := catalogReport{
		Materials: make(map[string]float64),
		Glass:     make(map[string]float64),
		Rates: map[string]float64{
			"base_fee":     rates.BaseFee,
			"base_per_m2":  rates.BasePerM2,
			"frame_per_mm": rates.FramePerMm,
			"matte_per_cm": rates.MattePerCm,
		},
	}
	for _, s := range c.Sizes() {
		report.Sizes = append(report.Sizes, s.Label)
	}
	for _, m := range c.Materials() {
		report.Materials[m.ID] = rates.MaterialRate(m.ID)
	}
	for _, g := range c.GlassOptions() {
		report.Glass[g.ID] = rates.GlassRate(g.ID)
	}

	switch format {
	case "json":
		return encodeJSON(w, report)
	case "yaml":
		return encodeYAML(w, report)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Sizes\t%s\n", strings.Join(report.Sizes, ", "))
	for _, m := range c.Materials() {
		fmt.Fprintf(tw, "Material %s\t%s\t%.2f/m²\n", m.ID, m.Name, report.Materials[m.ID])
	}
	for _, g := range c.GlassOptions() {
		fmt.Fprintf(tw, "Glass %s\t%s\t%.2f/m²\n", g.ID, g.Name, report.Glass[g.ID])
	}
	fmt.Fprintf(tw, "Base fee\t%.2f\n", rates.BaseFee)
	fmt.Fprintf(tw, "Base per m²\t%.2f\n", rates.BasePerM2)
	fmt.Fprintf(tw, "Frame per mm\t%.2f\n", rates.FramePerMm)
	fmt.Fprintf(tw, "Matte per cm\t%.2f\n", rates.MattePerCm)
	return tw.Flush()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	enc.SetIndent(2)
	return enc.Encode(v)
}

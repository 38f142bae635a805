package services

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	defaultDisplayLocale   = "pt-BR"
	defaultDisplayCurrency = "BRL"
)

// PriceFormatter renders integer prices for display in a fixed locale and currency.
type PriceFormatter struct {
	printer  *message.Printer
	currency currency.Unit
	symbol   string
}

// NewPriceFormatter builds a formatter. Blank values fall back to pt-BR and BRL.
func NewPriceFormatter(locale, currencyCode string) (*PriceFormatter, error) {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = defaultDisplayLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("price formatter: invalid locale %q: %w", locale, err)
	}

	currencyCode = strings.ToUpper(strings.TrimSpace(currencyCode))
	if currencyCode == "" {
		currencyCode = defaultDisplayCurrency
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("price formatter: invalid currency %q: %w", currencyCode, err)
	}

	printer := message.NewPrinter(tag)
	return &PriceFormatter{
		printer:  printer,
		currency: unit,
		symbol:   printer.Sprint(currency.Symbol(unit)),
	}, nil
}

// DefaultPriceFormatter returns the pt-BR/BRL formatter.
func DefaultPriceFormatter() *PriceFormatter {
	f, err := NewPriceFormatter(defaultDisplayLocale, defaultDisplayCurrency)
	if err != nil {
		panic(err)
	}
	return f
}

// Currency returns the ISO code of the formatter currency.
func (f *PriceFormatter) Currency() string {
	return f.currency.String()
}

// Format renders the amount with two fraction digits, e.g. "R$ 1.234,00".
func (f *PriceFormatter) Format(amount int64) string {
	value := f.printer.Sprint(number.Decimal(float64(amount), number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	return f.symbol + " " + value
}

// RatioLabel reduces pixel dimensions to a ratio label such as "3:2". Non-positive input yields "".
func RatioLabel(widthPx, heightPx int) string {
	if widthPx <= 0 || heightPx <= 0 {
		return ""
	}
	d := gcd(widthPx, heightPx)
	return fmt.Sprintf("%d:%d", widthPx/d, heightPx/d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// BuildSKU composes the product code of a configuration:
// <base>-<W>X<H>-<MATERIAL>-<GLASS>, with -M<width> appended while the matte is enabled.
func BuildSKU(cfg Configuration) string {
	base := strings.TrimSpace(cfg.BaseSKU)
	if base == "" {
		base = DefaultBaseSKU
	}
	parts := []string{
		base,
		fmt.Sprintf("%sX%s", skuDimension(cfg.Size.WidthCm), skuDimension(cfg.Size.HeightCm)),
		strings.ToUpper(strings.TrimSpace(cfg.Material)),
		strings.ToUpper(strings.TrimSpace(cfg.Glass)),
	}
	if cfg.Matte.Enabled {
		parts = append(parts, fmt.Sprintf("M%d", cfg.Matte.WidthCm))
	}
	return strings.Join(parts, "-")
}

func skuDimension(cm float64) string {
	if math.IsNaN(cm) || math.IsInf(cm, 0) {
		return "0"
	}
	return strings.ReplaceAll(fmt.Sprintf("%g", cm), ".", "_")
}

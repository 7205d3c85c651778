package parser

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Locale holds the receipt vocabulary the parser is tuned to.
type Locale struct {
	// SkipPatterns are regular expressions matched case-insensitively against
	// the trimmed line. A match drops the line regardless of its content.
	SkipPatterns []string

	// CurrencyTokens may follow a price and are consumed with it.
	CurrencyTokens []string

	// UnreadableLabel replaces labels that are empty or too short to read.
	UnreadableLabel string

	// MaxPrice is the largest accepted line price.
	MaxPrice decimal.Decimal
}

// DefaultLocale returns the Bulgarian receipt vocabulary.
func DefaultLocale() Locale {
	return Locale{
		SkipPatterns: []string{
			`^ОБЩА\s+СУМА(?:[\s:]|$)`,
			`^СУМА(?:[\s:]|$)`,
			`^В\s+БРОЙ(?:[\s:]|$)`,
			`^БОН:`,
			`^TOTAN(?:[\s:]|$)`,
			`^TOTAL(?:[\s:]|$)`,
			`#сума`,
			`^Пг\.#\d+\s+СУМА`,
			`^\d+\s+артикул`,
		},
		CurrencyTokens:  []string{"€", "eur", "лв.", "лв", "bgn"},
		UnreadableLabel: "НЕ СЕ ЧЕТЕ",
		MaxPrice:        decimal.RequireFromString("999999.99"),
	}
}

// localeFile is the on-disk shape of a locale override.
type localeFile struct {
	SkipPatterns    []string `yaml:"skip_patterns"`
	CurrencyTokens  []string `yaml:"currency_tokens"`
	UnreadableLabel string   `yaml:"unreadable_label"`
	MaxPrice        string   `yaml:"max_price"`
}

// LoadLocale reads a YAML locale file. Fields missing from the file keep the
// values of DefaultLocale.
func LoadLocale(path string) (Locale, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Locale{}, fmt.Errorf("reading locale: %w", err)
	}
	return ParseLocale(data)
}

// ParseLocale decodes a YAML locale document on top of DefaultLocale.
func ParseLocale(data []byte) (Locale, error) {
	var f localeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Locale{}, fmt.Errorf("parsing locale: %w", err)
	}

	locale := DefaultLocale()
	if len(f.SkipPatterns) > 0 {
		locale.SkipPatterns = f.SkipPatterns
	}
	if len(f.CurrencyTokens) > 0 {
		locale.CurrencyTokens = f.CurrencyTokens
	}
	if label := strings.TrimSpace(f.UnreadableLabel); label != "" {
		locale.UnreadableLabel = label
	}
	if f.MaxPrice != "" {
		maxPrice, err := decimal.NewFromString(strings.TrimSpace(f.MaxPrice))
		if err != nil {
			return Locale{}, fmt.Errorf("parsing max_price: %w", err)
		}
		if !maxPrice.IsPositive() {
			return Locale{}, fmt.Errorf("max_price must be positive: %s", f.MaxPrice)
		}
		locale.MaxPrice = maxPrice
	}
	return locale, nil
}

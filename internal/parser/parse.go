// Package parser turns recognized receipt text into priced line items.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Line is one candidate item read from a receipt.
type Line struct {
	Label string
	// Price is a two-decimal amount such as "12.50". It is empty only for
	// the placeholder row returned when nothing could be read.
	Price string
	Qty   int
}

var (
	lineBreak   = regexp.MustCompile(`\r?\n`)
	qtyPrefix   = regexp.MustCompile(`^(\d+)(?:[.,]\d+)?\s*[xX](?:\s+|$)`)
	qtySuffix   = regexp.MustCompile(`\s+(\d+)(?:[.,]\d+)?\s*[xX]$`)
	innerSpaces = regexp.MustCompile(`\s`)
)

// Parser extracts items line by line. It is safe for concurrent use.
type Parser struct {
	skip       []*regexp.Regexp
	price      *regexp.Regexp
	unreadable string
	maxPrice   decimal.Decimal
}

var defaultParser = MustNew(DefaultLocale())

// New compiles a parser for the given locale.
func New(locale Locale) (*Parser, error) {
	skip := make([]*regexp.Regexp, 0, len(locale.SkipPatterns))
	for _, pattern := range locale.SkipPatterns {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling skip pattern %q: %w", pattern, err)
		}
		skip = append(skip, re)
	}

	price, err := regexp.Compile(pricePattern(locale.CurrencyTokens))
	if err != nil {
		return nil, fmt.Errorf("compiling price pattern: %w", err)
	}

	return &Parser{
		skip:       skip,
		price:      price,
		unreadable: locale.UnreadableLabel,
		maxPrice:   locale.MaxPrice,
	}, nil
}

// MustNew is like New but panics on an invalid locale.
func MustNew(locale Locale) *Parser {
	p, err := New(locale)
	if err != nil {
		panic(err)
	}
	return p
}

// pricePattern builds `<digits and spaces>[.,]<2 digits>[currency]`. Longer
// tokens go first so "лв." wins over "лв".
func pricePattern(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })

	pattern := `(?i)(\d[\d\s]*)[.,](\d{2})`
	if len(quoted) > 0 {
		pattern += `(?:\s*(?:` + strings.Join(quoted, "|") + `))?`
	}
	return pattern
}

// Parse runs the default Bulgarian parser.
func Parse(text string) []Line {
	return defaultParser.Parse(text)
}

// Parse returns the items found in text, in line order. It never fails: when
// no line yields an item a single blank row is returned.
func (p *Parser) Parse(text string) []Line {
	var lines []Line
	for _, raw := range lineBreak.Split(text, -1) {
		line := strings.TrimSpace(raw)
		if line == "" || p.isSkipLine(line) {
			continue
		}
		if item, ok := p.parseLine(line); ok {
			lines = append(lines, item)
		}
	}

	if len(lines) == 0 {
		return []Line{{Qty: 1}}
	}
	return lines
}

func (p *Parser) isSkipLine(line string) bool {
	for _, re := range p.skip {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func (p *Parser) parseLine(line string) (Line, bool) {
	start, intPart, decPart, ok := p.lastPrice(line)
	if !ok {
		return Line{}, false
	}

	price, err := decimal.NewFromString(innerSpaces.ReplaceAllString(intPart, "") + "." + decPart)
	if err != nil || !price.IsPositive() || price.GreaterThan(p.maxPrice) {
		return Line{}, false
	}

	label := strings.TrimSpace(strings.ToValidUTF8(line[:start], ""))
	qty := 1
	if m := qtyPrefix.FindStringSubmatchIndex(label); m != nil {
		qty = parseQty(label[m[2]:m[3]])
		label = strings.TrimSpace(label[m[1]:])
	} else if m := qtySuffix.FindStringSubmatchIndex(label); m != nil {
		qty = parseQty(label[m[2]:m[3]])
		label = strings.TrimSpace(label[:m[0]])
	}

	if utf8.RuneCountInString(label) < 2 {
		label = p.unreadable
	}

	return Line{Label: label, Price: price.StringFixed(2), Qty: qty}, true
}

// lastPrice finds the right-most price on the line. A candidate whose two
// decimals run into a third digit is not a price.
func (p *Parser) lastPrice(line string) (start int, intPart, decPart string, ok bool) {
	for _, m := range p.price.FindAllStringSubmatchIndex(line, -1) {
		decEnd := m[5]
		if decEnd < len(line) && line[decEnd] >= '0' && line[decEnd] <= '9' {
			continue
		}
		start, intPart, decPart, ok = m[0], line[m[2]:m[3]], line[m[4]:m[5]], true
	}
	return start, intPart, decPart, ok
}

func parseQty(digits string) int {
	qty, err := strconv.Atoi(digits)
	if err != nil || qty < 1 {
		return 1
	}
	return qty
}

package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"PricePulse/internal/domain/models"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/util"
)

var (
	// numberRegexp captures a numeric price token with either locale's separators.
	numberRegexp = regexp.MustCompile(`\d+(?:[.,\s]\d+)*`)
	// packRegexp captures "6 x 330ml" style multipacks and single sizes like "500 g", "1.5kg", "0,75 l".
	packRegexp = regexp.MustCompile(`(?i)(?:(\d+)\s*[x×]\s*)?(\d+(?:[.,]\d+)?)\s*(kg|g|gram[s]?|l|liter[s]?|litre[s]?|ml|cl)\b`)
	// countRegexp captures pure counts: "12 pack", "x6", "10 stk".
	countRegexp = regexp.MustCompile(`(?i)(?:(\d+)\s*(?:pack|pcs|pieces|stk|ct)\b|[x×]\s*(\d+)\b)`)
)

var symbolCurrency = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

// Normalizer converts raw listings into canonical records. It is stateless;
// per-item failures return ErrNormalize and never abort the batch.
type Normalizer struct {
	logger          *applogger.Logger
	defaultCurrency string
}

func New(logger *applogger.Logger, defaultCurrency string) *Normalizer {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Normalizer{logger: logger, defaultCurrency: defaultCurrency}
}

// Normalize cleans one raw listing. now bounds observed-at: a scrape
// timestamp can never postdate ingestion.
func (n *Normalizer) Normalize(raw models.RawListing, now time.Time) (models.NormalizedListing, error) {
	name := CollapseWhitespace(raw.Title)
	if name == "" {
		return models.NormalizedListing{}, fmt.Errorf("%w: empty title", models.ErrNormalize)
	}

	price, err := ParseMinorUnits(raw.RawPrice)
	if err != nil {
		if n.logger != nil {
			n.logger.Debug("unparseable price dropped",
				applogger.String("store", raw.StoreID),
				applogger.String("raw_price", raw.RawPrice),
			)
		}
		return models.NormalizedListing{}, err
	}

	currency := raw.Currency
	if currency == "" {
		currency = n.currencyFromSymbol(raw.RawPrice)
	}

	observedAt := raw.ScrapedAt
	if observedAt.IsZero() {
		observedAt = now
	}
	observedAt = util.ClampToNow(observedAt, now)

	out := models.NormalizedListing{
		StoreID:    raw.StoreID,
		Name:       name,
		Price:      price,
		Currency:   currency,
		ObservedAt: observedAt,
		SourceURL:  raw.SourceURL,
	}

	// Package size can live in the title ("Whole Milk 1L") or description.
	if kind, size, ok := ParsePackage(raw.Title); ok {
		out.UnitKind, out.PackageSize = kind, size
	} else if kind, size, ok := ParsePackage(raw.Description); ok {
		out.UnitKind, out.PackageSize = kind, size
	}
	if out.UnitKind != models.UnitNone && out.PackageSize > 0 {
		out.UnitPrice = UnitPrice(out.Price, out.UnitKind, out.PackageSize)
	}

	return out, nil
}

func (n *Normalizer) currencyFromSymbol(raw string) string {
	for sym, code := range symbolCurrency {
		if strings.Contains(raw, sym) {
			return code
		}
	}
	return n.defaultCurrency
}

// ParseMinorUnits parses a raw price string into integer minor currency
// units. Both "1,234.56" and "1.234,56" locale forms are accepted: when both
// separators appear the rightmost one is the decimal point; a lone separator
// followed by exactly one or two digits is a decimal point, otherwise it
// groups thousands.
func ParseMinorUnits(raw string) (int64, error) {
	tok := numberRegexp.FindString(strings.ReplaceAll(raw, " ", ""))
	if tok == "" {
		return 0, fmt.Errorf("%w: no numeric token in %q", models.ErrNormalize, raw)
	}

	lastDot := strings.LastIndexByte(tok, '.')
	lastComma := strings.LastIndexByte(tok, ',')

	decSep := byte(0)
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decSep = '.'
		} else {
			decSep = ','
		}
	case lastDot >= 0:
		if isDecimalTail(tok, lastDot) {
			decSep = '.'
		}
	case lastComma >= 0:
		if isDecimalTail(tok, lastComma) {
			decSep = ','
		}
	}

	intPart := tok
	fracPart := ""
	if decSep != 0 {
		idx := strings.LastIndexByte(tok, decSep)
		intPart, fracPart = tok[:idx], tok[idx+1:]
	}
	intPart = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, intPart)
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 2 {
		return 0, fmt.Errorf("%w: fraction too long in %q", models.ErrNormalize, raw)
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	major, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrNormalize, raw)
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrNormalize, raw)
	}
	v := major*100 + frac
	if v < 0 {
		return 0, fmt.Errorf("%w: negative price in %q", models.ErrNormalize, raw)
	}
	return v, nil
}

// isDecimalTail reports whether the separator at idx is followed by one or
// two digits only, i.e. reads as a decimal point rather than a thousands group.
func isDecimalTail(tok string, idx int) bool {
	tail := tok[idx+1:]
	if len(tail) == 0 || len(tail) > 2 {
		return false
	}
	for _, r := range tail {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	// "1.234" is ambiguous; a 3-digit tail already failed above, and a
	// repeated separator earlier means grouping.
	return strings.Count(tok, string(tok[idx])) == 1
}

// RenderMinorUnits renders minor units back into a locale form. Used to
// verify the parse round-trip.
func RenderMinorUnits(v int64, decSep, thouSep rune) string {
	major := v / 100
	frac := v % 100
	digits := strconv.FormatInt(major, 10)

	var grouped strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 && thouSep != 0 {
			grouped.WriteRune(thouSep)
		}
		grouped.WriteRune(d)
	}
	return fmt.Sprintf("%s%c%02d", grouped.String(), decSep, frac)
}

// ParsePackage extracts a package size from free text. Multipacks multiply
// ("6 x 330ml" is 1980 ml). Weight normalizes to grams, volume to
// milliliters.
func ParsePackage(text string) (models.UnitKind, float64, bool) {
	if m := packRegexp.FindStringSubmatch(text); m != nil {
		mult := 1.0
		if m[1] != "" {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
				mult = v
			}
		}
		qty, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", "."), 64)
		if err != nil || qty <= 0 {
			return models.UnitNone, 0, false
		}
		switch strings.ToLower(m[3]) {
		case "kg":
			return models.UnitWeight, mult * qty * 1000, true
		case "g", "gram", "grams":
			return models.UnitWeight, mult * qty, true
		case "l", "liter", "liters", "litre", "litres":
			return models.UnitVolume, mult * qty * 1000, true
		case "cl":
			return models.UnitVolume, mult * qty * 10, true
		case "ml":
			return models.UnitVolume, mult * qty, true
		}
	}
	if m := countRegexp.FindStringSubmatch(text); m != nil {
		tok := m[1]
		if tok == "" {
			tok = m[2]
		}
		if v, err := strconv.ParseFloat(tok, 64); err == nil && v > 0 {
			return models.UnitCount, v, true
		}
	}
	return models.UnitNone, 0, false
}

// UnitPrice computes the price per standard unit: per 100 g for weight, per
// 100 ml for volume, per item for counts. Rounded to nearest minor unit.
func UnitPrice(price int64, kind models.UnitKind, size float64) int64 {
	if size <= 0 {
		return 0
	}
	switch kind {
	case models.UnitWeight, models.UnitVolume:
		return int64(float64(price)*100/size + 0.5)
	case models.UnitCount:
		return int64(float64(price)/size + 0.5)
	default:
		return 0
	}
}

// CollapseWhitespace trims and collapses internal whitespace runs.
func CollapseWhitespace(s string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(s), unicode.IsSpace)
	return strings.Join(fields, " ")
}

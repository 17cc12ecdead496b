package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Currencies recognised in price text.
const (
	CurrencyCLP = "CLP"
	CurrencyUF  = "UF"
	CurrencyUSD = "USD"
)

// Price is a parsed price.
type Price struct {
	Currency string
	Amount   float64
	Text     string
}

// Map renders the price as the precio_detalle structure.
func (p Price) Map() map[string]string {
	return map[string]string{
		"moneda": p.Currency,
		"monto":  strconv.FormatFloat(p.Amount, 'f', -1, 64),
		"texto":  p.Text,
	}
}

var (
	numberPattern    = regexp.MustCompile(`\d(?:[\d.,]*\d)?`)
	thousandsPattern = regexp.MustCompile(`^\d{1,3}([.,]\d{3})+$`)
	ufPattern        = regexp.MustCompile(`(?i)(?:^|[^A-Za-z])UF(?:$|[^A-Za-z])`)
	usdPattern       = regexp.MustCompile(`(?i)US\$|USD|U\$S|d[oó]lares?`)
	// scalePattern matches a magnitude word right after the number.
	scalePattern = regexp.MustCompile(`^\s*((?i:mill(?:ones|[oó]n)?)|MM|(?i:mil))(?:$|[^\p{L}])`)
)

// ParsePrice reads a display price such as "$150.000.000", "UF 3.500,5" or
// "US$ 1,250.50". Chilean formatting uses '.' for thousands and ',' for
// decimals; when both separators appear the last one is the decimal mark.
// Text without a currency marker is assumed to be CLP. A trailing "millones"
// or "MM" scales the amount by a million, "mil" by a thousand.
func ParsePrice(text string) (Price, bool) {
	display := collapseSpace(text)
	loc := numberPattern.FindStringIndex(display)
	if loc == nil {
		return Price{}, false
	}
	amount, ok := parseAmount(display[loc[0]:loc[1]])
	if !ok {
		return Price{}, false
	}
	if m := scalePattern.FindStringSubmatch(display[loc[1]:]); m != nil {
		amount = math.Round(amount*scale(m[1])*100) / 100
	}
	return Price{Currency: detectCurrency(display), Amount: amount, Text: display}, true
}

func scale(word string) float64 {
	if strings.EqualFold(word, "mil") {
		return 1e3
	}
	return 1e6
}

func detectCurrency(s string) string {
	switch {
	case ufPattern.MatchString(s):
		return CurrencyUF
	case usdPattern.MatchString(s):
		return CurrencyUSD
	default:
		return CurrencyCLP
	}
}

func parseAmount(num string) (float64, bool) {
	dot := strings.LastIndexByte(num, '.')
	comma := strings.LastIndexByte(num, ',')
	var normalized string
	switch {
	case dot >= 0 && comma >= 0:
		dec, thou := ".", ","
		if comma > dot {
			dec, thou = ",", "."
		}
		normalized = strings.ReplaceAll(num, thou, "")
		normalized = strings.Replace(normalized, dec, ".", 1)
	case dot >= 0 || comma >= 0:
		if thousandsPattern.MatchString(num) {
			normalized = strings.NewReplacer(".", "", ",", "").Replace(num)
		} else {
			normalized = strings.Replace(num, ",", ".", 1)
		}
	default:
		normalized = num
	}
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Package parser turns free-text trading signals into structured trade intents.
//
// The accepted format is
//
//	BUY EURUSD [@1.0860 optional note]
//	SL 1.0850
//	TP 1.0890
//
// where the price on the first line is optional and may also be written as "@1.0860".
package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"tradesignal/internal/models"
)

var (
	firstLinePattern = regexp.MustCompile(`^(BUY|SELL)\s+([A-Z]+)(?:\s*(?:\[@?([\d.]+)[^\]]*\]|@([\d.]+)))?$`)
	// Plain decimal notation only; exponents are refused.
	numberPattern = regexp.MustCompile(`^[+-]?(?:\d+(?:\.\d*)?|\.\d+)$`)
)

const maxNumberLen = 32

// maxPrice is the first value that no longer fits the numeric(19,4) price columns.
var maxPrice = decimal.New(1, 15)

// Signal is a parsed trade intent. Price is nil when the first line carried none.
type Signal struct {
	Action     models.Action
	Instrument string
	Price      *decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Parse is a pure function of text: the same input always yields the same
// Signal or the same *Rejection.
func Parse(text string) (Signal, error) {
	if text == "" {
		return Signal{}, reject(CodeEmptyMessage)
	}

	text = unquote(text, '"')
	text = unquote(text, '\'')

	lines := splitLines(text)
	if len(lines) < 2 {
		return Signal{}, reject(CodeIncompleteData)
	}

	m := firstLinePattern.FindStringSubmatch(lines[0])
	if m == nil {
		return Signal{}, reject(CodeInvalidFirstLine)
	}
	sig := Signal{
		Action:     models.Action(m[1]),
		Instrument: m[2],
	}
	if raw := firstNonEmpty(m[3], m[4]); raw != "" {
		price, ok := parseNumber(raw)
		if !ok {
			return Signal{}, reject(CodeInvalidFirstLine)
		}
		sig.Price = &price
	}

	var sl, tp *decimal.Decimal
	for _, line := range lines[1:] {
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "SL"):
			v, ok := secondNumber(line)
			if !ok {
				return Signal{}, reject(CodeInvalidSLFormat)
			}
			sl = &v
		case strings.HasPrefix(upper, "TP"):
			v, ok := secondNumber(line)
			if !ok {
				return Signal{}, reject(CodeInvalidTPFormat)
			}
			tp = &v
		}
	}
	if sl == nil {
		return Signal{}, reject(CodeMissingSL)
	}
	if tp == nil {
		return Signal{}, reject(CodeMissingTP)
	}
	sig.StopLoss = *sl
	sig.TakeProfit = *tp

	switch sig.Action {
	case models.ActionBuy:
		if !sig.StopLoss.LessThan(sig.TakeProfit) {
			return Signal{}, &Rejection{Code: CodeInvalidStopTakeOrdering, Message: msgBuyOrdering}
		}
	case models.ActionSell:
		if !sig.StopLoss.GreaterThan(sig.TakeProfit) {
			return Signal{}, &Rejection{Code: CodeInvalidStopTakeOrdering, Message: msgSellOrdering}
		}
	}

	return sig, nil
}

// unquote removes one matching pair of q around s and trims what was inside.
func unquote(s string, q byte) string {
	if len(s) >= 2 && s[0] == q && s[len(s)-1] == q {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func splitLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// secondNumber parses the whitespace-separated token after the SL/TP label.
func secondNumber(line string) (decimal.Decimal, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return decimal.Decimal{}, false
	}
	return parseNumber(fields[1])
}

// parseNumber accepts plain decimals whose rounded value fits a stored price.
func parseNumber(raw string) (decimal.Decimal, bool) {
	if len(raw) > maxNumberLen || !numberPattern.MatchString(raw) {
		return decimal.Decimal{}, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if !models.RoundPrice(v).Abs().LessThan(maxPrice) {
		return decimal.Decimal{}, false
	}
	return v, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

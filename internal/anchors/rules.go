package anchors

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

// Rule labels a line as carrying the amount for Field. Rules are matched
// against the lowercased, accent-stripped line; Priority orders competing
// matches for the same field.
type Rule struct {
	Field    extraction.Field
	Pattern  *regexp.Regexp
	Priority int
}

func rule(f extraction.Field, pattern string, priority int) Rule {
	return Rule{Field: f, Pattern: regexp.MustCompile(`(?i)` + pattern), Priority: priority}
}

// DefaultRules are the bilingual label rules. The priorities are hand tuned;
// keep them as they are unless a regression corpus says otherwise.
var DefaultRules = []Rule{
	rule(extraction.FieldTotal, `total\s*(amount|a\s*payer|du|paid|due)?`, 10),
	rule(extraction.FieldTotal, `montant\s*(total|du|a\s*payer)`, 10),
	rule(extraction.FieldTotal, `amount\s*(due|paid|charged|total)`, 10),
	rule(extraction.FieldTotal, `balance\s*(due|forward|totale?)?`, 8),
	rule(extraction.FieldTotal, `solde\s*(du|total|a\s*payer)?`, 8),
	rule(extraction.FieldTotal, `grand\s*total`, 12),
	rule(extraction.FieldTotal, `total\s*(current\s*charges?|charges?\s*including\s*tax)`, 9),
	// tax sum lines, not the grand total
	rule(extraction.FieldTotal, `total\s*taxes?\s*(on|including)`, 2),

	rule(extraction.FieldPreTax, `sub\s*total`, 8),
	rule(extraction.FieldPreTax, `sous[\s-]total`, 8),
	rule(extraction.FieldPreTax, `before\s*tax`, 8),
	rule(extraction.FieldPreTax, `net\s*(amount|total)?`, 6),
	rule(extraction.FieldPreTax, `netto`, 6),
	rule(extraction.FieldPreTax, `monthly\s*charges?`, 4),

	rule(extraction.FieldGST, `(gst|tps)\s*(included|in\s*this\s*bill|on\s*charges?)?`, 10),
	rule(extraction.FieldGST, `(gst|tps)\s*@?\s*5\s*%?`, 10),
	rule(extraction.FieldGST, `federal\s*tax`, 6),

	rule(extraction.FieldQST, `(qst|tvq)\s*(included|in\s*this\s*bill|telecom)?`, 10),
	rule(extraction.FieldQST, `(qst|tvq)\s*@?\s*9[.,]?975?\s*%?`, 10),
	rule(extraction.FieldQST, `provincial\s*tax`, 6),

	rule(extraction.FieldPST, `pst\s*(@|tax)?`, 8),
	rule(extraction.FieldPST, `rst\s*(@|tax)?`, 6),

	rule(extraction.FieldHST, `hst\s*(tax|@)?`, 8),
}

var (
	// optional sign, optional currency glyph, 1-6 integer digits, comma or
	// period, exactly two decimals, optional currency suffix
	amountRe = regexp.MustCompile(`(?i)(?:^|[\s:=])-?\$?(\d{1,6}[.,]\d{2})(?:\s*(?:CAD|USD|$))?`)
	// last resort: a bare two-decimal number ending the line
	bareAmountRe = regexp.MustCompile(`(\d{1,6}[.,]\d{2})\s*$`)
)

// ParseAmount returns the first amount on a line.
func ParseAmount(line string) (float64, bool) {
	m := amountRe.FindStringSubmatch(line)
	if m == nil {
		m = bareAmountRe.FindStringSubmatch(line)
		if m == nil {
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return extraction.Round2(v), true
}

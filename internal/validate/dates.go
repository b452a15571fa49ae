package validate

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PStewardYUL/receipt-ai/internal/anchors"
)

var (
	// a date near one of these labels is not the transaction date
	rejectDateRe = regexp.MustCompile(`(?i)(expir|valid until|return by|retour avant|best before|meilleur avant|relev[eé]|` +
		`print date|imprim|policy|politique|void after|annul|` +
		`next bill|next billing|prochaine|next due|next payment|prochain paiement|` +
		`renewal|renouvellement)`)

	// "échéance" rejects unless a billing word follows it
	dueDateRe = regexp.MustCompile(`(?i)[eé]ch[eé]ance`)

	preferDateRe = regexp.MustCompile(`(?i)(\bbill date\b|billing date|date de facturation|invoice date|statement date|` +
		`\btransaction\b|purchase date|achat|\bdate\b|sale date|` +
		`\breceipt\b|re[cç]u le|processed on|paid on|pay[eé] le)`)

	clockRe = regexp.MustCompile(`\b\d{1,2}:\d{2}(:\d{2})?\b`)
)

// date normalizes the draft date, falling back to a scan of text.
func (v *Validator) date(raw, text string, warnings *[]string) string {
	if raw = strings.TrimSpace(raw); raw != "" {
		if iso, ok := v.parseDate(raw); ok {
			return iso
		}
		*warnings = append(*warnings, WarnDateParseFailed+":"+raw)
	}
	if text != "" {
		if iso := v.scanDate(text); iso != "" {
			*warnings = append(*warnings, WarnDateFromOCR+":"+iso)
			return iso
		}
	}
	*warnings = append(*warnings, WarnDateMissing)
	return ""
}

func (v *Validator) parseDate(s string) (string, bool) {
	t, ok := anchors.ParseDate(s)
	if !ok || !v.inRange(t) {
		return "", false
	}
	return t.Format(anchors.ISODate), true
}

func (v *Validator) inRange(t time.Time) bool {
	limit := time.Date(v.cfg.Now().Year()+1, 12, 31, 0, 0, 0, 0, time.UTC)
	return !t.Before(v.cfg.MinDate) && !t.After(limit)
}

type candidate struct {
	iso   string
	score int
	pos   int
}

// scanDate picks the likeliest transaction date in text. Each date is
// judged with its own line and the line before it, where labels usually
// sit.
func (v *Validator) scanDate(text string) string {
	lines := strings.Split(text, "\n")
	var candidates []candidate
	offset := 0
	for idx, line := range lines {
		lineStart := offset
		offset += len(line) + 1

		tokens := anchors.DateTokens(line)
		if len(tokens) == 0 {
			continue
		}
		prev := ""
		if idx > 0 {
			prev = lines[idx-1]
		}
		context := strings.ToLower(prev + " " + line)
		if rejectedContext(context) {
			continue
		}

		for _, tok := range tokens {
			iso, ok := v.parseDate(tok)
			if !ok {
				continue
			}
			score := 0
			if preferDateRe.MatchString(context) {
				score += 5
			}
			if clockRe.MatchString(line) {
				score += 3
			}
			if float64(idx) < float64(len(lines))*0.5 {
				score++
			}
			candidates = append(candidates, candidate{iso: iso, score: score, pos: lineStart + strings.Index(line, tok)})
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pos < candidates[j].pos
	})
	return candidates[0].iso
}

func rejectedContext(context string) bool {
	if rejectDateRe.MatchString(context) {
		return true
	}
	if loc := dueDateRe.FindStringIndex(context); loc != nil {
		return !strings.Contains(context[loc[1]:], "fact")
	}
	return false
}

package anchors

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ISODate is the canonical date layout.
const ISODate = "2006-01-02"

type month struct {
	name string
	num  time.Month
}

// months are tried in order, so French names precede the English
// abbreviations they contain.
var months = []month{
	{"janvier", 1}, {"fevrier", 2}, {"février", 2}, {"mars", 3},
	{"avril", 4}, {"mai", 5}, {"juin", 6}, {"juillet", 7},
	{"aout", 8}, {"août", 8}, {"septembre", 9}, {"octobre", 10},
	{"novembre", 11}, {"decembre", 12}, {"décembre", 12},
	{"janv", 1}, {"févr", 2}, {"fevr", 2}, {"avr", 4}, {"juil", 7}, {"sept", 9},

	{"january", 1}, {"february", 2}, {"march", 3}, {"april", 4},
	{"may", 5}, {"june", 6}, {"july", 7}, {"august", 8},
	{"september", 9}, {"october", 10}, {"november", 11}, {"december", 12},
	{"jan", 1}, {"feb", 2}, {"mar", 3}, {"apr", 4}, {"jun", 6},
	{"jul", 7}, {"aug", 8}, {"sep", 9}, {"oct", 10}, {"nov", 11}, {"dec", 12},
}

const frenchMonthCount = 21

func monthAlternation(ms []month) string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = regexp.QuoteMeta(m.name)
	}
	return strings.Join(names, "|")
}

var (
	allMonths     = monthAlternation(months)
	englishMonths = monthAlternation(months[frenchMonthCount:])
	frenchMonths  = monthAlternation(months[:frenchMonthCount])

	// dateLayouts find date tokens inside a line
	dateLayouts = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{4}[-/]\d{2}[-/]\d{2})\b`),
		regexp.MustCompile(`\b(\d{1,2}[-/.]\d{1,2}[-/.]\d{4})\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:` + allMonths + `)\w*\.?\s*,?\s*\d{4})\b`),
		regexp.MustCompile(`(?i)\b((?:` + englishMonths + `)\w*\.?\s+\d{1,2}\s*,?\s*\d{4})\b`),
		regexp.MustCompile(`(?i)\b((?:le\s+)?\d{1,2}\s+(?:` + frenchMonths + `)\w*\.?\s*,?\s*\d{4})\b`),
	}

	isoTokenRe     = regexp.MustCompile(`^(\d{4})[-/](\d{2})[-/](\d{2})$`)
	numericTokenRe = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})$`)
	compactTokenRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	leadingLeRe    = regexp.MustCompile(`^le\s+`)
	digitsRe       = regexp.MustCompile(`\d+`)

	// labels that confirm a transaction date
	dateConfirmRe = regexp.MustCompile(`(?i)^(bill\s*date|invoice\s*date|date\s*de\s*facturation|transaction|purchased|date\s*d'achat)`)
	bareDateRe    = regexp.MustCompile(`(?i)^date\b`)
	// "date" followed by these is an expiry or return date
	bareDateExcludeRe = regexp.MustCompile(`(?i)^\s*(d'expir|limite|de\s*retour)`)

	// vocabulary of dates that are not the transaction date
	dateRejectRe = regexp.MustCompile(`(?i)(next|expir|valid\s*until|return|best\s*before|due\s*date|prochaine|renouvellement|void\s*after|print)`)
	clockRe      = regexp.MustCompile(`\d{1,2}:\d{2}`)
)

// ParseDate reads one date token (ISO, delimited numeric, YYYYMMDD, or a
// French/English month name) and returns a real calendar date. Ambiguous
// numeric tokens are read as MM/DD unless the first number exceeds 12.
func ParseDate(s string) (time.Time, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = leadingLeRe.ReplaceAllString(s, "")

	if m := isoTokenRe.FindStringSubmatch(s); m != nil {
		return civil(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := numericTokenRe.FindStringSubmatch(s); m != nil {
		a, b, y := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if a > 12 {
			return civil(y, b, a)
		}
		return civil(y, a, b)
	}
	if m := compactTokenRe.FindStringSubmatch(s); m != nil {
		return civil(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	for _, mo := range months {
		if !strings.Contains(s, mo.name) {
			continue
		}
		numbers := digitsRe.FindAllString(s, -1)
		year := ""
		for _, n := range numbers {
			if len(n) == 4 {
				year = n
				break
			}
		}
		if year == "" {
			continue
		}
		for _, n := range numbers {
			if n == year {
				continue
			}
			if d := atoi(n); d >= 1 && d <= 31 {
				if t, ok := civil(atoi(year), int(mo.num), d); ok {
					return t, true
				}
				break
			}
		}
	}
	return time.Time{}, false
}

// DateTokens returns the substrings of line that look like dates, in
// layout order.
func DateTokens(line string) []string {
	var tokens []string
	for _, layout := range dateLayouts {
		for _, m := range layout.FindAllStringSubmatch(line, -1) {
			tokens = append(tokens, m[1])
		}
	}
	return tokens
}

func civil(y, m, d int) (time.Time, bool) {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func confirmedDateLabel(folded string) bool {
	if dateConfirmRe.MatchString(folded) {
		return true
	}
	if loc := bareDateRe.FindStringIndex(folded); loc != nil {
		return !bareDateExcludeRe.MatchString(folded[loc[1]:])
	}
	return false
}

type dateCandidate struct {
	iso   string
	score int
	line  int
}

func (e *Extractor) date(lines []string) string {
	total := len(lines)
	if total == 0 {
		total = 1
	}

	var candidates []dateCandidate
	for idx, line := range lines {
		folded := fold(line)
		if dateRejectRe.MatchString(folded) {
			continue
		}
		for _, token := range DateTokens(line) {
			t, ok := ParseDate(token)
			if !ok || t.Year() < e.MinYear || t.Year() > e.MaxYear {
				continue
			}
			score := 0
			if confirmedDateLabel(folded) {
				score += 10
			}
			if clockRe.MatchString(line) {
				score += 5
			}
			if float64(idx) < float64(total)*e.TopFraction {
				score += 2
			}
			candidates = append(candidates, dateCandidate{iso: t.Format(ISODate), score: score, line: idx})
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].line < candidates[j].line
	})
	return candidates[0].iso
}

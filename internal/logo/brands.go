package logo

import (
	"strings"

	"github.com/PStewardYUL/receipt-ai/internal/anchors"
)

// Brands is the classification vocabulary: merchants whose logo alone is
// enough to name them.
var Brands = []string{
	"Home Depot", "Canadian Tire", "Costco", "Walmart", "IGA", "Metro",
	"Jean Coutu", "Pharmaprix", "Shoppers Drug Mart", "SAQ", "Tim Hortons",
	"McDonald's", "Subway", "Dollarama", "IKEA", "Rona", "Best Buy",
	"Staples", "Loblaws", "Provigo", "Super C", "Maxi", "Amazon", "eBay",
	"Starbucks", "A&W", "Virgin Plus", "Bell", "Rogers", "Telus",
	"Videotron", "Fido", "Koodo", "Hydro-Quebec", "Enbridge", "UPS",
	"FedEx", "Canada Post",
}

type alias struct {
	key       string
	canonical string
}

// aliases maps lowercase fragments of a model answer to vendor names. The
// first match wins, so longer or more specific keys come first.
var aliases = []alias{
	{"home depot", "Home Depot"},
	{"canadian tire", "Canadian Tire"},
	{"costco", "Costco"},
	{"walmart", "Walmart"},
	{"iga", "IGA"},
	{"metro", "Metro"},
	{"jean coutu", "Jean Coutu"},
	{"pharmaprix", "Pharmaprix"},
	{"shoppers drug mart", "Shoppers Drug Mart"},
	{"shoppers", "Shoppers Drug Mart"},
	{"saq", "SAQ"},
	{"tim hortons", "Tim Hortons"},
	{"mcdonalds", "McDonald's"},
	{"mcdonald's", "McDonald's"},
	{"subway", "Subway"},
	{"dollarama", "Dollarama"},
	{"ikea", "IKEA"},
	{"rona", "Rona"},
	{"best buy", "Best Buy"},
	{"staples", "Staples"},
	{"winners", "Winners"},
	{"homesense", "HomeSense"},
	{"loblaws", "Loblaws"},
	{"provigo", "Provigo"},
	{"super c", "Super C"},
	{"maxi", "Maxi"},
	{"amazon", "Amazon"},
	{"apple", "Apple"},
	{"ebay", "eBay"},

	{"virgin plus", "Virgin Plus"},
	{"virgin mobile", "Virgin Plus"},
	{"virgin", "Virgin Plus"},
	{"bell", "Bell"},
	{"rogers", "Rogers"},
	{"telus", "Telus"},
	{"videotron", "Videotron"},
	{"vidéotron", "Videotron"},
	{"fido", "Fido"},
	{"koodo", "Koodo"},
	{"fizz", "Fizz"},
	{"hydro-québec", "Hydro-Québec"},
	{"hydro-quebec", "Hydro-Québec"},
	{"hydro", "Hydro-Québec"},
	{"enbridge", "Enbridge"},
}

// Hint values that carry no vendor information.
const (
	Unknown       = "unknown"
	NotApplicable = "not applicable"
	NotIdentified = "not identified"
)

// Usable reports whether hint names a vendor.
func Usable(hint string) bool {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "", Unknown, NotApplicable, NotIdentified:
		return false
	}
	return true
}

// Canonical turns a free-form model answer into a vendor name. Known brands
// are mapped to their usual spelling; a short single-line answer is title
// cased; anything else is Unknown.
func Canonical(answer string) string {
	raw := strings.TrimSpace(answer)
	raw = strings.TrimSpace(strings.Trim(raw, `"'`))
	lower := strings.ToLower(raw)

	for _, a := range aliases {
		if strings.Contains(lower, a.key) {
			return a.canonical
		}
	}
	if lower == "" || lower == Unknown || len(lower) >= 60 || strings.Contains(lower, "\n") {
		return Unknown
	}
	return anchors.TitleCase(raw)
}

// brandFor returns the vocabulary entry matching label, ignoring case and
// the "a receipt from" framing of the classification labels.
func brandFor(label string) (string, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.TrimPrefix(label, "a receipt from ")
	for _, b := range Brands {
		if strings.ToLower(b) == label {
			return b, true
		}
	}
	return "", false
}

package anchors

import (
	"log/slog"
	"regexp"
	"strings"
)

// Alias maps a lowercase key found in text to a canonical vendor name.
type Alias struct {
	Key    string
	Vendor string
}

// DomainVendors are matched anywhere in the text, in order.
var DomainVendors = []Alias{
	{"virginplus.ca", "Virgin Plus"}, {"virginmobile.ca", "Virgin Plus"},
	{"bell.ca", "Bell"}, {"bell.net", "Bell"},
	{"rogers.com", "Rogers"}, {"fido.ca", "Fido"},
	{"telus.com", "Telus"}, {"koodo.com", "Koodo"},
	{"videotron.com", "Videotron"}, {"videotron.ca", "Videotron"},
	{"hydroquebec.com", "Hydro-Quebec"},
	{"amazon.ca", "Amazon"}, {"amazon.com", "Amazon"},
	{"homedepot.ca", "Home Depot"}, {"homedepot.com", "Home Depot"},
	{"canadiantire.ca", "Canadian Tire"},
	{"walmart.ca", "Walmart"}, {"walmart.com", "Walmart"},
	{"costco.ca", "Costco"}, {"costco.com", "Costco"},
	{"iga.net", "IGA"}, {"metro.ca", "Metro"},
	{"pharmaprix.ca", "Pharmaprix"}, {"shoppersdrugmart.ca", "Shoppers Drug Mart"},
	{"jeancoutu.com", "Jean Coutu"},
	{"saq.com", "SAQ"}, {"ikea.com", "IKEA"},
	{"staples.ca", "Staples"}, {"bestbuy.ca", "Best Buy"},
	{"rona.ca", "Rona"}, {"lowes.ca", "Lowes"},
	{"ville.montreal.qc.ca", "Ville de Montreal"},
	{"montreal.ca", "Ville de Montreal"},
	{"revenuquebec.ca", "Revenu Quebec"},
	{"canada.ca", "Government of Canada"},
	{"ebay.ca", "eBay"}, {"ebay.com", "eBay"},
	{"paypal.com", "PayPal"}, {"paypal.ca", "PayPal"},
	{"etsy.com", "Etsy"},
}

// KnownVendors are matched, in order, against the top lines of a receipt
// after accent stripping.
var KnownVendors = []Alias{
	{"home depot", "Home Depot"}, {"rona", "Rona"}, {"canadian tire", "Canadian Tire"},
	{"home hardware", "Home Hardware"}, {"lowes", "Lowes"}, {"lowe's", "Lowes"},
	{"iga", "IGA"}, {"metro", "Metro"}, {"maxi", "Maxi"}, {"super c", "Super C"},
	{"loblaws", "Loblaws"}, {"provigo", "Provigo"}, {"walmart", "Walmart"},
	{"costco", "Costco"}, {"dollarama", "Dollarama"}, {"giant tiger", "Giant Tiger"},
	{"pharmaprix", "Pharmaprix"}, {"shoppers", "Shoppers Drug Mart"},
	{"jean coutu", "Jean Coutu"}, {"uniprix", "Uniprix"}, {"brunet", "Brunet"},
	{"tim hortons", "Tim Hortons"}, {"starbucks", "Starbucks"},
	{"mcdonald", "McDonald's"}, {"subway", "Subway"}, {"a&w", "A&W"},
	{"burger king", "Burger King"}, {"pizza hut", "Pizza Hut"},
	{"domino", "Domino's"}, {"bk", "Burger King"},
	{"virgin plus", "Virgin Plus"}, {"virgin mobile", "Virgin Plus"},
	{"bell", "Bell"}, {"rogers", "Rogers"}, {"telus", "Telus"},
	{"videotron", "Videotron"}, {"vidéotron", "Videotron"},
	{"fido", "Fido"}, {"koodo", "Koodo"}, {"fizz", "Fizz"},
	{"hydro-québec", "Hydro-Quebec"}, {"hydro-quebec", "Hydro-Quebec"},
	{"hydro québec", "Hydro-Quebec"}, {"enbridge", "Enbridge"},
	{"gaz metro", "Energir"}, {"energir", "Energir"},
	{"saq", "SAQ"}, {"ikea", "IKEA"}, {"best buy", "Best Buy"},
	{"staples", "Staples"}, {"winners", "Winners"}, {"homesense", "HomeSense"},
	{"simons", "Simons"}, {"reitmans", "Reitmans"},
	{"ville de montreal", "Ville de Montreal"},
	{"ville de québec", "Ville de Quebec"},
	{"gouvernement du québec", "Gouvernement du Quebec"},
	{"revenu québec", "Revenu Quebec"}, {"cra", "Canada Revenue Agency"},
	{"service canada", "Service Canada"},
	{"amazon", "Amazon"}, {"apple", "Apple"}, {"google", "Google"},
	{"microsoft", "Microsoft"}, {"adobe", "Adobe"},
	{"ebay", "eBay"}, {"paypal", "PayPal"},
	{"etsy", "Etsy"}, {"shopify", "Shopify"},
}

type signal struct {
	pattern *regexp.Regexp
	vendor  string
}

// marketplace receipts name the platform in order/shipping phrasing
var marketplaceSignals = []signal{
	{regexp.MustCompile(`ebay\.c|order\s+from\s+ebay|ebay\s+order|sold\s+on\s+ebay`), "eBay"},
	{regexp.MustCompile(`amazon\.c|fulfilled\s+by\s+amazon|sold\s+by.*amazon`), "Amazon"},
	{regexp.MustCompile(`paypal\.c|payment\s+via\s+paypal|paypal\s+receipt`), "PayPal"},
	{regexp.MustCompile(`etsy\.c|etsy\s+order|etsy\s+receipt`), "Etsy"},
}

var (
	// a buyer label alone on its line; the next line is a personal name
	buyerLabelRe = regexp.MustCompile(`(?i)^(ship\s*to|bill\s*to|sold\s*to|deliver\s*to|buyer|customer|livrer\s*a|facture\s*a|acheteur|nom\s*du\s*client)\s*[:\-]?\s*$`)

	// a buyer label with the name inline
	buyerInlineRe = regexp.MustCompile(`(?i)^(ship\s*to|bill\s*to|sold\s*to|deliver\s*to|buyer|customer|livrer|facture|acheteur)\s*[:\-]`)

	numericLineRe = regexp.MustCompile(`^[\d\s\-\(\)\+\.]+$`)
	streetLineRe  = regexp.MustCompile(`^\d+\s+\w`)
	receiptMetaRe = regexp.MustCompile(`(?i)(receipt|recu|reçu|facture|invoice|bill|date|tel:|www\.|http)`)
)

func (e *Extractor) vendor(lines []string, text string) string {
	lower := strings.ToLower(text)
	for _, d := range e.DomainVendors {
		if strings.Contains(lower, d.Key) {
			slog.Debug("vendor from domain", "domain", d.Key, "vendor", d.Vendor)
			return d.Vendor
		}
	}

	top := lines
	if len(top) > e.KnownVendorLines {
		top = top[:e.KnownVendorLines]
	}
	topText := fold(strings.Join(top, " "))
	for _, k := range e.KnownVendors {
		if strings.Contains(topText, StripAccents(k.Key)) {
			slog.Debug("vendor from known list", "key", k.Key, "vendor", k.Vendor)
			return k.Vendor
		}
	}

	folded := fold(text)
	for _, s := range marketplaceSignals {
		if s.pattern.MatchString(folded) {
			slog.Debug("vendor from marketplace signal", "vendor", s.vendor)
			return s.vendor
		}
	}

	head := lines
	if len(head) > e.HeaderLines {
		head = head[:e.HeaderLines]
	}
	skipNext := false
	for _, line := range head {
		stripped := StripAccents(strings.TrimSpace(line))
		if skipNext {
			skipNext = false
			continue
		}
		if buyerLabelRe.MatchString(stripped) {
			skipNext = true
			continue
		}
		if buyerInlineRe.MatchString(stripped) {
			continue
		}
		if numericLineRe.MatchString(stripped) || streetLineRe.MatchString(stripped) {
			continue
		}
		if len([]rune(stripped)) < 3 || receiptMetaRe.MatchString(stripped) {
			continue
		}
		if IsUpper(stripped) {
			return TitleCase(stripped)
		}
		return stripped
	}
	return ""
}

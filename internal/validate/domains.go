package validate

import "github.com/PStewardYUL/receipt-ai/internal/anchors"

// DomainVendors recover a vendor from a web or email domain printed on the
// document. New sorts them longest first so that specific domains win.
var DomainVendors = []anchors.Alias{
	{Key: "virginplus.ca", Vendor: "Virgin Plus"},
	{Key: "virginmobile.ca", Vendor: "Virgin Plus"},
	{Key: "bell.ca", Vendor: "Bell"},
	{Key: "rogers.com", Vendor: "Rogers"},
	{Key: "fido.ca", Vendor: "Fido"},
	{Key: "telus.com", Vendor: "TELUS"},
	{Key: "koodo", Vendor: "Koodo"},
	{Key: "videotron.com", Vendor: "Videotron"},
	{Key: "hydroquebec.com", Vendor: "Hydro-Quebec"},
	{Key: "hydro.qc.ca", Vendor: "Hydro-Quebec"},
	{Key: "hydro.on.ca", Vendor: "Hydro One"},
	{Key: "enbridge.com", Vendor: "Enbridge Gas"},
	{Key: "amazon.ca", Vendor: "Amazon"},
	{Key: "amazon.com", Vendor: "Amazon"},
	{Key: "paypal.com", Vendor: "PayPal"},
	{Key: "homedepot.ca", Vendor: "Home Depot"},
	{Key: "canadiantire.ca", Vendor: "Canadian Tire"},
	{Key: "ikea.com", Vendor: "IKEA"},
	{Key: "costco.ca", Vendor: "Costco"},
	{Key: "walmart.ca", Vendor: "Walmart"},
	{Key: "bestbuy.ca", Vendor: "Best Buy"},
	{Key: "staples.ca", Vendor: "Staples"},
	{Key: "dollarama.com", Vendor: "Dollarama"},
	{Key: "rona.ca", Vendor: "Rona"},
	{Key: "lowes.ca", Vendor: "Lowe's"},
	{Key: "saq.com", Vendor: "SAQ"},
	{Key: "metro.ca", Vendor: "Metro"},
	{Key: "iga.net", Vendor: "IGA"},
	{Key: "maxi.ca", Vendor: "Maxi"},
	{Key: "provigo.ca", Vendor: "Provigo"},
	{Key: "jeancoutu.com", Vendor: "Jean Coutu"},
	{Key: "pharmaprix.ca", Vendor: "Pharmaprix"},
	{Key: "shoppersdrugmart.ca", Vendor: "Shoppers Drug Mart"},
	{Key: "timhortons.com", Vendor: "Tim Hortons"},
	{Key: "mcdonalds.com", Vendor: "McDonald's"},
	{Key: "subway.com", Vendor: "Subway"},
}

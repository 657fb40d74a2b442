package listing

import "strings"

// countryNames maps ISO-2 codes to the English names the provider's query
// parser expects. Unknown codes fall through to the code itself, which the
// provider tolerates for most markets.
var countryNames = map[string]string{
	"US": "United States",
	"CA": "Canada",
	"GB": "United Kingdom",
	"AU": "Australia",
	"NZ": "New Zealand",
	"IE": "Ireland",
	"DE": "Germany",
	"FR": "France",
	"ES": "Spain",
	"IT": "Italy",
	"PT": "Portugal",
	"NL": "Netherlands",
	"BE": "Belgium",
	"CH": "Switzerland",
	"AT": "Austria",
	"SE": "Sweden",
	"NO": "Norway",
	"DK": "Denmark",
	"FI": "Finland",
	"PL": "Poland",
	"CZ": "Czechia",
	"MX": "Mexico",
	"BR": "Brazil",
	"AR": "Argentina",
	"CL": "Chile",
	"CO": "Colombia",
	"ZA": "South Africa",
	"IN": "India",
	"SG": "Singapore",
	"JP": "Japan",
}

// CountryName resolves an ISO-2 code to the provider-facing country name.
func CountryName(code string) string {
	if name, ok := countryNames[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return name
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

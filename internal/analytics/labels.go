package analytics

import (
	"strings"
	"sync"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var countryQuery = sync.OnceValue(gountries.New)

// CountryName resolves an ISO alpha-2/alpha-3 code to its common English
// name. Unknown codes are returned upper-cased.
func CountryName(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || code == UnknownLocation {
		return UnknownLocation
	}
	country, err := countryQuery().FindCountryByAlpha(code)
	if err != nil {
		return cases.Upper(language.AmericanEnglish).String(code)
	}
	return country.Name.Common
}

// BrowserLabel tidies a client-reported browser name for display.
func BrowserLabel(browser *string) string {
	if isBlank(browser) {
		return UnknownBrowser
	}
	name := strings.TrimSpace(*browser)
	if strings.ToLower(name) == name {
		return cases.Title(language.AmericanEnglish).String(name)
	}
	return name
}

package ingest

import (
	"strings"
	"unicode"

	"github.com/sells-group/listing-enrich/internal/model"
)

// Header aliases in priority order, compared after lowercasing and dropping
// everything but letters and digits.
var (
	addressAliases      = []string{"address", "streetaddress", "propertyaddress", "fulladdress", "siteaddress", "street", "addr", "address1", "addressline1"}
	zipAliases          = []string{"zip", "zipcode", "postalcode", "postcode", "zip5", "postal"}
	cityAliases         = []string{"city", "town", "municipality", "propertycity"}
	countyAliases       = []string{"county", "countyname", "countyorparish", "parish"}
	listingIDAliases    = []string{"listingid", "mlsnumber", "mls", "mlsid", "mlsno", "listingnumber", "listingkey", "id"}
	neighborhoodAliases = []string{"neighborhood", "neighbourhood", "neighborhoodname", "area"}
	communityAliases    = []string{"community", "subdivision", "subdivisionname", "communityname", "development", "legalsubdivision"}
)

// DetectColumns maps headers to canonical fields. Exact alias matches win;
// address, zip and community then fall back to a contains match so headers
// like "Property Street Address" are found. A header is assigned at most once.
func DetectColumns(headers []string) model.DetectedColumns {
	norm := make([]string, len(headers))
	for i, h := range headers {
		norm[i] = normalizeHeader(h)
	}
	used := make(map[int]bool)

	find := func(aliases []string, fuzzy string) string {
		for _, a := range aliases {
			for i, n := range norm {
				if !used[i] && n != "" && n == a {
					used[i] = true
					return headers[i]
				}
			}
		}
		if fuzzy == "" {
			return ""
		}
		for i, n := range norm {
			if !used[i] && strings.Contains(n, fuzzy) && !strings.Contains(n, "email") {
				used[i] = true
				return headers[i]
			}
		}
		return ""
	}

	var c model.DetectedColumns
	c.Address = find(addressAliases, "address")
	c.Zip = find(zipAliases, "zip")
	c.City = find(cityAliases, "")
	c.County = find(countyAliases, "")
	c.ListingID = find(listingIDAliases, "")
	c.Neighborhood = find(neighborhoodAliases, "neighborhood")
	c.Community = find(communityAliases, "subdivision")
	return c
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

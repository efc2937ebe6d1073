package geocode

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-enrich/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress  string `json:"formatted_address"`
	AddressComponents []struct {
		LongName string   `json:"long_name"`
		Types    []string `json:"types"`
	} `json:"address_components"`
}

// Google geocodes via the Google Geocoding API. Optional third provider.
type Google struct {
	base
}

// NewGoogle creates a Google provider using the given API key.
func NewGoogle(apiKey string, opts ...Option) *Google {
	return &Google{base: newBase("google", apiKey, 25, opts)}
}

// Geocode implements Provider.
func (g *Google) Geocode(ctx context.Context, fullAddress string) (*Result, error) {
	params := url.Values{
		"address": {fullAddress},
		"key":     {g.key},
	}

	var resp googleGeocodeResponse
	if err := g.getJSON(ctx, googleGeocodeURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, noMatch(g.name, fullAddress)
	case "OVER_QUERY_LIMIT":
		return nil, resilience.NewRateLimitError(eris.New("geocode: google over query limit"), 0)
	case "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(eris.New("geocode: google unknown error"), http.StatusInternalServerError)
	default:
		return nil, resilience.Permanent(eris.Errorf("geocode: google status %s: %s", resp.Status, resp.ErrorMessage))
	}
	if len(resp.Results) == 0 {
		return nil, noMatch(g.name, fullAddress)
	}

	res := resp.Results[0]
	r := &Result{
		Source:           g.name,
		FormattedAddress: res.FormattedAddress,
		Latitude:         res.Geometry.Location.Lat,
		Longitude:        res.Geometry.Location.Lng,
		Quality:          googleLocationTypeToQuality(res.Geometry.LocationType),
	}
	for _, c := range res.AddressComponents {
		for _, typ := range c.Types {
			switch typ {
			case "street_number":
				r.HouseNumber = c.LongName
			case "neighborhood":
				r.Neighborhood = c.LongName
			}
		}
	}
	return r, nil
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}

package geocode

import (
	"context"
	"net/url"
	"strings"
)

const geocodioGeocodeURL = "https://api.geocod.io/v1.7/geocode"

type geocodioResponse struct {
	Results []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents struct {
			Number string `json:"number"`
		} `json:"address_components"`
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		Accuracy     float64 `json:"accuracy"`
		AccuracyType string  `json:"accuracy_type"`
	} `json:"results"`
}

// Geocodio geocodes via the Geocodio API. It is the secondary provider.
type Geocodio struct {
	base
}

// NewGeocodio creates a Geocodio provider using the given API key.
func NewGeocodio(apiKey string, opts ...Option) *Geocodio {
	return &Geocodio{base: newBase("geocodio", apiKey, 15, opts)}
}

// Geocode implements Provider.
func (g *Geocodio) Geocode(ctx context.Context, fullAddress string) (*Result, error) {
	params := url.Values{
		"q":       {fullAddress},
		"api_key": {g.key},
		"limit":   {"1"},
	}

	var resp geocodioResponse
	if err := g.getJSON(ctx, geocodioGeocodeURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, noMatch(g.name, fullAddress)
	}

	res := resp.Results[0]
	return &Result{
		Source:           g.name,
		FormattedAddress: res.FormattedAddress,
		Latitude:         res.Location.Lat,
		Longitude:        res.Location.Lng,
		HouseNumber:      res.AddressComponents.Number,
		Quality:          geocodioAccuracyToQuality(res.AccuracyType),
	}, nil
}

func geocodioAccuracyToQuality(accType string) string {
	switch strings.ToLower(accType) {
	case "rooftop", "point":
		return "rooftop"
	case "range_interpolation", "nearest_rooftop_match":
		return "range"
	case "street_center", "nearest_street", "intersection":
		return "centroid"
	default:
		return "approximate"
	}
}

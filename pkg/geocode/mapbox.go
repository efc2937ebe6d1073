package geocode

import (
	"context"
	"net/url"
	"strings"
)

const mapboxGeocodeURL = "https://api.mapbox.com/geocoding/v5/mapbox.places/"

type mapboxResponse struct {
	Features []mapboxFeature `json:"features"`
}

type mapboxFeature struct {
	PlaceName string    `json:"place_name"`
	Center    []float64 `json:"center"` // [lng, lat]
	Address   string    `json:"address"`
	Relevance float64   `json:"relevance"`
	Context   []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"context"`
	Properties struct {
		Accuracy string `json:"accuracy"`
	} `json:"properties"`
}

// Mapbox geocodes via the Mapbox Geocoding API. It is the primary provider.
type Mapbox struct {
	base
}

// NewMapbox creates a Mapbox provider using the given access token.
func NewMapbox(token string, opts ...Option) *Mapbox {
	return &Mapbox{base: newBase("mapbox", token, 10, opts)}
}

// Geocode implements Provider.
func (m *Mapbox) Geocode(ctx context.Context, fullAddress string) (*Result, error) {
	params := url.Values{
		"access_token": {m.key},
		"limit":        {"1"},
		"country":      {"us"},
		"types":        {"address"},
	}
	reqURL := mapboxGeocodeURL + url.PathEscape(fullAddress) + ".json?" + params.Encode()

	var resp mapboxResponse
	if err := m.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}
	if len(resp.Features) == 0 || len(resp.Features[0].Center) < 2 {
		return nil, noMatch(m.name, fullAddress)
	}

	f := resp.Features[0]
	r := &Result{
		Source:           m.name,
		FormattedAddress: f.PlaceName,
		Longitude:        f.Center[0],
		Latitude:         f.Center[1],
		HouseNumber:      f.Address,
		Quality:          mapboxAccuracyToQuality(f.Properties.Accuracy),
	}
	for _, c := range f.Context {
		if strings.HasPrefix(c.ID, "neighborhood.") {
			r.Neighborhood = c.Text
			break
		}
	}
	return r, nil
}

func mapboxAccuracyToQuality(acc string) string {
	switch acc {
	case "rooftop", "parcel", "point":
		return "rooftop"
	case "interpolated":
		return "range"
	case "street":
		return "centroid"
	default:
		return "approximate"
	}
}

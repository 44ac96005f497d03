package geocode

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"golden/hour/internal/apperr"
	"golden/hour/internal/geo"
)

// DefaultNominatimURL is the public OpenStreetMap endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim queries an OpenStreetMap Nominatim server.
type Nominatim struct {
	client *resty.Client
}

// NewNominatim returns a client for baseURL. Nominatim's usage policy
// requires an identifying userAgent.
func NewNominatim(baseURL, userAgent string, timeout time.Duration) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(250*time.Millisecond).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetQueryParam("format", "jsonv2")
	return &Nominatim{client: client}
}

type nominatimAddress struct {
	HouseNumber string `json:"house_number"`
	Road        string `json:"road"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	State       string `json:"state"`
	Postcode    string `json:"postcode"`
	Country     string `json:"country"`
}

type nominatimPlace struct {
	PlaceID     int64            `json:"place_id"`
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Category    string           `json:"category"`
	Type        string           `json:"type"`
	Address     nominatimAddress `json:"address"`
	Error       string           `json:"error"`
}

func (p nominatimPlace) point() (geo.Point, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("parse latitude %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("parse longitude %q: %w", p.Lon, err)
	}
	pt := geo.Point{Latitude: lat, Longitude: lon}
	return pt, pt.Validate()
}

func (p nominatimPlace) address() (Address, error) {
	pt, err := p.point()
	if err != nil {
		return Address{}, err
	}
	city := p.Address.City
	if city == "" {
		city = p.Address.Town
	}
	if city == "" {
		city = p.Address.Village
	}
	return Address{
		Formatted: p.DisplayName,
		Street:    strings.TrimSpace(p.Address.HouseNumber + " " + p.Address.Road),
		City:      city,
		State:     p.Address.State,
		Postcode:  p.Address.Postcode,
		Country:   p.Address.Country,
		Location:  pt,
	}, nil
}

func (n *Nominatim) ReverseGeocode(ctx context.Context, p geo.Point) (Address, error) {
	if err := p.Validate(); err != nil {
		return Address{}, err
	}
	var place nominatimPlace
	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":            strconv.FormatFloat(p.Latitude, 'f', 6, 64),
			"lon":            strconv.FormatFloat(p.Longitude, 'f', 6, 64),
			"addressdetails": "1",
		}).
		SetResult(&place).
		Get("/reverse")
	if err := checkResponse(resp, err); err != nil {
		return Address{}, err
	}
	if place.Error != "" {
		return Address{}, apperr.External("nominatim", fmt.Errorf("%s", place.Error))
	}
	addr, err := place.address()
	if err != nil {
		return Address{}, apperr.External("nominatim", err)
	}
	return addr, nil
}

func (n *Nominatim) ForwardGeocode(ctx context.Context, query string) (Address, error) {
	var places []nominatimPlace
	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":              query,
			"limit":          "1",
			"addressdetails": "1",
		}).
		SetResult(&places).
		Get("/search")
	if err := checkResponse(resp, err); err != nil {
		return Address{}, err
	}
	if len(places) == 0 {
		return Address{}, apperr.NotFound("address", query)
	}
	addr, err := places[0].address()
	if err != nil {
		return Address{}, apperr.External("nominatim", err)
	}
	return addr, nil
}

// FindNearby searches for category inside the bounding box of the radius
// and returns matches within radiusMeters, nearest first.
func (n *Nominatim) FindNearby(ctx context.Context, center geo.Point, radiusMeters float64, category string) ([]Place, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if category == "" {
		category = "hospital"
	}
	dLat := radiusMeters / geo.EarthRadiusMeters * 180 / math.Pi
	dLon := dLat / math.Max(math.Cos(center.Latitude*math.Pi/180), 0.01)
	viewbox := fmt.Sprintf("%f,%f,%f,%f",
		center.Longitude-dLon, center.Latitude+dLat, center.Longitude+dLon, center.Latitude-dLat)

	var found []nominatimPlace
	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":       category,
			"viewbox": viewbox,
			"bounded": "1",
			"limit":   "50",
		}).
		SetResult(&found).
		Get("/search")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	out := make([]Place, 0, len(found))
	for _, f := range found {
		pt, err := f.point()
		if err != nil {
			continue
		}
		d, err := geo.Distance(center, pt)
		if err != nil || d > radiusMeters {
			continue
		}
		name := f.Name
		if name == "" {
			name = f.DisplayName
		}
		out = append(out, Place{
			ID:             strconv.FormatInt(f.PlaceID, 10),
			Name:           name,
			Category:       f.Type,
			Address:        f.DisplayName,
			Location:       pt,
			DistanceMeters: d,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return apperr.External("nominatim", err)
	}
	if resp.IsError() {
		return apperr.External("nominatim", fmt.Errorf("unexpected status %d", resp.StatusCode()))
	}
	return nil
}

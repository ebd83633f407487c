package envdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tatianab/terranaut/internal/models"
)

// DefaultAppEEARSURL is the point-sample endpoint used when none is configured.
const DefaultAppEEARSURL = "https://appeears.earthdatacloud.nasa.gov/api"

var (
	// ErrNoCredentials means the provider cannot be queried without a token.
	ErrNoCredentials = errors.New("envdata: no provider credentials")
	// ErrFootprintTooSmall means the requested area is below the dataset's pixel size.
	ErrFootprintTooSmall = errors.New("envdata: footprint below native resolution")
)

// Dataset describes the remote product behind a metric.
type Dataset struct {
	Product string `json:"dataset"`
	Unit    string `json:"unit"`
}

var datasets = map[models.Metric]Dataset{
	models.MetricNDVI:         {Product: "MODIS/061/MOD13Q1", Unit: "NDVI"},
	models.MetricLST:          {Product: "MODIS/061/MOD11A2", Unit: "K"},
	models.MetricSoilMoisture: {Product: "NASA/SMAP/SPL3SMP_E/006", Unit: "m³/m³"},
}

// DatasetFor returns the product queried for m.
func DatasetFor(m models.Metric) (Dataset, bool) {
	d, ok := datasets[m]
	return d, ok
}

// Sample is one dated value returned by a provider.
type Sample struct {
	Date         time.Time
	Value        float64
	Interpolated bool
}

// Provider returns the samples of one metric over an area between two dates.
type Provider interface {
	Samples(ctx context.Context, m models.Metric, area Polygon, start, end time.Time) ([]Sample, error)
}

// AppEEARS queries a point-sample API with a bearer token.
type AppEEARS struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewAppEEARS(baseURL, token string) *AppEEARS {
	if baseURL == "" {
		baseURL = DefaultAppEEARSURL
	}
	return &AppEEARS{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type sampleRequest struct {
	Product   string  `json:"product"`
	Geometry  Polygon `json:"geometry"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
}

type sampleResponse struct {
	Values []struct {
		Date         string   `json:"date"`
		Value        *float64 `json:"value"`
		Interpolated bool     `json:"interpolated"`
	} `json:"values"`
	Error string `json:"error"`
}

func (a *AppEEARS) Samples(ctx context.Context, m models.Metric, area Polygon, start, end time.Time) ([]Sample, error) {
	if a.Token == "" {
		return nil, ErrNoCredentials
	}
	ds, ok := DatasetFor(m)
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", m)
	}
	body, err := json.Marshal(sampleRequest{
		Product:   ds.Product,
		Geometry:  area,
		StartDate: start.Format(models.DateLayout),
		EndDate:   end.Format(models.DateLayout),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/point", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.Token)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", ds.Product, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var out sampleResponse
	decodeErr := json.Unmarshal(raw, &out)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrNoCredentials, resp.StatusCode)
	case resp.StatusCode == http.StatusUnprocessableEntity && out.Error == "footprint_too_small":
		return nil, ErrFootprintTooSmall
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("query %s: status %d: %s", ds.Product, resp.StatusCode, strings.TrimSpace(string(raw)))
	case decodeErr != nil:
		return nil, fmt.Errorf("decode %s: %w", ds.Product, decodeErr)
	}

	samples := make([]Sample, 0, len(out.Values))
	for _, v := range out.Values {
		if v.Value == nil {
			continue
		}
		d, err := time.Parse(models.DateLayout, v.Date)
		if err != nil {
			return nil, fmt.Errorf("sample date %q: %w", v.Date, err)
		}
		samples = append(samples, Sample{Date: d, Value: *v.Value, Interpolated: v.Interpolated})
	}
	return samples, nil
}

// Package seed loads the reference vessel dataset that the simulator
// samples new vessels from.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/aisstream/internal/logger"
	"github.com/rewired-gh/aisstream/internal/models"
)

// flexFloat accepts a JSON number, a numeric string, or null. Anything
// unparseable becomes NaN.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = flexFloat(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		v = math.NaN()
	}
	*f = flexFloat(v)
	return nil
}

// flexID accepts an identifier written as a string or a bare number.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(strings.TrimSpace(s))
		return nil
	}
	*id = flexID(data)
	return nil
}

// Record is one row of the reference dataset. Unknown columns are ignored.
type Record struct {
	MMSI      flexID    `json:"MMSI"`
	Name      string    `json:"NAME"`
	Latitude  flexFloat `json:"LATITUDE"`
	Longitude flexFloat `json:"LONGITUDE"`
	SOG       flexFloat `json:"SOG"`
	COG       flexFloat `json:"COG"`
	Type      string    `json:"TYPE"`
}

// Vessel converts the row. A missing speed is read as stationary and a
// course of 360 or more (the AIS "not available" marker) as undefined.
func (r Record) Vessel() models.VesselState {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = "Vessel_" + string(r.MMSI)
	}
	sog := float64(r.SOG)
	if math.IsNaN(sog) {
		sog = 0
	}
	cog := float64(r.COG)
	if !models.ValidCourse(cog) {
		cog = math.NaN()
	}
	return models.VesselState{
		ID:               string(r.MMSI),
		Name:             name,
		Latitude:         float64(r.Latitude),
		Longitude:        float64(r.Longitude),
		SpeedOverGround:  sog,
		CourseOverGround: cog,
		VesselType:       models.ParseVesselType(r.Type),
	}
}

// Parse decodes a JSON array of records and returns the valid vessels along
// with the number of rows that were dropped.
func Parse(r io.Reader) ([]models.VesselState, int, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, 0, fmt.Errorf("failed to decode seed data: %w", err)
	}

	vessels := make([]models.VesselState, 0, len(records))
	skipped := 0
	for _, rec := range records {
		v := rec.Vessel()
		if err := v.Validate(); err != nil {
			logger.Debug("Skipping seed record %q: %v", v.ID, err)
			skipped++
			continue
		}
		vessels = append(vessels, v)
	}
	return vessels, skipped, nil
}

// LoadFile reads the dataset from a local path.
func LoadFile(path string) ([]models.VesselState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	vessels, skipped, err := Parse(f)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded %d seed vessels from %s (%d invalid records skipped)", len(vessels), path, skipped)
	return vessels, nil
}

// Fetcher downloads the dataset over HTTP with retries on transport and
// server errors.
type Fetcher struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

func NewFetcher(timeout time.Duration, maxRetries int, retryDelay time.Duration) *Fetcher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]models.VesselState, error) {
	resp, err := f.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching seed data: %d", resp.StatusCode)
	}

	vessels, skipped, err := Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	logger.Info("Fetched %d seed vessels from %s (%d invalid records skipped)", len(vessels), url, skipped)
	return vessels, nil
}

func (f *Fetcher) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < f.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * f.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Load reads location as a URL when it has an http or https scheme and as a
// file path otherwise.
func Load(ctx context.Context, location string, f *Fetcher) ([]models.VesselState, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		if f == nil {
			f = NewFetcher(30*time.Second, 3, time.Second)
		}
		return f.Fetch(ctx, location)
	}
	return LoadFile(location)
}

// Catalog samples seed vessels with replacement. Not safe for concurrent use.
type Catalog struct {
	vessels []models.VesselState
	rng     *rand.Rand
}

func NewCatalog(vessels []models.VesselState, rng *rand.Rand) *Catalog {
	return &Catalog{vessels: vessels, rng: rng}
}

func (c *Catalog) Len() int { return len(c.vessels) }

// Sample draws n vessels uniformly with replacement. An empty catalog yields nil.
func (c *Catalog) Sample(n int) []models.VesselState {
	if len(c.vessels) == 0 || n <= 0 {
		return nil
	}
	out := make([]models.VesselState, n)
	for i := range out {
		out[i] = c.vessels[c.rng.IntN(len(c.vessels))]
	}
	return out
}

package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Forecast is one day of an external weather forecast.
type Forecast struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

// ForecastProvider fetches the forecast for a city. external_condition rules
// are skipped when no provider is wired.
type ForecastProvider interface {
	Forecast(ctx context.Context, city string) ([]Forecast, error)
}

// HTTPForecastProvider queries the forecast API over HTTP.
type HTTPForecastProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPForecastProvider(baseURL, apiKey string) *HTTPForecastProvider {
	return &HTTPForecastProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type forecastResponse struct {
	Data []struct {
		Date     string `json:"date"`
		TextIcon struct {
			Text struct {
				Phrase string `json:"phrase"`
			} `json:"text"`
		} `json:"text_icon"`
	} `json:"data"`
}

func (p *HTTPForecastProvider) Forecast(ctx context.Context, city string) ([]Forecast, error) {
	url := fmt.Sprintf("%s/forecast/locale/%s/days/15?token=%s", p.BaseURL, city, p.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build forecast request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast api returned %d", resp.StatusCode)
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	out := make([]Forecast, 0, len(body.Data))
	for _, d := range body.Data {
		out = append(out, Forecast{Date: d.Date, Text: d.TextIcon.Text.Phrase})
	}
	return out, nil
}

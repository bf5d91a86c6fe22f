package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/veris-ai/veris/internal/httpkit"
)

// RegisterBuiltins adds the stock local tools: clock and calculate.
func RegisterBuiltins(r *Registry) {
	r.Register(clockTool())
	r.Register(calculateTool())
}

// RegisterWeather adds the weather tool. weatherBaseURL and
// geocodeBaseURL point at an Open-Meteo compatible API; empty strings
// use the public endpoints.
func RegisterWeather(r *Registry, weatherBaseURL, geocodeBaseURL string) {
	r.Register(weatherTool(weatherBaseURL, geocodeBaseURL))
}

func clockTool() *Tool {
	return &Tool{
		Name:        "clock",
		Description: "Get the current date and time. Optionally in a specific IANA timezone.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name (e.g., Europe/Oslo, America/Chicago). Defaults to the server's local zone.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			now := time.Now()
			if tz, _ := args["timezone"].(string); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", tz)
				}
				now = now.In(loc)
			}
			return now.Format("Monday, January 2, 2006 at 3:04 PM MST"), nil
		},
	}
}

func calculateTool() *Tool {
	return &Tool{
		Name:        "calculate",
		Description: "Evaluate an arithmetic expression. Supports + - * / % ^ and parentheses.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "The expression to evaluate, e.g. '(17 * 43) + 2'",
				},
			},
			"required": []string{"expression"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			expr, _ := args["expression"].(string)
			if expr == "" {
				return "", fmt.Errorf("expression is required")
			}
			val, err := evalExpr(expr)
			if err != nil {
				return "", fmt.Errorf("evaluate %q: %w", expr, err)
			}
			// Trim trailing zeros for integer-valued results.
			if val == float64(int64(val)) {
				return fmt.Sprintf("%d", int64(val)), nil
			}
			return fmt.Sprintf("%g", val), nil
		},
	}
}

// Open-Meteo wire types.

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
	CurrentUnits struct {
		Temperature string `json:"temperature_2m"`
		WindSpeed   string `json:"wind_speed_10m"`
	} `json:"current_units"`
}

func weatherTool(weatherBaseURL, geocodeBaseURL string) *Tool {
	if weatherBaseURL == "" {
		weatherBaseURL = "https://api.open-meteo.com"
	}
	if geocodeBaseURL == "" {
		geocodeBaseURL = "https://geocoding-api.open-meteo.com"
	}
	client := httpkit.NewClient(
		httpkit.WithTimeout(15*time.Second),
		httpkit.WithRetry(2, time.Second),
	)

	return &Tool{
		Name:        "get_weather",
		Description: "Get current weather conditions for a city.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name, e.g. 'Oslo' or 'Austin'",
				},
			},
			"required": []string{"city"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			city, _ := args["city"].(string)
			if city == "" {
				return "", fmt.Errorf("city is required")
			}

			var geo geocodeResponse
			geoURL := fmt.Sprintf("%s/v1/search?name=%s&count=1", geocodeBaseURL, url.QueryEscape(city))
			if err := getJSON(ctx, client, geoURL, &geo); err != nil {
				return "", fmt.Errorf("geocode: %w", err)
			}
			if len(geo.Results) == 0 {
				return fmt.Sprintf("No location found for %q", city), nil
			}
			loc := geo.Results[0]

			var fc forecastResponse
			fcURL := fmt.Sprintf("%s/v1/forecast?latitude=%.4f&longitude=%.4f&current=temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code",
				weatherBaseURL, loc.Latitude, loc.Longitude)
			if err := getJSON(ctx, client, fcURL, &fc); err != nil {
				return "", fmt.Errorf("forecast: %w", err)
			}

			return fmt.Sprintf("%s, %s: %s, %.1f%s, humidity %.0f%%, wind %.1f%s",
				loc.Name, loc.Country,
				weatherCodeText(fc.Current.WeatherCode),
				fc.Current.Temperature, fc.CurrentUnits.Temperature,
				fc.Current.Humidity,
				fc.Current.WindSpeed, fc.CurrentUnits.WindSpeed), nil
		},
	}
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// weatherCodeText maps WMO weather codes to short descriptions.
func weatherCodeText(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return fmt.Sprintf("weather code %d", code)
	}
}

// Package weather serves the /weather and /rain commands from the
// Open-Meteo forecast API, formatted to fit LoRa frames.
package weather

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tinyland-inc/meshclaw/pkg/config"
)

const apiBase = "https://api.open-meteo.com"

// weatherCodes maps WMO codes to short descriptions.
var weatherCodes = map[int]string{
	0: "clear", 1: "mostly clear", 2: "partly cloudy", 3: "overcast",
	45: "fog", 48: "rime fog",
	51: "light drizzle", 53: "drizzle", 55: "heavy drizzle",
	61: "light rain", 63: "rain", 65: "heavy rain",
	66: "freezing rain", 67: "heavy freezing rain",
	71: "light snow", 73: "snow", 75: "heavy snow", 77: "snow grains",
	80: "light showers", 81: "showers", 82: "violent showers",
	85: "snow showers", 86: "heavy snow showers",
	95: "thunderstorm", 96: "thunderstorm w/ hail", 99: "heavy thunderstorm",
}

type currentResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

type rainResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Precipitation []float64 `json:"precipitation_probability"`
	} `json:"hourly"`
}

type Client struct {
	http  *resty.Client
	lat   float64
	lon   float64
	place string
}

func NewClient(cfg config.WeatherConfig) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(apiBase).
			SetTimeout(10 * time.Second),
		lat:   cfg.Latitude,
		lon:   cfg.Longitude,
		place: cfg.Place,
	}
}

// Current returns a one-line weather summary for the configured location.
func (c *Client) Current(ctx context.Context) (string, error) {
	var out currentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":  formatCoord(c.lat),
			"longitude": formatCoord(c.lon),
			"current":   "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code",
		}).
		SetResult(&out).
		Get("/v1/forecast")
	if err != nil {
		return "", fmt.Errorf("weather request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("weather request: %s", resp.Status())
	}

	desc := weatherCodes[out.Current.WeatherCode]
	if desc == "" {
		desc = "unknown"
	}
	place := c.place
	if place == "" {
		place = "here"
	}
	return fmt.Sprintf("%s: %s, %.1fC, %.0f%% hum, wind %.0fkm/h",
		place, desc, out.Current.Temperature, out.Current.Humidity, out.Current.WindSpeed), nil
}

// RainForecast returns rain probability for the next hours as a compact
// line, one entry per 3h step.
func (c *Client) RainForecast(ctx context.Context) (string, error) {
	var out rainResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":      formatCoord(c.lat),
			"longitude":     formatCoord(c.lon),
			"hourly":        "precipitation_probability",
			"forecast_days": "1",
		}).
		SetResult(&out).
		Get("/v1/forecast")
	if err != nil {
		return "", fmt.Errorf("rain request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("rain request: %s", resp.Status())
	}

	hour := time.Now().Hour()
	var parts []string
	for i := hour; i < len(out.Hourly.Time) && i < len(out.Hourly.Precipitation) && len(parts) < 6; i += 3 {
		t, err := time.Parse("2006-01-02T15:04", out.Hourly.Time[i])
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%02dh %.0f%%", t.Hour(), out.Hourly.Precipitation[i]))
	}
	if len(parts) == 0 {
		return "No rain data available", nil
	}
	return "Rain: " + strings.Join(parts, " | "), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

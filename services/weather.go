package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	appContext "github.com/alphabatem/common/context"
	"github.com/summit-chronicles/summit_api/shared"
	log "github.com/sirupsen/logrus"
)

// WeatherService fetches summit forecasts for expedition pages. Every lookup
// goes through the monitored call wrapper, so the weather upstream shows up
// on the ops dashboard like any other third-party surface.
type WeatherService struct {
	appContext.DefaultService

	apiURL     string
	monitorSvc *APIMonitorService
}

type Forecast struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"wind_speed"`
	Summary     string  `json:"summary"`
}

const WEATHER_SVC = "weather_svc"

func (svc WeatherService) Id() string {
	return WEATHER_SVC
}

func (svc *WeatherService) Configure(ctx *appContext.Context) error {
	svc.apiURL = os.Getenv("WEATHER_API_URL")
	if svc.apiURL == "" {
		svc.apiURL = "https://api.open-meteo.com/v1/forecast"
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *WeatherService) Start() error {
	svc.monitorSvc = svc.Service(API_MONITOR_SVC).(*APIMonitorService)
	return nil
}

func (svc *WeatherService) GetForecast(ctx context.Context, location string, latitude, longitude float64) (*Forecast, error) {
	requestURL := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current=temperature_2m,wind_speed_10m,weather_code",
		svc.apiURL, latitude, longitude)

	resp, err := svc.monitorSvc.MonitoredCall(ctx, shared.SurfaceWeather, requestURL, nil)
	if err != nil {
		log.WithError(err).WithField("location", location).Error("Weather lookup failed")
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, shared.NewAppError(http.StatusBadGateway,
			fmt.Sprintf("Weather upstream returned status %d", resp.StatusCode), nil)
	}

	var payload struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			WindSpeed   float64 `json:"wind_speed_10m"`
			WeatherCode int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode weather response: %w", err)
	}

	return &Forecast{
		Location:    location,
		Temperature: payload.Current.Temperature,
		WindSpeed:   payload.Current.WindSpeed,
		Summary:     weatherSummary(payload.Current.WeatherCode),
	}, nil
}

// weatherSummary maps WMO weather codes to the handful of conditions that
// matter on a mountain.
func weatherSummary(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "showers"
	default:
		return "storm"
	}
}

// knownPeaks resolves the locations expedition pages link to.
var knownPeaks = map[string][2]float64{
	"everest":     {27.9881, 86.9250},
	"denali":      {63.0692, -151.0070},
	"aconcagua":   {-32.6532, -70.0109},
	"kilimanjaro": {-3.0674, 37.3556},
	"elbrus":      {43.3499, 42.4453},
	"vinson":      {-78.5254, -85.6171},
}

func ResolvePeak(location string) ([2]float64, bool) {
	coords, ok := knownPeaks[strings.ToLower(location)]
	return coords, ok
}

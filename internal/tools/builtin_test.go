package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClockTool(t *testing.T) {
	r := NewRegistry()
	r.Register(clockTool())

	got, err := r.Execute(context.Background(), "clock", `{"timezone":"UTC"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "UTC") {
		t.Errorf("expected UTC timestamp, got %q", got)
	}

	if _, err := r.Execute(context.Background(), "clock", `{"timezone":"Not/AZone"}`); err == nil {
		t.Error("expected error for bad timezone")
	}
}

func TestWeatherTool(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("name"); got != "Oslo" {
			t.Errorf("geocode query = %q", got)
		}
		fmt.Fprint(w, `{"results":[{"name":"Oslo","latitude":59.91,"longitude":10.75,"country":"Norway"}]}`)
	}))
	defer geo.Close()

	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"current":{"temperature_2m":4.5,"wind_speed_10m":12.0,"relative_humidity_2m":80,"weather_code":61},"current_units":{"temperature_2m":"°C","wind_speed_10m":"km/h"}}`)
	}))
	defer forecast.Close()

	r := NewRegistry()
	r.Register(weatherTool(forecast.URL, geo.URL))

	got, err := r.Execute(context.Background(), "get_weather", `{"city":"Oslo"}`)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Oslo", "Norway", "rain", "4.5"} {
		if !strings.Contains(got, want) {
			t.Errorf("result missing %q: %q", want, got)
		}
	}
}

func TestWeatherToolNoResults(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer geo.Close()

	r := NewRegistry()
	r.Register(weatherTool("http://unused.invalid", geo.URL))

	got, err := r.Execute(context.Background(), "get_weather", `{"city":"Nowheresville"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "No location found") {
		t.Errorf("got %q", got)
	}
}

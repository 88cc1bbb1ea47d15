// Package weekend provides the builtin leisure tools: geocoding, current
// weather, book recommendations, random dog pictures and trivia. Every
// tool reaches its upstream API through the retrying fetcher.
package weekend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/config"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/httpkit"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

// Service calls the upstream APIs behind the weekend tools.
type Service struct {
	fetcher *httpkit.Fetcher
	cfg     config.WeekendConfig
	logger  *slog.Logger
}

// New creates a weekend tool service.
func New(fetcher *httpkit.Fetcher, cfg config.WeekendConfig, logger *slog.Logger) *Service {
	if fetcher == nil {
		fetcher = httpkit.NewFetcher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Tools returns the tool definitions backed by this service.
func (s *Service) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "city_to_coords",
			Description: "Convert a city name to latitude and longitude (Open-Meteo geocoding).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{
						"type":        "string",
						"description": "City name, e.g. \"Paris\" or \"San Francisco\".",
					},
				},
				"required": []string{"city"},
			},
			Handler: tools.Typed(s.handleCityToCoords),
		},
		{
			Name:        "get_weather",
			Description: "Current weather at the given coordinates (Open-Meteo).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"latitude": map[string]any{
						"type": "number", "minimum": -90, "maximum": 90,
					},
					"longitude": map[string]any{
						"type": "number", "minimum": -180, "maximum": 180,
					},
				},
				"required": []string{"latitude", "longitude"},
			},
			Handler: tools.Typed(s.handleWeather),
		},
		{
			Name:        "book_recs",
			Description: "Book recommendations for a topic (Google Books).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic": map[string]any{
						"type":        "string",
						"description": "Subject, genre or keywords to search for.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"minimum":     1,
						"maximum":     40,
						"description": fmt.Sprintf("Number of books to return. Default: %d.", s.cfg.BookRecsLimit),
					},
				},
				"required": []string{"topic"},
			},
			Handler: tools.Typed(s.handleBookRecs),
		},
		{
			Name:        "random_dog",
			Description: "Return a random dog image.",
			Handler:     func(ctx context.Context, _ map[string]any) (any, error) { return s.RandomDog(ctx) },
		},
		{
			Name:        "trivia",
			Description: "Return one multiple-choice trivia question.",
			Handler:     func(ctx context.Context, _ map[string]any) (any, error) { return s.Trivia(ctx) },
		},
	}
}

// Register adds every weekend tool to the registry.
func (s *Service) Register(r *tools.Registry) error {
	for _, t := range s.Tools() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type cityArgs struct {
	City string `json:"city"`
}

type weatherArgs struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type bookArgs struct {
	Topic string `json:"topic"`
	Limit int    `json:"limit"`
}

func (s *Service) handleCityToCoords(ctx context.Context, a cityArgs) (any, error) {
	return s.CityToCoords(ctx, a.City)
}

func (s *Service) handleWeather(ctx context.Context, a weatherArgs) (any, error) {
	return s.Weather(ctx, a.Latitude, a.Longitude)
}

func (s *Service) handleBookRecs(ctx context.Context, a bookArgs) (any, error) {
	return s.BookRecs(ctx, a.Topic, a.Limit)
}

package weekend

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/config"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/httpkit"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestService(t *testing.T, mux *http.ServeMux) *Service {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default().Tools.Weekend
	cfg.GeocodingURL = srv.URL + "/geocode"
	cfg.WeatherURL = srv.URL + "/forecast"
	cfg.BooksURL = srv.URL + "/volumes"
	cfg.DogURL = srv.URL + "/dog"
	cfg.TriviaURL = srv.URL + "/trivia"

	f := httpkit.NewFetcher(
		httpkit.WithBaseDelay(time.Millisecond),
		httpkit.WithDefaults(2*time.Second, 3),
	)
	return New(f, cfg, nil)
}

func TestCityToCoords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("count") != "1" {
			t.Errorf("count = %q, want 1", r.URL.Query().Get("count"))
		}
		if r.URL.Query().Get("name") == "Atlantis" {
			w.Write([]byte(`{"generationtime_ms":0.5}`))
			return
		}
		w.Write([]byte(`{"results":[{"name":"Paris","country":"France","latitude":48.85341,"longitude":2.3488}]}`))
	})
	s := newTestService(t, mux)

	got, err := s.CityToCoords(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("CityToCoords() error = %v", err)
	}
	want := Coordinates{City: "Paris", Country: "France", Latitude: 48.85341, Longitude: 2.3488}
	if *got != want {
		t.Errorf("CityToCoords() = %+v, want %+v", *got, want)
	}

	if _, err := s.CityToCoords(context.Background(), "Atlantis"); err == nil ||
		!strings.Contains(err.Error(), "no coordinates found for Atlantis") {
		t.Errorf("expected no-result error, got %v", err)
	}
}

func TestWeather(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("latitude") != "40.71" || q.Get("longitude") != "-74.01" {
			t.Errorf("coords = %s,%s", q.Get("latitude"), q.Get("longitude"))
		}
		if q.Get("current") != "temperature_2m,weather_code,wind_speed_10m" {
			t.Errorf("current = %q", q.Get("current"))
		}
		if q.Get("timezone") != "auto" {
			t.Errorf("timezone = %q", q.Get("timezone"))
		}
		w.Write([]byte(`{
			"current_units": {"temperature_2m": "°C"},
			"current": {"time": "2026-10-17T10:00", "temperature_2m": 18.4, "weather_code": 3, "wind_speed_10m": 11.2}
		}`))
	})
	s := newTestService(t, mux)

	got, err := s.Weather(context.Background(), 40.71, -74.01)
	if err != nil {
		t.Fatalf("Weather() error = %v", err)
	}
	if got["temperature_2m"] != 18.4 {
		t.Errorf("temperature_2m = %v", got["temperature_2m"])
	}
	units, _ := got["units"].(map[string]string)
	if units["temperature_2m"] != "°C" {
		t.Errorf("units = %v", got["units"])
	}
}

func TestBookRecs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/volumes", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "nothing":
			w.Write([]byte(`{"kind":"books#volumes","totalItems":0}`))
		case "broken":
			w.Write([]byte(`{"error":{"code":403,"message":"quota exceeded"}}`))
		default:
			if r.URL.Query().Get("maxResults") != "2" {
				t.Errorf("maxResults = %q, want 2", r.URL.Query().Get("maxResults"))
			}
			w.Write([]byte(`{"items":[
				{"volumeInfo":{"title":"Dune","authors":["Frank Herbert"],"publishedDate":"1965-08-01",
					"description":"<p>A <b>desert</b> planet &amp; spice.</p>","previewLink":"http://books/dune"}},
				{"volumeInfo":{}},
				{"volumeInfo":{"title":"Extra"}}
			]}`))
		}
	})
	s := newTestService(t, mux)
	ctx := context.Background()

	got, err := s.BookRecs(ctx, "sci-fi", 2)
	if err != nil {
		t.Fatalf("BookRecs() error = %v", err)
	}
	if got.Count != 2 || len(got.Results) != 2 {
		t.Fatalf("Count = %d, results = %d, want 2", got.Count, len(got.Results))
	}
	dune := got.Results[0]
	if dune.PublishedYear != "1965" {
		t.Errorf("PublishedYear = %q", dune.PublishedYear)
	}
	if dune.Description != "A desert planet & spice." {
		t.Errorf("Description = %q", dune.Description)
	}
	empty := got.Results[1]
	if empty.Title != "Unknown Title" || empty.Authors[0] != "Unknown" || empty.Description != "No description available" {
		t.Errorf("defaults not applied: %+v", empty)
	}

	none, err := s.BookRecs(ctx, "nothing", 0)
	if err != nil {
		t.Fatalf("BookRecs(nothing) error = %v", err)
	}
	if none.Count != 0 || none.Results == nil || !strings.Contains(none.Message, "No books found") {
		t.Errorf("empty result = %+v", none)
	}

	if _, err := s.BookRecs(ctx, "broken", 0); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestRandomDog(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/dog", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"` + srvURL + `/img/husky.png","status":"success"}`))
	})
	mux.HandleFunc("/img/husky.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pngHeader)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	cfg := config.Default().Tools.Weekend
	cfg.DogURL = srv.URL + "/dog"
	s := New(httpkit.NewFetcher(httpkit.WithBaseDelay(time.Millisecond)), cfg, nil)

	got, err := s.RandomDog(context.Background())
	if err != nil {
		t.Fatalf("RandomDog() error = %v", err)
	}
	if got.ImageURL != srv.URL+"/img/husky.png" {
		t.Errorf("ImageURL = %q", got.ImageURL)
	}
	if got.MimeType != "image/png" {
		t.Errorf("MimeType = %q, want sniffed image/png", got.MimeType)
	}
	if got.ImageBase64 != base64.StdEncoding.EncodeToString(pngHeader) {
		t.Errorf("ImageBase64 = %q", got.ImageBase64)
	}
}

func TestRandomDog_ImageDownloadFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dog", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"http://` + r.Host + `/gone.jpg","status":"success"}`))
	})
	s := newTestService(t, mux)

	got, err := s.RandomDog(context.Background())
	if err != nil {
		t.Fatalf("RandomDog() error = %v", err)
	}
	if got.ImageBase64 != "" || got.ImageURL == "" {
		t.Errorf("want URL only, got %+v", got)
	}
}

func TestTrivia(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/trivia", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "multiple" || r.URL.Query().Get("amount") != "1" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"response_code":0,"results":[{
			"category":"Entertainment: Books","type":"multiple","difficulty":"easy",
			"question":"Who wrote &quot;The Hobbit&quot;?",
			"correct_answer":"J. R. R. Tolkien",
			"incorrect_answers":["C. S. Lewis","Terry Pratchett","Ursula K. Le Guin&#039;s ghost"]}]}`))
	})
	s := newTestService(t, mux)

	got, err := s.Trivia(context.Background())
	if err != nil {
		t.Fatalf("Trivia() error = %v", err)
	}
	if got.Question != `Who wrote "The Hobbit"?` {
		t.Errorf("Question = %q", got.Question)
	}
	if got.IncorrectAnswers[2] != "Ursula K. Le Guin's ghost" {
		t.Errorf("IncorrectAnswers = %v", got.IncorrectAnswers)
	}
}

func TestTrivia_NoResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/trivia", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response_code":1,"results":[]}`))
	})
	s := newTestService(t, mux)
	if _, err := s.Trivia(context.Background()); err == nil {
		t.Fatal("expected error for empty trivia response")
	}
}

func TestRegisteredTools_RetryAndReportErrors(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/trivia", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	s := newTestService(t, mux)

	reg := tools.NewRegistry(nil)
	if err := s.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	want := []string{"book_recs", "city_to_coords", "get_weather", "random_dog", "trivia"}
	names := reg.Names()
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", names, want)
	}

	res := reg.Invoke(context.Background(), "trivia", nil)
	if res.OK() {
		t.Fatal("expected error result after exhausted retries")
	}
	if hits.Load() != 3 {
		t.Errorf("upstream hit %d times, want 3", hits.Load())
	}
	if !strings.Contains(res.RawText, `"status":"error"`) {
		t.Errorf("RawText = %q", res.RawText)
	}

	bad := reg.Invoke(context.Background(), "get_weather", map[string]any{"latitude": 123.0, "longitude": 0.0})
	if bad.OK() {
		t.Error("latitude out of range should fail schema validation")
	}
}

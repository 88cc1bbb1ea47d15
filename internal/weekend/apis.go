package weekend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Coordinates is the first geocoding match for a city.
type Coordinates struct {
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

// CityToCoords resolves a city name through the geocoding API.
func (s *Service) CityToCoords(ctx context.Context, city string) (*Coordinates, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, errors.New("city is required")
	}
	params := url.Values{
		"name":  {city},
		"count": {strconv.Itoa(max(s.cfg.GeocodingCount, 1))},
	}

	var gr geocodingResponse
	if err := s.fetcher.GetJSON(ctx, s.cfg.GeocodingURL, params, &gr); err != nil {
		return nil, fmt.Errorf("geocoding: %w", err)
	}
	if len(gr.Results) == 0 {
		return nil, fmt.Errorf("no coordinates found for %s", city)
	}
	c := gr.Results[0]
	return &Coordinates{
		City:      c.Name,
		Country:   c.Country,
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
	}, nil
}

// Weather returns the "current" block of the forecast API for the
// coordinates. Field names follow the configured current variables.
func (s *Service) Weather(ctx context.Context, lat, lon float64) (map[string]any, error) {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"current":   {s.cfg.WeatherCurrent},
		"timezone":  {s.cfg.WeatherTimezone},
	}

	var wr struct {
		Current      map[string]any    `json:"current"`
		CurrentUnits map[string]string `json:"current_units"`
	}
	if err := s.fetcher.GetJSON(ctx, s.cfg.WeatherURL, params, &wr); err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}
	current := wr.Current
	if current == nil {
		current = map[string]any{}
	}
	if len(wr.CurrentUnits) > 0 {
		current["units"] = wr.CurrentUnits
	}
	return current, nil
}

// Book is one recommendation.
type Book struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	PublishedYear string   `json:"published_year"`
	Description   string   `json:"description"`
	PreviewLink   string   `json:"preview_link"`
}

// BookResults is the book_recs payload.
type BookResults struct {
	Topic   string `json:"topic"`
	Results []Book `json:"results"`
	Count   int    `json:"count"`
	Message string `json:"message,omitempty"`
}

type volumesResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Items []struct {
		VolumeInfo struct {
			Title         string   `json:"title"`
			Authors       []string `json:"authors"`
			PublishedDate string   `json:"publishedDate"`
			Description   string   `json:"description"`
			PreviewLink   string   `json:"previewLink"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// maxDescriptionRunes keeps long blurbs from flooding the transcript.
const maxDescriptionRunes = 400

// BookRecs searches for books on a topic. A limit of zero uses the
// configured default.
func (s *Service) BookRecs(ctx context.Context, topic string, limit int) (*BookResults, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if limit <= 0 {
		limit = max(s.cfg.BookRecsLimit, 1)
	}
	params := url.Values{
		"q":          {topic},
		"maxResults": {strconv.Itoa(limit)},
	}

	var vr volumesResponse
	if err := s.fetcher.GetJSON(ctx, s.cfg.BooksURL, params, &vr); err != nil {
		return nil, fmt.Errorf("book search: %w", err)
	}
	if vr.Error != nil {
		return nil, fmt.Errorf("google books API error %d: %s", vr.Error.Code, vr.Error.Message)
	}

	out := &BookResults{Topic: topic, Results: []Book{}}
	for _, item := range vr.Items {
		if len(out.Results) == limit {
			break
		}
		info := item.VolumeInfo
		b := Book{
			Title:         orDefault(info.Title, "Unknown Title"),
			Authors:       info.Authors,
			PublishedYear: orDefault(publishedYear(info.PublishedDate), "Unknown"),
			Description:   orDefault(truncateRunes(plainText(info.Description), maxDescriptionRunes), "No description available"),
			PreviewLink:   info.PreviewLink,
		}
		if len(b.Authors) == 0 {
			b.Authors = []string{"Unknown"}
		}
		out.Results = append(out.Results, b)
	}
	out.Count = len(out.Results)
	if out.Count == 0 {
		out.Message = fmt.Sprintf("No books found for topic '%s'. Try a different search term.", topic)
	}
	return out, nil
}

// DogImage is the random_dog payload. ImageBase64 is empty when the
// picture itself could not be downloaded.
type DogImage struct {
	ImageURL    string `json:"image_url"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// RandomDog picks a random dog picture and downloads it so it can be
// shown inline.
func (s *Service) RandomDog(ctx context.Context) (*DogImage, error) {
	var dr struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if err := s.fetcher.GetJSON(ctx, s.cfg.DogURL, nil, &dr); err != nil {
		return nil, fmt.Errorf("dog api: %w", err)
	}
	if dr.Status != "success" || dr.Message == "" {
		return nil, fmt.Errorf("dog api returned status %q", dr.Status)
	}

	img := &DogImage{ImageURL: dr.Message}
	resp, err := s.fetcher.Get(ctx, dr.Message, nil)
	if err != nil {
		s.logger.Warn("dog image download failed", "url", dr.Message, "error", err)
		return img, nil
	}
	img.MimeType = imageMimeType(resp.ContentType(), resp.Body)
	img.ImageBase64 = base64.StdEncoding.EncodeToString(resp.Body)
	return img, nil
}

// imageMimeType prefers the declared content type and sniffs the body
// when the server sent something generic.
func imageMimeType(header string, body []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	if sniffed := http.DetectContentType(body); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return "image/jpeg"
}

// TriviaQuestion is the trivia payload with entities decoded.
type TriviaQuestion struct {
	Category         string   `json:"category"`
	Difficulty       string   `json:"difficulty"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// Trivia fetches one question from the trivia API.
func (s *Service) Trivia(ctx context.Context) (*TriviaQuestion, error) {
	params := url.Values{
		"amount": {strconv.Itoa(max(s.cfg.TriviaAmount, 1))},
	}
	if s.cfg.TriviaType != "" {
		params.Set("type", s.cfg.TriviaType)
	}

	var tr struct {
		ResponseCode int `json:"response_code"`
		Results      []struct {
			Category         string   `json:"category"`
			Difficulty       string   `json:"difficulty"`
			Question         string   `json:"question"`
			CorrectAnswer    string   `json:"correct_answer"`
			IncorrectAnswers []string `json:"incorrect_answers"`
		} `json:"results"`
	}
	if err := s.fetcher.GetJSON(ctx, s.cfg.TriviaURL, params, &tr); err != nil {
		return nil, fmt.Errorf("trivia: %w", err)
	}
	if tr.ResponseCode != 0 || len(tr.Results) == 0 {
		return nil, fmt.Errorf("no trivia found (response code %d)", tr.ResponseCode)
	}

	q := tr.Results[0]
	out := &TriviaQuestion{
		Category:         unescape(q.Category),
		Difficulty:       q.Difficulty,
		Question:         unescape(q.Question),
		CorrectAnswer:    unescape(q.CorrectAnswer),
		IncorrectAnswers: make([]string, len(q.IncorrectAnswers)),
	}
	for i, a := range q.IncorrectAnswers {
		out.IncorrectAnswers[i] = unescape(a)
	}
	return out, nil
}

func publishedYear(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return date
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

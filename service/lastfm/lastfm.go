package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const defaultAPIBaseURL = "https://ws.audioscrobbler.com/2.0/"

// Service is the Last.fm API client: weekly chart fetches for the schedule
// sweep and artist image resolution for the montage builder.
type Service struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger

	apiBaseURL string
	apiKey     string
	userAgent  string
	maxRetries int

	cacheDir         string
	musicBrainzFirst bool
	mbBaseURL        string
	coverArtBaseURL  string
	pageBaseURL      string
}

// NewService creates a Last.fm client. cacheDir is where resolved artist
// images are stored between weekly runs.
func NewService(apiKey, userAgent, cacheDir string, maxRetries int, musicBrainzFirst bool) *Service {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Service{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		// Last.fm unofficial rate limit is ~5 requests per second
		limiter:          rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		logger:           log.New(os.Stdout, "lastfm: ", log.LstdFlags|log.Lmsgprefix),
		apiBaseURL:       defaultAPIBaseURL,
		apiKey:           apiKey,
		userAgent:        userAgent,
		maxRetries:       maxRetries,
		cacheDir:         cacheDir,
		musicBrainzFirst: musicBrainzFirst,
		mbBaseURL:        "https://musicbrainz.org/ws/2",
		coverArtBaseURL:  "https://coverartarchive.org",
		pageBaseURL:      "https://www.last.fm",
	}
}

// ValidateUser checks that a Last.fm account exists before settings are saved.
func (s *Service) ValidateUser(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, nil
	}

	body, err := s.call(ctx, "user.getinfo", url.Values{"user": []string{username}})
	if err != nil {
		return false, err
	}

	var info UserInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return false, fmt.Errorf("failed to decode user.getinfo for %s: %w", username, err)
	}
	return info.User != nil && info.User.Name != "", nil
}

// GetWeeklyArtistChart fetches the user's weekly chart, capped to limit
// entries in provider order. An empty chart returns an empty slice, not an
// error.
func (s *Service) GetWeeklyArtistChart(ctx context.Context, username string, limit int) ([]Artist, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	body, err := s.call(ctx, "user.getweeklyartistchart", url.Values{"user": []string{username}})
	if err != nil {
		return nil, err
	}

	var chart WeeklyArtistChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("failed to decode weekly chart for %s: %w", username, err)
	}

	out := make([]Artist, 0, limit)
	for _, a := range chart.WeeklyArtistChart.Artists {
		if a.Name == "" {
			continue
		}
		playcount, _ := strconv.Atoi(a.Playcount)

		artist := Artist{Name: a.Name, Playcount: playcount}
		if a.MBID != "" {
			mbid := a.MBID
			artist.MBID = &mbid
		}
		if u := pickLargestImageURL(a.Image); u != "" {
			artist.ImageURL = &u
		}

		out = append(out, artist)
		if len(out) >= limit {
			break
		}
	}

	s.logger.Printf("Fetched weekly chart for %s: %d artists", username, len(out))
	return out, nil
}

// pickLargestImageURL returns the last non-empty image URL; Last.fm orders
// sizes small to extralarge.
func pickLargestImageURL(images []ChartImage) string {
	best := ""
	for _, img := range images {
		if img.Text != "" {
			best = img.Text
		}
	}
	return best
}

// call performs one Last.fm API method with bounded exponential backoff.
func (s *Service) call(ctx context.Context, method string, params url.Values) ([]byte, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("lastfm api key is not configured")
	}

	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("method", method)
	query.Set("api_key", s.apiKey)
	query.Set("format", "json")

	apiURL := s.apiBaseURL + "?" + query.Encode()

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		body, err := s.callOnce(ctx, apiURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		s.logger.Printf("Last.fm request failed (method=%s attempt=%d/%d): %v", method, attempt, s.maxRetries, err)

		if attempt < s.maxRetries {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("last.fm request failed after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *Service) callOnce(ctx context.Context, apiURL string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Last.fm reports API errors as {"error": N, "message": "..."} bodies.
	var apiErr struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != 0 {
		return nil, fmt.Errorf("last.fm API error %d: %s", apiErr.Error, apiErr.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("last.fm API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

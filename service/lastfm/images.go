package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	ogImageExpr    = regexp.MustCompile(`(?i)<meta\s+property=["']og:image["']\s+content=["']([^"']+)["']`)
	ogImageAltExpr = regexp.MustCompile(`(?i)<meta\s+content=["']([^"']+)["']\s+property=["']og:image["']`)
)

// GetArtistImagePath resolves one representative image for an artist and
// returns a local file path, or "" when nothing could be found (the montage
// builder renders a placeholder tile in that case). Resolved images are cached
// on disk keyed by the normalized artist name.
func (s *Service) GetArtistImagePath(ctx context.Context, artistName string, imageURL, mbid *string) string {
	if artistName == "" {
		return ""
	}

	hash := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(artistName))))
	path := filepath.Join(s.cacheDir, hex.EncodeToString(hash[:])+".jpg")
	if _, err := os.Stat(path); err == nil {
		return path
	}

	if err := os.MkdirAll(s.cacheDir, 0o775); err != nil {
		s.logger.Printf("Cannot create artist cache dir %s: %v", s.cacheDir, err)
		return ""
	}

	sources := []func(context.Context, string, *string, string) bool{s.fetchFromArtistPage, s.fetchFromMusicBrainz}
	if s.musicBrainzFirst {
		sources[0], sources[1] = sources[1], sources[0]
	}

	for _, fetch := range sources {
		if fetch(ctx, artistName, mbid, path) {
			return path
		}
	}

	// Chart-supplied URL as the last resort; Last.fm often serves a blank
	// placeholder here, which still beats an empty tile.
	if imageURL != nil && *imageURL != "" {
		if s.downloadImage(ctx, *imageURL, path) {
			return path
		}
	}

	return ""
}

// fetchFromArtistPage scrapes the og:image meta tag from the public Last.fm
// artist page and downloads it.
func (s *Service) fetchFromArtistPage(ctx context.Context, artistName string, _ *string, path string) bool {
	pageURL := s.pageBaseURL + "/music/" + url.PathEscape(artistName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Printf("Failed to fetch artist page for %s: %v", artistName, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}

	imageURL := extractOGImage(string(html))
	if imageURL == "" {
		return false
	}

	return s.downloadImage(ctx, imageURL, path)
}

// extractOGImage pulls the og:image URL out of an HTML page, tolerating both
// attribute orders.
func extractOGImage(html string) string {
	if m := ogImageExpr.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if m := ogImageAltExpr.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// fetchFromMusicBrainz resolves the artist's MBID (searching when the chart
// did not carry one), walks to a release and pulls its front cover from the
// Cover Art Archive.
func (s *Service) fetchFromMusicBrainz(ctx context.Context, artistName string, mbid *string, path string) bool {
	id := ""
	if mbid != nil {
		id = *mbid
	}

	if id == "" {
		searchURL := fmt.Sprintf("%s/artist/?query=%s&fmt=json&limit=1", s.mbBaseURL, url.QueryEscape("artist:"+artistName))
		var result struct {
			Artists []struct {
				ID string `json:"id"`
			} `json:"artists"`
		}
		if !s.getJSON(ctx, searchURL, &result) || len(result.Artists) == 0 {
			return false
		}
		id = result.Artists[0].ID

		// MusicBrainz asks for at most one request per second.
		select {
		case <-ctx.Done():
			return false
		case <-time.After(1100 * time.Millisecond):
		}
	}

	releasesURL := fmt.Sprintf("%s/release/?artist=%s&fmt=json&limit=1", s.mbBaseURL, url.QueryEscape(id))
	var releases struct {
		Releases []struct {
			ID string `json:"id"`
		} `json:"releases"`
	}
	if !s.getJSON(ctx, releasesURL, &releases) || len(releases.Releases) == 0 {
		return false
	}

	coverURL := fmt.Sprintf("%s/release/%s/front-500", s.coverArtBaseURL, releases.Releases[0].ID)
	return s.downloadImage(ctx, coverURL, path)
}

func (s *Service) getJSON(ctx context.Context, rawURL string, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Printf("MusicBrainz request failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	return json.NewDecoder(resp.Body).Decode(out) == nil
}

// downloadImage saves a remote image to path, returning false on any failure.
func (s *Service) downloadImage(ctx context.Context, imageURL, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "image/*")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Printf("Image download failed for %s: %v", imageURL, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return false
	}

	if err := os.WriteFile(path, data, 0o664); err != nil {
		s.logger.Printf("Cannot write artist image %s: %v", path, err)
		return false
	}
	return true
}

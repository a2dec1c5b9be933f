package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lastfm-blue/weekcounted/models"
	"github.com/lastfm-blue/weekcounted/service/lastfm"
)

const chartSize = 5

// Store is the user storage surface the schedule sweep needs.
type Store interface {
	FindScheduleCandidates(nowUTC time.Time) ([]*models.User, error)
	GetUserByID(id int64) (*models.User, error)
	MarkQueued(userID int64, montagePath string) error
	SetCallback(userID int64, message string) error
	IncrementError(userID int64, message string) (int, error)
}

// ChartProvider fetches the weekly top artists and resolves their images.
type ChartProvider interface {
	GetWeeklyArtistChart(ctx context.Context, username string, limit int) ([]lastfm.Artist, error)
	GetArtistImagePath(ctx context.Context, artistName string, imageURL, mbid *string) string
}

// MontageBuilder composes the 5-tile weekly collage.
type MontageBuilder interface {
	CreateWeeklyMontage(userID int64, imagePaths []string) (string, error)
}

// Service is the schedule-trigger sweep: it finds users whose weekly slot
// matches the current instant, prepares their chart montage and moves them to
// QUEUED for the send sweep to pick up.
type Service struct {
	store   Store
	charts  ChartProvider
	montage MontageBuilder
	logger  *log.Logger
}

func NewService(store Store, charts ChartProvider, montage MontageBuilder) *Service {
	return &Service{
		store:   store,
		charts:  charts,
		montage: montage,
		logger:  log.New(os.Stdout, "scheduler: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// RunScheduleSweep processes every user due at nowUTC. Per-user failures are
// recorded on the user and never abort the batch; only a store failure
// surfaces as an error.
func (s *Service) RunScheduleSweep(ctx context.Context, nowUTC time.Time) error {
	due, err := s.store.FindScheduleCandidates(nowUTC)
	if err != nil {
		return fmt.Errorf("failed to load schedule candidates: %w", err)
	}

	s.logger.Printf("Schedule sweep at %s: %d due user(s)", nowUTC.UTC().Format(time.RFC3339), len(due))

	for _, user := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.processUser(ctx, user)
	}
	return nil
}

// RunScheduleSweepForUser is the forced single-user path for manual
// retriggering. It bypasses the due-time check but still requires the user to
// exist. Returns true when the user ended up QUEUED.
func (s *Service) RunScheduleSweepForUser(ctx context.Context, userID int64) (bool, error) {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, fmt.Errorf("user %d not found", userID)
	}

	s.logger.Printf("Force processing user %d", userID)
	return s.processUser(ctx, user), nil
}

// processUser runs the chart-fetch/montage/queue pipeline for one user.
// Thrown errors increment the error count but leave the status at SCHEDULE,
// so the user is retried on the next sweep tick while the due window is open.
func (s *Service) processUser(ctx context.Context, user *models.User) bool {
	s.logger.Printf("Processing user %d", user.ID)

	if user.LastFMUsername == nil || *user.LastFMUsername == "" {
		s.callback(user.ID, "No Last.fm username configured")
		return false
	}

	chart, err := s.charts.GetWeeklyArtistChart(ctx, *user.LastFMUsername, chartSize)
	if err != nil {
		s.fail(user.ID, err)
		return false
	}
	if len(chart) == 0 {
		s.callback(user.ID, "No weekly chart data")
		return false
	}

	paths := make([]string, 0, len(chart))
	for _, artist := range chart {
		paths = append(paths, s.charts.GetArtistImagePath(ctx, artist.Name, artist.ImageURL, artist.MBID))
	}

	montagePath, err := s.montage.CreateWeeklyMontage(user.ID, paths)
	if err != nil {
		s.fail(user.ID, err)
		return false
	}

	if err := s.store.MarkQueued(user.ID, montagePath); err != nil {
		s.fail(user.ID, err)
		return false
	}
	s.callback(user.ID, "Queued successfully")
	return true
}

func (s *Service) fail(userID int64, err error) {
	s.logger.Printf("Schedule processing failed for user %d: %v", userID, err)
	if _, storeErr := s.store.IncrementError(userID, err.Error()); storeErr != nil {
		s.logger.Printf("Failed to record error for user %d: %v", userID, storeErr)
	}
}

func (s *Service) callback(userID int64, message string) {
	if err := s.store.SetCallback(userID, message); err != nil {
		s.logger.Printf("Failed to set callback for user %d: %v", userID, err)
	}
}

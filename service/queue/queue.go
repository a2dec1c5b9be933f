package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/lastfm-blue/weekcounted/i18n"
	"github.com/lastfm-blue/weekcounted/models"
	"github.com/lastfm-blue/weekcounted/service/lastfm"
	"github.com/lastfm-blue/weekcounted/service/social"
)

const (
	atLimit       = 300
	mastodonLimit = 500
	imageAlt      = "Weekly chart"
)

// Store is the user storage surface the send sweep needs.
type Store interface {
	FindQueued() ([]*models.User, error)
	GetUserByID(id int64) (*models.User, error)
	MarkSending(userID int64) (bool, error)
	MarkScheduledAfterSend(userID int64, socialMessage string) error
	MarkScheduledAfterGiveUp(userID int64, reason string) error
	MarkQueued(userID int64, montagePath string) error
	IncrementError(userID int64, message string) (int, error)
	SetCallback(userID int64, message string) error
}

// ChartProvider re-fetches the weekly chart at send time so the post reflects
// the freshest counts.
type ChartProvider interface {
	GetWeeklyArtistChart(ctx context.Context, username string, limit int) ([]lastfm.Artist, error)
}

// Decrypter recovers the stored social credential.
type Decrypter interface {
	Decrypt(payload string) (string, error)
}

// MontageStore resolves stored montage paths to files on disk.
type MontageStore interface {
	AbsolutePath(relative string) string
}

// Service is the queue-drain sweep: it takes QUEUED users, builds the post
// text, and delivers the chunk chain through the protocol publisher.
type Service struct {
	store      Store
	charts     ChartProvider
	crypto     Decrypter
	montage    MontageStore
	publishers map[models.Protocol]social.Publisher
	mentions   map[models.Protocol]string
	maxErrors  int
	logger     *log.Logger
}

func NewService(
	store Store,
	charts ChartProvider,
	crypto Decrypter,
	montage MontageStore,
	publishers map[models.Protocol]social.Publisher,
	mentions map[models.Protocol]string,
	maxErrors int,
) *Service {
	return &Service{
		store:      store,
		charts:     charts,
		crypto:     crypto,
		montage:    montage,
		publishers: publishers,
		mentions:   mentions,
		maxErrors:  maxErrors,
		logger:     log.New(os.Stdout, "queue: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// RunSendSweep delivers every QUEUED user. Per-user failures are recorded on
// the user and never abort the batch.
func (s *Service) RunSendSweep(ctx context.Context, nowUTC time.Time) error {
	queued, err := s.store.FindQueued()
	if err != nil {
		return fmt.Errorf("failed to load queued users: %w", err)
	}

	s.logger.Printf("Send sweep at %s: %d queued user(s)", nowUTC.UTC().Format(time.RFC3339), len(queued))

	for _, user := range queued {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.sendForUser(ctx, user)
	}
	return nil
}

// SendForUserID is the forced single-user path. The user must already be
// QUEUED; anything else is refused without touching the row.
func (s *Service) SendForUserID(ctx context.Context, userID int64) (bool, error) {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, fmt.Errorf("user %d not found", userID)
	}
	if user.Status != models.StatusQueued {
		return false, fmt.Errorf("user %d is not queued (status %s)", userID, user.Status)
	}

	s.logger.Printf("Force sending for user %d", userID)
	return s.sendForUser(ctx, user), nil
}

// sendForUser claims the user via the guarded SENDING transition and attempts
// delivery. On failure the error count decides between requeue and giving up
// until next week.
func (s *Service) sendForUser(ctx context.Context, user *models.User) bool {
	claimed, err := s.store.MarkSending(user.ID)
	if err != nil {
		s.logger.Printf("Failed to claim user %d: %v", user.ID, err)
		return false
	}
	if !claimed {
		s.logger.Printf("User %d no longer queued, skipping", user.ID)
		return false
	}

	if err := s.deliver(ctx, user); err != nil {
		s.logger.Printf("Send failed for user %d: %v", user.ID, err)
		s.recordFailure(user, err)
		return false
	}
	return true
}

func (s *Service) deliver(ctx context.Context, user *models.User) error {
	publisher, ok := s.publishers[user.Protocol]
	if !ok {
		return fmt.Errorf("unknown protocol %q", user.Protocol)
	}

	text, err := s.buildPostText(ctx, user)
	if err != nil {
		return err
	}

	limit := atLimit
	if user.Protocol == models.ProtocolMastodon {
		limit = mastodonLimit
	}
	chunks := SplitText(text, limit)

	montagePath := ""
	if user.SocialMontage != nil {
		montagePath = *user.SocialMontage
	}
	absPath := s.montage.AbsolutePath(montagePath)
	if montagePath == "" || !fileExists(absPath) {
		return fmt.Errorf("montage file not found")
	}

	credential, identifier, err := s.credentials(user)
	if err != nil {
		return err
	}

	postID, err := publisher.Publish(ctx, social.Request{
		Instance:   user.Instance,
		Identifier: identifier,
		Credential: credential,
		Chunks:     chunks,
		ImagePath:  absPath,
		ImageAlt:   imageAlt,
	})
	if err != nil {
		return err
	}
	s.logger.Printf("Delivered post %s for user %d", postID, user.ID)

	if err := s.store.MarkScheduledAfterSend(user.ID, text); err != nil {
		return fmt.Errorf("sent but failed to reschedule: %w", err)
	}
	s.callback(user.ID, "Sent successfully")
	return nil
}

// credentials decrypts the protocol-specific secret: the app password for the
// AT Protocol, the access token for Mastodon.
func (s *Service) credentials(user *models.User) (credential, identifier string, err error) {
	switch user.Protocol {
	case models.ProtocolAT:
		if user.Password == nil {
			return "", "", fmt.Errorf("no stored password")
		}
		credential, err = s.crypto.Decrypt(*user.Password)
		if err != nil {
			return "", "", fmt.Errorf("failed to decrypt password: %w", err)
		}
		return credential, user.Username, nil
	case models.ProtocolMastodon:
		if user.Token == nil {
			return "", "", fmt.Errorf("no stored token")
		}
		credential, err = s.crypto.Decrypt(*user.Token)
		if err != nil {
			return "", "", fmt.Errorf("failed to decrypt token: %w", err)
		}
		return credential, user.Username, nil
	default:
		return "", "", fmt.Errorf("unknown protocol %q", user.Protocol)
	}
}

// buildPostText assembles the weekly summary: the top five artists with play
// counts, the scrobble total, localized labels and the service mention.
func (s *Service) buildPostText(ctx context.Context, user *models.User) (string, error) {
	if user.LastFMUsername == nil || *user.LastFMUsername == "" {
		return "", fmt.Errorf("no Last.fm username configured")
	}

	chart, err := s.charts.GetWeeklyArtistChart(ctx, *user.LastFMUsername, 5)
	if err != nil {
		return "", err
	}
	if len(chart) == 0 {
		return "", fmt.Errorf("no weekly chart data")
	}

	parts := make([]string, 0, len(chart))
	total := 0
	for _, artist := range chart {
		parts = append(parts, fmt.Sprintf("%s (%d)", artist.Name, artist.Playcount))
		total += artist.Playcount
	}

	return fmt.Sprintf("♫ %s: %s. #myweekcounted %s #music %s %s",
		i18n.TopArtists(user.Language),
		strings.Join(parts, " "),
		i18n.Scrobbles(user.Language, total),
		i18n.Via(user.Language),
		s.mentions[user.Protocol],
	), nil
}

// recordFailure bumps the error count and either requeues for retry or gives
// up until the next scheduled slot.
func (s *Service) recordFailure(user *models.User, cause error) {
	count, err := s.store.IncrementError(user.ID, cause.Error())
	if err != nil {
		s.logger.Printf("Failed to record error for user %d: %v", user.ID, err)
		return
	}

	if count >= s.maxErrors {
		s.logger.Printf("Giving up on user %d after %d attempt(s)", user.ID, count)
		if err := s.store.MarkScheduledAfterGiveUp(user.ID, cause.Error()); err != nil {
			s.logger.Printf("Failed to reschedule user %d: %v", user.ID, err)
		}
		return
	}

	montagePath := ""
	if user.SocialMontage != nil {
		montagePath = *user.SocialMontage
	}
	if err := s.store.MarkQueued(user.ID, montagePath); err != nil {
		s.logger.Printf("Failed to requeue user %d: %v", user.ID, err)
	}
}

func (s *Service) callback(userID int64, message string) {
	if err := s.store.SetCallback(userID, message); err != nil {
		s.logger.Printf("Failed to set callback for user %d: %v", userID, err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Package account covers the identity lifecycle around the sweeps: linking a
// social account, saving the weekly schedule, switching language, deletion.
package account

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lastfm-blue/weekcounted/models"
	"github.com/lastfm-blue/weekcounted/service/social"
)

// Store is the user storage surface account management needs.
type Store interface {
	GetUserByID(id int64) (*models.User, error)
	UpsertATUser(instance, username, did, encryptedPassword, language string) (int64, error)
	UpsertMastodonUser(instance, username, encryptedToken, language string) (int64, error)
	SaveSettings(userID int64, lastfmUsername string, dayOfWeekUTC int, timeUTC, timezone string) error
	SetLanguage(userID int64, language string) error
	DeleteUser(userID int64) (*string, error)
}

// Cipher encrypts credentials before they reach the database.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
}

// BlueskyVerifier proves an identifier/app-password pair against an instance.
type BlueskyVerifier interface {
	VerifyCredentials(ctx context.Context, instance, identifier, password string) (string, error)
}

// MastodonVerifier proves an access token and reports the account name.
type MastodonVerifier interface {
	VerifyToken(ctx context.Context, instance, token string) (string, error)
}

// LastFMValidator checks that a Last.fm username exists.
type LastFMValidator interface {
	ValidateUser(ctx context.Context, username string) (bool, error)
}

// MontageRemover deletes a user's montage file when the account goes away.
type MontageRemover interface {
	Remove(relative string) error
}

type Service struct {
	store    Store
	cipher   Cipher
	bluesky  BlueskyVerifier
	mastodon MastodonVerifier
	lastfm   LastFMValidator
	montage  MontageRemover
	logger   *log.Logger
}

func NewService(store Store, cipher Cipher, bluesky BlueskyVerifier, mastodon MastodonVerifier, lastfm LastFMValidator, montage MontageRemover) *Service {
	return &Service{
		store:    store,
		cipher:   cipher,
		bluesky:  bluesky,
		mastodon: mastodon,
		lastfm:   lastfm,
		montage:  montage,
		logger:   log.New(os.Stdout, "account: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// LinkBluesky verifies the app password by opening a session, then stores the
// identity with the password encrypted at rest. Returns the user id.
func (s *Service) LinkBluesky(ctx context.Context, instance, username, password, language string) (int64, error) {
	if username == "" || password == "" {
		return 0, fmt.Errorf("username and password are required")
	}

	did, err := s.bluesky.VerifyCredentials(ctx, instance, username, password)
	if err != nil {
		return 0, err
	}

	encrypted, err := s.cipher.Encrypt(password)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt password: %w", err)
	}

	normalized := social.NormalizeInstance(instance, "https://bsky.social")
	id, err := s.store.UpsertATUser(normalized, username, did, encrypted, language)
	if err != nil {
		return 0, err
	}
	s.logger.Printf("Linked AT account %s on %s as user %d", username, normalized, id)
	return id, nil
}

// LinkMastodon verifies the access token, reads the account name from the
// instance and stores the identity with the token encrypted at rest.
func (s *Service) LinkMastodon(ctx context.Context, instance, token, language string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("access token is required")
	}

	username, err := s.mastodon.VerifyToken(ctx, instance, token)
	if err != nil {
		return 0, err
	}
	if username == "" {
		return 0, fmt.Errorf("unable to read account username")
	}

	encrypted, err := s.cipher.Encrypt(token)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt token: %w", err)
	}

	normalized := social.NormalizeInstance(instance, "https://mastodon.social")
	id, err := s.store.UpsertMastodonUser(normalized, username, encrypted, language)
	if err != nil {
		return 0, err
	}
	s.logger.Printf("Linked Mastodon account %s on %s as user %d", username, normalized, id)
	return id, nil
}

// SaveSettings validates the Last.fm username and the schedule, converts the
// local slot to UTC and stores it. The user moves to SCHEDULE and the error
// count resets.
func (s *Service) SaveSettings(ctx context.Context, userID int64, lastfmUsername string, dayOfWeek int, hour, timezone string) error {
	if lastfmUsername == "" || hour == "" || timezone == "" || dayOfWeek < 1 || dayOfWeek > 7 {
		return fmt.Errorf("incomplete schedule settings")
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	ok, err := s.lastfm.ValidateUser(ctx, lastfmUsername)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("last.fm user %q not found", lastfmUsername)
	}

	utcDay, utcTime, err := models.ConvertLocalScheduleToUTC(dayOfWeek, hour, loc, time.Now().UTC())
	if err != nil {
		return err
	}

	if err := s.store.SaveSettings(userID, lastfmUsername, utcDay, utcTime, timezone); err != nil {
		return err
	}
	s.logger.Printf("Saved schedule for user %d: day %d at %s UTC", userID, utcDay, utcTime)
	return nil
}

// SetLanguage updates the preferred post language.
func (s *Service) SetLanguage(userID int64, language string) error {
	return s.store.SetLanguage(userID, language)
}

// Delete removes the account and its montage file.
func (s *Service) Delete(userID int64) error {
	montagePath, err := s.store.DeleteUser(userID)
	if err != nil {
		return err
	}
	if montagePath != nil && *montagePath != "" {
		if err := s.montage.Remove(*montagePath); err != nil {
			s.logger.Printf("Failed to remove montage for user %d: %v", userID, err)
		}
	}
	s.logger.Printf("Deleted user %d", userID)
	return nil
}

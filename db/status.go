package db

import (
	"log"
	"time"

	"github.com/lastfm-blue/weekcounted/models"
)

// FindScheduleCandidates returns users in SCHEDULE whose stored weekly slot
// matches nowUTC at minute granularity. The status and completeness filters
// run in SQL; the timezone validation and minute match run per row so that a
// single bad record cannot abort the batch.
func (db *DB) FindScheduleCandidates(nowUTC time.Time) ([]*models.User, error) {
	rows, err := db.Query(`
	SELECT `+userColumns+`
	FROM users
	WHERE status = ?
	  AND day_of_week IS NOT NULL
	  AND time IS NOT NULL
	  AND timezone IS NOT NULL
	  AND lastfm_username IS NOT NULL AND lastfm_username != ''
	ORDER BY id`, models.StatusSchedule)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}

		if _, err := time.LoadLocation(*user.Timezone); err != nil {
			log.Printf("Skipping user %d: invalid timezone %q: %v", user.ID, *user.Timezone, err)
			continue
		}

		if models.ScheduleDue(*user.DayOfWeek, *user.Time, nowUTC) {
			due = append(due, user)
		}
	}

	return due, rows.Err()
}

// FindQueued returns all users waiting in QUEUED, oldest first.
func (db *DB) FindQueued() ([]*models.User, error) {
	rows, err := db.Query(`
	SELECT `+userColumns+`
	FROM users
	WHERE status = ?
	ORDER BY id`, models.StatusQueued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// MarkQueued stores the fresh montage path and moves the user to QUEUED.
func (db *DB) MarkQueued(userID int64, montagePath string) error {
	_, err := db.Exec(`
	UPDATE users
	SET status = ?, social_montage = ?, updated_at = ?
	WHERE id = ?`,
		models.StatusQueued, montagePath, db.Now(), userID)
	return err
}

// MarkSending flips QUEUED to SENDING with an update-if-status-matches guard,
// so overlapping drains cannot pick up the same user twice. Returns false when
// the guard missed.
func (db *DB) MarkSending(userID int64) (bool, error) {
	result, err := db.Exec(`
	UPDATE users
	SET status = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		models.StatusSending, db.Now(), userID, models.StatusQueued)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkScheduledAfterSend records a successful delivery: back to SCHEDULE, the
// unsplit text kept for display, error count reset.
func (db *DB) MarkScheduledAfterSend(userID int64, socialMessage string) error {
	_, err := db.Exec(`
	UPDATE users
	SET status = ?, social_message = ?, error_count = 0, updated_at = ?
	WHERE id = ?`,
		models.StatusSchedule, socialMessage, db.Now(), userID)
	return err
}

// MarkScheduledAfterGiveUp abandons retries until the next weekly trigger.
// The error count is deliberately left as is; it resets on the next success
// or settings save.
func (db *DB) MarkScheduledAfterGiveUp(userID int64, reason string) error {
	_, err := db.Exec(`
	UPDATE users
	SET status = ?, callback = ?, updated_at = ?
	WHERE id = ?`,
		models.StatusSchedule, "Giving up until next week: "+reason, db.Now(), userID)
	return err
}

// IncrementError bumps the consecutive-failure counter and records the failure
// message as the callback. Status is not touched here; the caller decides the
// follow-up transition.
func (db *DB) IncrementError(userID int64, message string) (int, error) {
	_, err := db.Exec(`
	UPDATE users
	SET error_count = error_count + 1, callback = ?, updated_at = ?
	WHERE id = ?`,
		message, db.Now(), userID)
	if err != nil {
		return 0, err
	}

	var count int
	err = db.QueryRow(`SELECT error_count FROM users WHERE id = ?`, userID).Scan(&count)
	return count, err
}

// SetCallback overwrites the human-readable last-outcome message.
func (db *DB) SetCallback(userID int64, message string) error {
	_, err := db.Exec(`
	UPDATE users
	SET callback = ?, updated_at = ?
	WHERE id = ?`, message, db.Now(), userID)
	return err
}

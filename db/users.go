package db

import (
	"database/sql"

	"github.com/lastfm-blue/weekcounted/models"
)

const userColumns = `id, protocol, instance, username, did, password, token,
	lastfm_username, day_of_week, time, timezone, language, status,
	callback, social_message, social_montage, error_count, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Protocol, &user.Instance, &user.Username,
		&user.DID, &user.Password, &user.Token,
		&user.LastFMUsername, &user.DayOfWeek, &user.Time, &user.Timezone,
		&user.Language, &user.Status,
		&user.Callback, &user.SocialMessage, &user.SocialMontage,
		&user.ErrorCount, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by id. Returns (nil, nil) when no row exists.
func (db *DB) GetUserByID(id int64) (*models.User, error) {
	user, err := scanUser(db.QueryRow(`
	SELECT `+userColumns+`
	FROM users WHERE id = ?`, id))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByAccount looks a user up by the (protocol, instance, username) key.
func (db *DB) GetUserByAccount(protocol models.Protocol, instance, username string) (*models.User, error) {
	user, err := scanUser(db.QueryRow(`
	SELECT `+userColumns+`
	FROM users WHERE protocol = ? AND instance = ? AND username = ?`,
		protocol, instance, username))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpsertATUser creates or refreshes a Bluesky account record after login.
// New users start in ACTIVE with a zero error count.
func (db *DB) UpsertATUser(instance, username, did, encryptedPassword, language string) (int64, error) {
	existing, err := db.GetUserByAccount(models.ProtocolAT, instance, username)
	if err != nil {
		return 0, err
	}

	now := db.Now()
	if existing != nil {
		_, err := db.Exec(`
		UPDATE users
		SET did = ?, password = ?, language = ?, updated_at = ?
		WHERE id = ?`,
			did, encryptedPassword, language, now, existing.ID)
		return existing.ID, err
	}

	result, err := db.Exec(`
	INSERT INTO users (protocol, instance, username, did, password, token, language, status, error_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, NULL, ?, ?, 0, ?, ?)`,
		models.ProtocolAT, instance, username, did, encryptedPassword, language, models.StatusActive, now, now)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// UpsertMastodonUser creates or refreshes a Mastodon account record after login.
func (db *DB) UpsertMastodonUser(instance, username, encryptedToken, language string) (int64, error) {
	existing, err := db.GetUserByAccount(models.ProtocolMastodon, instance, username)
	if err != nil {
		return 0, err
	}

	now := db.Now()
	if existing != nil {
		_, err := db.Exec(`
		UPDATE users
		SET token = ?, language = ?, updated_at = ?
		WHERE id = ?`,
			encryptedToken, language, now, existing.ID)
		return existing.ID, err
	}

	result, err := db.Exec(`
	INSERT INTO users (protocol, instance, username, did, password, token, language, status, error_count, created_at, updated_at)
	VALUES (?, ?, ?, NULL, NULL, ?, ?, ?, 0, ?, ?)`,
		models.ProtocolMastodon, instance, username, encryptedToken, language, models.StatusActive, now, now)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// SaveSettings stores a validated weekly schedule (already converted to UTC),
// moves the user to SCHEDULE and resets the consecutive-failure counter.
func (db *DB) SaveSettings(userID int64, lastfmUsername string, dayOfWeekUTC int, timeUTC, timezone string) error {
	_, err := db.Exec(`
	UPDATE users
	SET lastfm_username = ?, day_of_week = ?, time = ?, timezone = ?, status = ?, error_count = 0, updated_at = ?
	WHERE id = ?`,
		lastfmUsername, dayOfWeekUTC, timeUTC, timezone, models.StatusSchedule, db.Now(), userID)
	return err
}

// SetLanguage updates the user's preferred locale.
func (db *DB) SetLanguage(userID int64, language string) error {
	_, err := db.Exec(`
	UPDATE users
	SET language = ?, updated_at = ?
	WHERE id = ?`, language, db.Now(), userID)
	return err
}

// DeleteUser removes the user row and returns the montage path that should be
// deleted along with it, if any.
func (db *DB) DeleteUser(userID int64) (*string, error) {
	user, err := db.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	if _, err := db.Exec(`DELETE FROM users WHERE id = ?`, userID); err != nil {
		return nil, err
	}
	return user.SocialMontage, nil
}

// CountActiveUsers counts users that are linked and not failed or paused.
func (db *DB) CountActiveUsers() (int, error) {
	var n int
	err := db.QueryRow(`
	SELECT COUNT(*) FROM users WHERE status IN (?, ?)`,
		models.StatusActive, models.StatusSchedule).Scan(&n)
	return n, err
}

// CountTotalUsers counts all user rows.
func (db *DB) CountTotalUsers() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lastfm-blue/weekcounted/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Initialize(); err != nil {
		t.Fatalf("failed to initialize database: %v", err)
	}
	return database
}

func newScheduledUser(t *testing.T, database *DB, dayOfWeek int, timeUTC, timezone string) int64 {
	t.Helper()

	id, err := database.UpsertATUser("https://bsky.social", "alice.bsky.social", "did:plc:abc", "sealed", "en")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if err := database.SaveSettings(id, "alice_fm", dayOfWeek, timeUTC, timezone); err != nil {
		t.Fatalf("failed to save settings: %v", err)
	}
	return id
}

func TestUpsertATUser(t *testing.T) {
	database := newTestDB(t)

	id, err := database.UpsertATUser("https://bsky.social", "alice.bsky.social", "did:plc:abc", "sealed-1", "en")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	user, err := database.GetUserByID(id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user == nil {
		t.Fatal("user not found after insert")
	}
	if user.Status != models.StatusActive {
		t.Errorf("new user status = %s, want ACTIVE", user.Status)
	}
	if user.Password == nil || *user.Password != "sealed-1" {
		t.Error("encrypted password not stored")
	}

	// same account logs in again with a new password
	again, err := database.UpsertATUser("https://bsky.social", "alice.bsky.social", "did:plc:abc", "sealed-2", "pt")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if again != id {
		t.Errorf("upsert created a new row: got id %d, want %d", again, id)
	}

	user, _ = database.GetUserByID(id)
	if user.Password == nil || *user.Password != "sealed-2" {
		t.Error("password not refreshed on re-login")
	}
	if user.Language != "pt" {
		t.Errorf("language = %s, want pt", user.Language)
	}
}

func TestGetUserByIDMissing(t *testing.T) {
	database := newTestDB(t)

	user, err := database.GetUserByID(999)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user != nil {
		t.Error("expected nil user for missing id")
	}
}

func TestSaveSettingsResetsErrors(t *testing.T) {
	database := newTestDB(t)
	id := newScheduledUser(t, database, 7, "12:00:00", "America/Sao_Paulo")

	if _, err := database.IncrementError(id, "boom"); err != nil {
		t.Fatalf("IncrementError: %v", err)
	}
	if err := database.SaveSettings(id, "alice_fm", 7, "12:00:00", "America/Sao_Paulo"); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	user, _ := database.GetUserByID(id)
	if user.ErrorCount != 0 {
		t.Errorf("error count = %d, want 0 after settings save", user.ErrorCount)
	}
	if user.Status != models.StatusSchedule {
		t.Errorf("status = %s, want SCHEDULE", user.Status)
	}
}

func TestFindScheduleCandidates(t *testing.T) {
	database := newTestDB(t)

	// Sunday 12:00 UTC
	now := time.Date(2025, 6, 8, 12, 0, 30, 0, time.UTC)

	due := newScheduledUser(t, database, 7, "12:00:00", "America/Sao_Paulo")

	offSlot, err := database.UpsertATUser("https://bsky.social", "bob.bsky.social", "did:plc:bob", "sealed", "en")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if err := database.SaveSettings(offSlot, "bob_fm", 7, "13:00:00", "UTC"); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	badTZ, err := database.UpsertATUser("https://bsky.social", "carol.bsky.social", "did:plc:carol", "sealed", "en")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if err := database.SaveSettings(badTZ, "carol_fm", 7, "12:00:00", "Not/AZone"); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	got, err := database.FindScheduleCandidates(now)
	if err != nil {
		t.Fatalf("FindScheduleCandidates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	if got[0].ID != due {
		t.Errorf("candidate id = %d, want %d", got[0].ID, due)
	}
}

func TestFindScheduleCandidatesIgnoresOtherStatuses(t *testing.T) {
	database := newTestDB(t)
	now := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)

	id := newScheduledUser(t, database, 7, "12:00:00", "UTC")
	if err := database.MarkQueued(id, "montage/abc.jpg"); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}

	got, err := database.FindScheduleCandidates(now)
	if err != nil {
		t.Fatalf("FindScheduleCandidates: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d candidates, want 0 for a QUEUED user", len(got))
	}
}

func TestMarkSendingGuard(t *testing.T) {
	database := newTestDB(t)
	id := newScheduledUser(t, database, 7, "12:00:00", "UTC")

	// not queued yet, the guard must miss
	claimed, err := database.MarkSending(id)
	if err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if claimed {
		t.Fatal("claimed a user that was not QUEUED")
	}

	if err := database.MarkQueued(id, "montage/abc.jpg"); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}

	claimed, err = database.MarkSending(id)
	if err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if !claimed {
		t.Fatal("failed to claim a QUEUED user")
	}

	// second claim races and must lose
	claimed, err = database.MarkSending(id)
	if err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if claimed {
		t.Error("claimed the same user twice")
	}

	user, _ := database.GetUserByID(id)
	if user.Status != models.StatusSending {
		t.Errorf("status = %s, want SENDING", user.Status)
	}
}

func TestSendTransitions(t *testing.T) {
	database := newTestDB(t)
	id := newScheduledUser(t, database, 7, "12:00:00", "UTC")
	if err := database.MarkQueued(id, "montage/abc.jpg"); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if _, err := database.MarkSending(id); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}

	t.Run("after send", func(t *testing.T) {
		if _, err := database.IncrementError(id, "transient"); err != nil {
			t.Fatalf("IncrementError: %v", err)
		}
		if err := database.MarkScheduledAfterSend(id, "♫ the post text"); err != nil {
			t.Fatalf("MarkScheduledAfterSend: %v", err)
		}

		user, _ := database.GetUserByID(id)
		if user.Status != models.StatusSchedule {
			t.Errorf("status = %s, want SCHEDULE", user.Status)
		}
		if user.ErrorCount != 0 {
			t.Errorf("error count = %d, want 0", user.ErrorCount)
		}
		if user.SocialMessage == nil || *user.SocialMessage != "♫ the post text" {
			t.Error("social message not stored")
		}
	})

	t.Run("after give-up", func(t *testing.T) {
		count, err := database.IncrementError(id, "still broken")
		if err != nil {
			t.Fatalf("IncrementError: %v", err)
		}
		if err := database.MarkScheduledAfterGiveUp(id, "still broken"); err != nil {
			t.Fatalf("MarkScheduledAfterGiveUp: %v", err)
		}

		user, _ := database.GetUserByID(id)
		if user.Status != models.StatusSchedule {
			t.Errorf("status = %s, want SCHEDULE", user.Status)
		}
		if user.ErrorCount != count {
			t.Errorf("error count = %d, want %d preserved across give-up", user.ErrorCount, count)
		}
		if user.Callback == nil || *user.Callback != "Giving up until next week: still broken" {
			t.Errorf("callback = %v", user.Callback)
		}
	})
}

func TestIncrementError(t *testing.T) {
	database := newTestDB(t)
	id := newScheduledUser(t, database, 7, "12:00:00", "UTC")

	for want := 1; want <= 3; want++ {
		got, err := database.IncrementError(id, "boom")
		if err != nil {
			t.Fatalf("IncrementError: %v", err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	user, _ := database.GetUserByID(id)
	if user.Status != models.StatusSchedule {
		t.Errorf("IncrementError changed status to %s", user.Status)
	}
	if user.Callback == nil || *user.Callback != "boom" {
		t.Errorf("callback = %v, want the failure message", user.Callback)
	}
}

func TestFindQueued(t *testing.T) {
	database := newTestDB(t)

	first := newScheduledUser(t, database, 7, "12:00:00", "UTC")
	if err := database.MarkQueued(first, "montage/a.jpg"); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}

	second, err := database.UpsertMastodonUser("https://mastodon.social", "bob", "sealed-token", "en")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if err := database.MarkQueued(second, "montage/b.jpg"); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}

	got, err := database.FindQueued()
	if err != nil {
		t.Fatalf("FindQueued: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d queued, want 2", len(got))
	}
	if got[0].ID != first || got[1].ID != second {
		t.Error("queued users not ordered oldest first")
	}
	if got[1].Protocol != models.ProtocolMastodon {
		t.Errorf("protocol = %s, want mastodon", got[1].Protocol)
	}
}

func TestDeleteUser(t *testing.T) {
	database := newTestDB(t)
	id := newScheduledUser(t, database, 7, "12:00:00", "UTC")
	if err := database.MarkQueued(id, "montage/abc.jpg"); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}

	montagePath, err := database.DeleteUser(id)
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if montagePath == nil || *montagePath != "montage/abc.jpg" {
		t.Errorf("montage path = %v, want montage/abc.jpg", montagePath)
	}

	user, err := database.GetUserByID(id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user != nil {
		t.Error("user still present after delete")
	}

	// deleting again is a no-op
	montagePath, err = database.DeleteUser(id)
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if montagePath != nil {
		t.Error("expected nil montage path for missing user")
	}
}

func TestCounts(t *testing.T) {
	database := newTestDB(t)

	scheduled := newScheduledUser(t, database, 7, "12:00:00", "UTC")
	_ = scheduled

	if _, err := database.UpsertMastodonUser("https://mastodon.social", "bob", "sealed", "en"); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	active, err := database.CountActiveUsers()
	if err != nil {
		t.Fatalf("CountActiveUsers: %v", err)
	}
	if active != 2 {
		t.Errorf("active = %d, want 2", active)
	}

	total, err := database.CountTotalUsers()
	if err != nil {
		t.Fatalf("CountTotalUsers: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
}

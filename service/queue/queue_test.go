package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lastfm-blue/weekcounted/models"
	"github.com/lastfm-blue/weekcounted/service/lastfm"
	"github.com/lastfm-blue/weekcounted/service/social"
)

type fakeStore struct {
	users map[int64]*models.User

	sendCalls    int
	giveUpCalls  int
	requeueCalls int
}

func newFakeStore(users ...*models.User) *fakeStore {
	s := &fakeStore{users: map[int64]*models.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) FindQueued() ([]*models.User, error) {
	var queued []*models.User
	for _, u := range s.users {
		if u.Status == models.StatusQueued {
			queued = append(queued, u)
		}
	}
	return queued, nil
}

func (s *fakeStore) GetUserByID(id int64) (*models.User, error) {
	return s.users[id], nil
}

func (s *fakeStore) MarkSending(userID int64) (bool, error) {
	u := s.users[userID]
	if u == nil || u.Status != models.StatusQueued {
		return false, nil
	}
	u.Status = models.StatusSending
	return true, nil
}

func (s *fakeStore) MarkScheduledAfterSend(userID int64, socialMessage string) error {
	s.sendCalls++
	u := s.users[userID]
	u.Status = models.StatusSchedule
	u.SocialMessage = &socialMessage
	u.ErrorCount = 0
	return nil
}

func (s *fakeStore) MarkScheduledAfterGiveUp(userID int64, reason string) error {
	s.giveUpCalls++
	s.users[userID].Status = models.StatusSchedule
	return nil
}

func (s *fakeStore) MarkQueued(userID int64, montagePath string) error {
	s.requeueCalls++
	u := s.users[userID]
	u.Status = models.StatusQueued
	u.SocialMontage = &montagePath
	return nil
}

func (s *fakeStore) IncrementError(userID int64, message string) (int, error) {
	u := s.users[userID]
	u.ErrorCount++
	u.Callback = &message
	return u.ErrorCount, nil
}

func (s *fakeStore) SetCallback(userID int64, message string) error {
	s.users[userID].Callback = &message
	return nil
}

type fakeCharts struct {
	artists []lastfm.Artist
	err     error
}

func (c *fakeCharts) GetWeeklyArtistChart(ctx context.Context, username string, limit int) ([]lastfm.Artist, error) {
	return c.artists, c.err
}

type fakeCrypto struct{}

func (fakeCrypto) Decrypt(payload string) (string, error) {
	return strings.TrimPrefix(payload, "sealed:"), nil
}

type fakeMontages struct {
	base string
}

func (m fakeMontages) AbsolutePath(relative string) string {
	return filepath.Join(m.base, relative)
}

type fakePublisher struct {
	requests []social.Request
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, req social.Request) (string, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return "", p.err
	}
	return "at://did:plc:abc/app.bsky.feed.post/xyz", nil
}

func strptr(s string) *string { return &s }

func queuedUser(id int64, protocol models.Protocol) *models.User {
	return &models.User{
		ID:             id,
		Protocol:       protocol,
		Instance:       "https://bsky.social",
		Username:       "alice.bsky.social",
		Password:       strptr("sealed:app-password"),
		Token:          strptr("sealed:access-token"),
		LastFMUsername: strptr("alice_fm"),
		Language:       "en",
		Status:         models.StatusQueued,
		SocialMontage:  strptr("montage/abc.jpg"),
	}
}

func testChart() []lastfm.Artist {
	return []lastfm.Artist{
		{Name: "Boards of Canada", Playcount: 42},
		{Name: "Autechre", Playcount: 23},
		{Name: "Aphex Twin", Playcount: 17},
		{Name: "Plaid", Playcount: 9},
		{Name: "Squarepusher", Playcount: 4},
	}
}

func newTestService(t *testing.T, store *fakeStore, charts *fakeCharts, publisher *fakePublisher) *Service {
	t.Helper()

	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "montage"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "montage", "abc.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write montage: %v", err)
	}

	return NewService(
		store,
		charts,
		fakeCrypto{},
		fakeMontages{base: base},
		map[models.Protocol]social.Publisher{
			models.ProtocolAT:       publisher,
			models.ProtocolMastodon: publisher,
		},
		map[models.Protocol]string{
			models.ProtocolAT:       "@lastfm.blue",
			models.ProtocolMastodon: "@lfm_blue@mastodon.social",
		},
		3,
	)
}

func TestRunSendSweepSuccess(t *testing.T) {
	store := newFakeStore(queuedUser(1, models.ProtocolAT))
	publisher := &fakePublisher{}
	svc := newTestService(t, store, &fakeCharts{artists: testChart()}, publisher)

	if err := svc.RunSendSweep(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunSendSweep: %v", err)
	}

	if len(publisher.requests) != 1 {
		t.Fatalf("published %d times, want 1", len(publisher.requests))
	}
	req := publisher.requests[0]
	if req.Credential != "app-password" {
		t.Errorf("credential = %q, want the decrypted password", req.Credential)
	}
	if len(req.Chunks) == 0 {
		t.Fatal("no chunks")
	}

	text := strings.Join(req.Chunks, " ")
	for _, want := range []string{
		"♫ My top artists this week:",
		"Boards of Canada (42)",
		"Squarepusher (4)",
		"#myweekcounted 95 scrobbles",
		"#music via @lastfm.blue",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("post text missing %q: %q", want, text)
		}
	}

	user := store.users[1]
	if user.Status != models.StatusSchedule {
		t.Errorf("status = %s, want SCHEDULE", user.Status)
	}
	if user.ErrorCount != 0 {
		t.Errorf("error count = %d, want 0", user.ErrorCount)
	}
	if user.Callback == nil || *user.Callback != "Sent successfully" {
		t.Errorf("callback = %v", user.Callback)
	}
	if user.SocialMessage == nil || !strings.Contains(*user.SocialMessage, "Boards of Canada") {
		t.Error("social message not recorded")
	}
}

func TestRunSendSweepMastodonMention(t *testing.T) {
	user := queuedUser(1, models.ProtocolMastodon)
	user.Instance = "https://mastodon.social"
	store := newFakeStore(user)
	publisher := &fakePublisher{}
	svc := newTestService(t, store, &fakeCharts{artists: testChart()}, publisher)

	if err := svc.RunSendSweep(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunSendSweep: %v", err)
	}

	req := publisher.requests[0]
	if req.Credential != "access-token" {
		t.Errorf("credential = %q, want the decrypted token", req.Credential)
	}
	if !strings.Contains(strings.Join(req.Chunks, " "), "@lfm_blue@mastodon.social") {
		t.Error("post text missing the mastodon mention")
	}
}

func TestRunSendSweepRequeuesOnFailure(t *testing.T) {
	store := newFakeStore(queuedUser(1, models.ProtocolAT))
	publisher := &fakePublisher{err: fmt.Errorf("instance unreachable")}
	svc := newTestService(t, store, &fakeCharts{artists: testChart()}, publisher)

	if err := svc.RunSendSweep(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunSendSweep: %v", err)
	}

	user := store.users[1]
	if user.Status != models.StatusQueued {
		t.Errorf("status = %s, want QUEUED for retry", user.Status)
	}
	if user.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", user.ErrorCount)
	}
	if store.giveUpCalls != 0 {
		t.Error("gave up on the first failure")
	}
}

func TestRunSendSweepGivesUpAtMaxErrors(t *testing.T) {
	store := newFakeStore(queuedUser(1, models.ProtocolAT))
	publisher := &fakePublisher{err: fmt.Errorf("instance unreachable")}
	svc := newTestService(t, store, &fakeCharts{artists: testChart()}, publisher)

	for attempt := 1; attempt <= 3; attempt++ {
		if err := svc.RunSendSweep(context.Background(), time.Now().UTC()); err != nil {
			t.Fatalf("RunSendSweep attempt %d: %v", attempt, err)
		}
	}

	user := store.users[1]
	if user.Status != models.StatusSchedule {
		t.Errorf("status = %s, want SCHEDULE after giving up", user.Status)
	}
	if user.ErrorCount != 3 {
		t.Errorf("error count = %d, want 3 preserved", user.ErrorCount)
	}
	if store.giveUpCalls != 1 {
		t.Errorf("give-up calls = %d, want 1", store.giveUpCalls)
	}
	if store.requeueCalls != 2 {
		t.Errorf("requeue calls = %d, want 2", store.requeueCalls)
	}

	// the next sweep finds nothing to send
	if err := svc.RunSendSweep(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunSendSweep: %v", err)
	}
	if len(publisher.requests) != 3 {
		t.Errorf("published %d times, want 3", len(publisher.requests))
	}
}

func TestRunSendSweepMissingMontage(t *testing.T) {
	user := queuedUser(1, models.ProtocolAT)
	user.SocialMontage = strptr("montage/missing.jpg")
	store := newFakeStore(user)
	publisher := &fakePublisher{}
	svc := newTestService(t, store, &fakeCharts{artists: testChart()}, publisher)

	if err := svc.RunSendSweep(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunSendSweep: %v", err)
	}

	if len(publisher.requests) != 0 {
		t.Error("published despite a missing montage file")
	}
	if store.users[1].ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", store.users[1].ErrorCount)
	}
}

func TestSendForUserIDRequiresQueued(t *testing.T) {
	user := queuedUser(1, models.ProtocolAT)
	user.Status = models.StatusSchedule
	store := newFakeStore(user)
	publisher := &fakePublisher{}
	svc := newTestService(t, store, &fakeCharts{artists: testChart()}, publisher)

	ok, err := svc.SendForUserID(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for a non-queued user")
	}
	if ok {
		t.Error("reported success")
	}
	if len(publisher.requests) != 0 {
		t.Error("published for a non-queued user")
	}
	if user.Status != models.StatusSchedule || user.ErrorCount != 0 {
		t.Error("forced send mutated a non-queued user")
	}
}

func TestSendForUserIDSuccess(t *testing.T) {
	store := newFakeStore(queuedUser(1, models.ProtocolAT))
	publisher := &fakePublisher{}
	svc := newTestService(t, store, &fakeCharts{artists: testChart()}, publisher)

	ok, err := svc.SendForUserID(context.Background(), 1)
	if err != nil {
		t.Fatalf("SendForUserID: %v", err)
	}
	if !ok {
		t.Error("want success")
	}
	if store.users[1].Status != models.StatusSchedule {
		t.Errorf("status = %s, want SCHEDULE", store.users[1].Status)
	}
}

func TestSendForUserIDMissingUser(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, &fakeCharts{artists: testChart()}, &fakePublisher{})

	if _, err := svc.SendForUserID(context.Background(), 42); err == nil {
		t.Fatal("expected error for a missing user")
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/lastfm-blue/weekcounted/config"
	"github.com/lastfm-blue/weekcounted/db"
	"github.com/lastfm-blue/weekcounted/models"
	"github.com/lastfm-blue/weekcounted/service/crypto"
	"github.com/lastfm-blue/weekcounted/service/lastfm"
	"github.com/lastfm-blue/weekcounted/service/montage"
	"github.com/lastfm-blue/weekcounted/service/queue"
	"github.com/lastfm-blue/weekcounted/service/scheduler"
	"github.com/lastfm-blue/weekcounted/service/social"
	"github.com/lastfm-blue/weekcounted/service/social/bluesky"
	"github.com/lastfm-blue/weekcounted/service/social/mastodon"
)

func main() {
	job := flag.String("job", "all", "which sweep to run: schedule, send or all")
	once := flag.Bool("once", false, "run a single sweep tick and exit")
	forceUser := flag.Int64("force-user", 0, "process one user id immediately, bypassing the due check")
	stats := flag.Bool("stats", false, "print user counts and exit")
	flag.Parse()

	config.Load()

	database, err := db.New(viper.GetString("db.path"))
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}
	defer database.Close()

	if err := database.Initialize(); err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}

	dataPath := viper.GetString("data.path")

	charts := lastfm.NewService(
		viper.GetString("lastfm.api_key"),
		viper.GetString("app.user_agent"),
		filepath.Join(dataPath, "artists"),
		viper.GetInt("lastfm.max_retries"),
		viper.GetBool("lastfm.musicbrainz_first"),
	)

	montages := montage.NewService(dataPath)

	cipher, err := crypto.NewCipher(viper.GetString("crypto.encryption_key"))
	if err != nil {
		log.Fatalf("Error initializing cipher: %v", err)
	}

	scheduleSweep := scheduler.NewService(database, charts, montages)
	sendSweep := queue.NewService(
		database,
		charts,
		cipher,
		montages,
		map[models.Protocol]social.Publisher{
			models.ProtocolAT:       bluesky.NewClient(),
			models.ProtocolMastodon: mastodon.NewClient(),
		},
		map[models.Protocol]string{
			models.ProtocolAT:       viper.GetString("post.bluesky_mention"),
			models.ProtocolMastodon: viper.GetString("post.mastodon_mention"),
		},
		viper.GetInt("send.max_errors"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *stats {
		printStats(database)
		return
	}

	if *forceUser != 0 {
		runForced(ctx, *job, *forceUser, scheduleSweep, sendSweep)
		return
	}

	tick := func(now time.Time) {
		if *job == "schedule" || *job == "all" {
			if err := scheduleSweep.RunScheduleSweep(ctx, now); err != nil {
				log.Printf("Schedule sweep failed: %v", err)
			}
		}
		if *job == "send" || *job == "all" {
			if err := sendSweep.RunSendSweep(ctx, now); err != nil {
				log.Printf("Send sweep failed: %v", err)
			}
		}
	}

	tick(time.Now().UTC())
	if *once {
		return
	}

	interval := time.Duration(viper.GetInt("sweep.interval_seconds")) * time.Second
	log.Printf("Sweeping every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down")
			return
		case now := <-ticker.C:
			tick(now.UTC())
		}
	}
}

func runForced(ctx context.Context, job string, userID int64, scheduleSweep *scheduler.Service, sendSweep *queue.Service) {
	switch job {
	case "schedule":
		if ok, err := scheduleSweep.RunScheduleSweepForUser(ctx, userID); err != nil {
			log.Fatalf("Force schedule failed for user %d: %v", userID, err)
		} else if !ok {
			os.Exit(1)
		}
	case "send":
		if ok, err := sendSweep.SendForUserID(ctx, userID); err != nil {
			log.Fatalf("Force send failed for user %d: %v", userID, err)
		} else if !ok {
			os.Exit(1)
		}
	default:
		log.Fatalf("Force mode needs -job schedule or -job send")
	}
}

func printStats(database *db.DB) {
	active, err := database.CountActiveUsers()
	if err != nil {
		log.Fatalf("Error counting users: %v", err)
	}
	total, err := database.CountTotalUsers()
	if err != nil {
		log.Fatalf("Error counting users: %v", err)
	}
	log.Printf("Users: %d scheduled, %d total", active, total)
}

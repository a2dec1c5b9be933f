package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load initializes the configuration with viper
func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading it. Using default values and environment variables.")
	}

	viper.SetDefault("db.path", "./data/weekcounted.db")
	viper.SetDefault("data.path", "./data")

	viper.SetDefault("lastfm.max_retries", 3)
	viper.SetDefault("lastfm.musicbrainz_first", false)

	viper.SetDefault("sweep.interval_seconds", 60)
	viper.SetDefault("send.max_errors", 3)

	// post composition defaults
	viper.SetDefault("post.bluesky_mention", "@lastfm.blue")
	viper.SetDefault("post.mastodon_mention", "@lfm_blue@mastodon.social")

	viper.SetDefault("app.url", "https://lastfm.blue")
	viper.SetDefault("app.user_agent", "weekcounted/1.0")

	viper.AutomaticEnv()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file: %v", err)
		}
		log.Println("Config file not found, using default values and environment variables")
	} else {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}

	// check for required settings
	requiredVars := []string{"lastfm.api_key", "crypto.encryption_key"}
	missingVars := []string{}

	for _, v := range requiredVars {
		if !viper.IsSet(v) {
			missingVars = append(missingVars, v)
		}
	}

	if len(missingVars) > 0 {
		log.Fatalf("Required configuration variables not set: %s", strings.Join(missingVars, ", "))
	}
}

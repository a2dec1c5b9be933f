package i18n

import (
	"fmt"

	"golang.org/x/text/language"
)

// labels holds the handful of strings the post composer needs per locale.
type labels struct {
	topArtists string
	scrobbles  string // fmt string taking the total playcount
	via        string
}

// supported is ordered; English first so it wins as the fallback for unknown
// locales.
var supported = []language.Tag{
	language.English,
	language.Portuguese,
	language.German,
	language.Spanish,
}

var catalog = []labels{
	{topArtists: "My top artists this week", scrobbles: "%d scrobbles", via: "via"},
	{topArtists: "Meus artistas da semana", scrobbles: "%d scrobbles", via: "via"},
	{topArtists: "Meine Top-Künstler der Woche", scrobbles: "%d Scrobbles", via: "via"},
	{topArtists: "Mis artistas de la semana", scrobbles: "%d scrobbles", via: "vía"},
}

var matcher = language.NewMatcher(supported)

func forLocale(locale string) labels {
	_, index, _ := matcher.Match(language.Make(locale))
	return catalog[index]
}

// TopArtists returns the chart heading for the locale.
func TopArtists(locale string) string {
	return forLocale(locale).topArtists
}

// Scrobbles renders the total-playcount fragment for the locale.
func Scrobbles(locale string, total int) string {
	return fmt.Sprintf(forLocale(locale).scrobbles, total)
}

// Via returns the attribution preposition for the locale.
func Via(locale string) string {
	return forLocale(locale).via
}

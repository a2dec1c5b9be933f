// Package social defines the protocol-agnostic publishing capability the
// queue drain depends on. Each protocol adapter owns its own login, media
// upload and reply-chaining rules.
package social

import (
	"context"
	"strings"
)

// Request is everything one delivery needs: the already-split text chunks (in
// order), the montage file and the decrypted credential.
type Request struct {
	Instance   string
	Identifier string // handle for AT, unused for Mastodon
	Credential string // app password for AT, access token for Mastodon
	Chunks     []string
	ImagePath  string // absolute path to the montage file
	ImageAlt   string
}

// Publisher posts a chunk chain with the image attached to the first post.
// Returns the identifier of the first (root) post.
type Publisher interface {
	Publish(ctx context.Context, req Request) (string, error)
}

// NormalizeInstance turns user-entered instance values into a base URL,
// falling back to fallbackHost when empty.
func NormalizeInstance(instance, fallbackHost string) string {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return fallbackHost
	}
	if !strings.HasPrefix(instance, "http") {
		instance = "https://" + instance
	}
	return strings.TrimRight(instance, "/")
}

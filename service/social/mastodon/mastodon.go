package mastodon

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-mastodon"

	"github.com/lastfm-blue/weekcounted/service/social"
)

const defaultHost = "https://mastodon.social"

// Client publishes montage posts to a Mastodon instance: media uploaded once
// and attached to the first status only, later chunks chained via in_reply_to.
type Client struct {
	logger *log.Logger

	// newClient is swapped out in tests.
	newClient func(instance, token string) api
}

// api is the slice of the Mastodon client the publisher needs.
type api interface {
	UploadMedia(ctx context.Context, file string) (*mastodon.Attachment, error)
	PostStatus(ctx context.Context, toot *mastodon.Toot) (*mastodon.Status, error)
}

func NewClient() *Client {
	return &Client{
		logger: log.New(os.Stdout, "mastodon: ", log.LstdFlags|log.Lmsgprefix),
		newClient: func(instance, token string) api {
			return mastodon.NewClient(&mastodon.Config{
				Server:      instance,
				AccessToken: token,
			})
		},
	}
}

// VerifyToken checks an access token against the instance and returns the
// account name (acct form, without the leading @).
func (c *Client) VerifyToken(ctx context.Context, instance, token string) (string, error) {
	host := social.NormalizeInstance(instance, defaultHost)
	client := mastodon.NewClient(&mastodon.Config{
		Server:      host,
		AccessToken: token,
	})

	account, err := client.GetAccountCurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to verify credentials against %s: %w", host, err)
	}
	if account.Acct == "" {
		return account.Username, nil
	}
	return account.Acct, nil
}

// Publish implements social.Publisher. Returns the first status id.
func (c *Client) Publish(ctx context.Context, req social.Request) (string, error) {
	if len(req.Chunks) == 0 {
		return "", fmt.Errorf("nothing to post")
	}

	instance := social.NormalizeInstance(req.Instance, defaultHost)
	client := c.newClient(instance, req.Credential)

	attachment, err := client.UploadMedia(ctx, req.ImagePath)
	if err != nil {
		return "", fmt.Errorf("failed to upload media to %s: %w", instance, err)
	}

	var firstID, inReplyTo mastodon.ID
	for i, chunk := range req.Chunks {
		toot := &mastodon.Toot{Status: chunk}
		if i == 0 {
			toot.MediaIDs = []mastodon.ID{attachment.ID}
		}
		if inReplyTo != "" {
			toot.InReplyToID = inReplyTo
		}

		status, err := client.PostStatus(ctx, toot)
		if err != nil {
			return "", fmt.Errorf("failed to post status %d/%d: %w", i+1, len(req.Chunks), err)
		}

		if i == 0 {
			firstID = status.ID
		}
		inReplyTo = status.ID
	}

	c.logger.Printf("Posted %d chunk(s) to %s, status %s", len(req.Chunks), instance, firstID)
	return string(firstID), nil
}

package bluesky

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"os"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"github.com/lastfm-blue/weekcounted/service/social"
)

const defaultHost = "https://bsky.social"

// Client publishes montage posts over the AT Protocol: one session per
// delivery, the blob uploaded once, and every chunk after the first posted as
// a reply to its predecessor with the first post as thread root.
type Client struct {
	httpClient *http.Client
	logger     *log.Logger
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.New(os.Stdout, "bluesky: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// Publish implements social.Publisher. Returns the root post's at:// URI.
func (c *Client) Publish(ctx context.Context, req social.Request) (string, error) {
	if len(req.Chunks) == 0 {
		return "", fmt.Errorf("nothing to post")
	}

	xrpcc := &xrpc.Client{
		Client: c.httpClient,
		Host:   social.NormalizeInstance(req.Instance, defaultHost),
	}

	sess, err := comatproto.ServerCreateSession(ctx, xrpcc, &comatproto.ServerCreateSession_Input{
		Identifier: req.Identifier,
		Password:   req.Credential,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session for %s: %w", req.Identifier, err)
	}
	xrpcc.Auth = &xrpc.AuthInfo{
		AccessJwt:  sess.AccessJwt,
		RefreshJwt: sess.RefreshJwt,
		Handle:     sess.Handle,
		Did:        sess.Did,
	}

	embed, err := c.uploadImageEmbed(ctx, xrpcc, req.ImagePath, req.ImageAlt)
	if err != nil {
		return "", err
	}

	var root, parent *comatproto.RepoStrongRef
	for i, chunk := range req.Chunks {
		post := &bsky.FeedPost{
			LexiconTypeID: "app.bsky.feed.post",
			Text:          chunk,
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		if facets := c.parseFacets(chunk, c.handleResolver(ctx, xrpcc)); len(facets) > 0 {
			post.Facets = facets
		}
		if i == 0 {
			post.Embed = &bsky.FeedPost_Embed{EmbedImages: embed}
		}
		if root != nil {
			post.Reply = &bsky.FeedPost_ReplyRef{Root: root, Parent: parent}
		}

		out, err := comatproto.RepoCreateRecord(ctx, xrpcc, &comatproto.RepoCreateRecord_Input{
			Collection: "app.bsky.feed.post",
			Repo:       sess.Did,
			Record:     &lexutil.LexiconTypeDecoder{Val: post},
		})
		if err != nil {
			return "", fmt.Errorf("failed to create post %d/%d: %w", i+1, len(req.Chunks), err)
		}

		ref := &comatproto.RepoStrongRef{Cid: out.Cid, Uri: out.Uri}
		if root == nil {
			root = ref
		}
		parent = ref
	}

	c.logger.Printf("Posted %d chunk(s) as %s, root %s", len(req.Chunks), sess.Handle, root.Uri)
	return root.Uri, nil
}

// VerifyCredentials checks an identifier/app-password pair by opening a
// session against the instance. Returns the account DID.
func (c *Client) VerifyCredentials(ctx context.Context, instance, identifier, password string) (string, error) {
	xrpcc := &xrpc.Client{
		Client: c.httpClient,
		Host:   social.NormalizeInstance(instance, defaultHost),
	}

	sess, err := comatproto.ServerCreateSession(ctx, xrpcc, &comatproto.ServerCreateSession_Input{
		Identifier: identifier,
		Password:   password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session for %s: %w", identifier, err)
	}
	return sess.Did, nil
}

// uploadImageEmbed uploads the montage blob and wraps it in an images embed
// carrying alt text and the pixel aspect ratio.
func (c *Client) uploadImageEmbed(ctx context.Context, xrpcc *xrpc.Client, path, alt string) (*bsky.EmbedImages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read image %s: %w", path, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to get image dimensions for %s: %w", path, err)
	}

	blob, err := comatproto.RepoUploadBlob(ctx, xrpcc, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to upload blob: %w", err)
	}

	return &bsky.EmbedImages{
		Images: []*bsky.EmbedImages_Image{{
			Alt:   alt,
			Image: blob.Blob,
			AspectRatio: &bsky.EmbedDefs_AspectRatio{
				Width:  int64(cfg.Width),
				Height: int64(cfg.Height),
			},
		}},
	}, nil
}

// handleResolver resolves @handles to DIDs against the session host; facets
// for unresolvable mentions are dropped rather than failing the post.
func (c *Client) handleResolver(ctx context.Context, xrpcc *xrpc.Client) func(handle string) string {
	return func(handle string) string {
		out, err := comatproto.IdentityResolveHandle(ctx, xrpcc, handle)
		if err != nil {
			c.logger.Printf("Failed to resolve handle %s: %v", handle, err)
			return ""
		}
		return out.Did
	}
}

package bluesky

import (
	"strings"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/dlclark/regexp2"
)

// The word-boundary lookarounds keep "user@host.com" from matching as a
// mention; stdlib regexp cannot express them.
var (
	mentionExpr = regexp2.MustCompile(`(?<!\w)@([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?!\w)`, regexp2.None)
	hashtagExpr = regexp2.MustCompile(`(?<!\w)#([a-zA-Z0-9_À-ſ]+)(?!\w)`, regexp2.None)
	linkExpr    = regexp2.MustCompile(`https?://[^\s<>\[\]()"'\u00A0]+[^\s<>\[\]()"'\u00A0.,!?:;]`, regexp2.None)
)

type span struct {
	text      string
	byteStart int64
	byteEnd   int64
}

// findSpans runs a regexp2 expression over text and maps the rune-based match
// offsets back to the byte offsets AT Protocol facets require.
func findSpans(expr *regexp2.Regexp, text string) []span {
	runes := []rune(text)

	// byte offset of each rune index, plus the end sentinel
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += len(string(r))
	}
	offsets[len(runes)] = pos

	var spans []span
	m, _ := expr.FindStringMatch(text)
	for m != nil {
		spans = append(spans, span{
			text:      m.String(),
			byteStart: int64(offsets[m.Index]),
			byteEnd:   int64(offsets[m.Index+m.Length]),
		})
		m, _ = expr.FindNextMatch(m)
	}
	return spans
}

// parseFacets extracts mention, hashtag and link facets from one post chunk.
// resolve maps a handle (without the leading @) to a DID, or "" to skip.
func (c *Client) parseFacets(text string, resolve func(handle string) string) []*bsky.RichtextFacet {
	var facets []*bsky.RichtextFacet

	for _, sp := range findSpans(mentionExpr, text) {
		did := resolve(strings.TrimPrefix(sp.text, "@"))
		if did == "" {
			continue
		}
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{ByteStart: sp.byteStart, ByteEnd: sp.byteEnd},
			Features: []*bsky.RichtextFacet_Features_Elem{{
				RichtextFacet_Mention: &bsky.RichtextFacet_Mention{
					LexiconTypeID: "app.bsky.richtext.facet#mention",
					Did:           did,
				},
			}},
		})
	}

	for _, sp := range findSpans(hashtagExpr, text) {
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{ByteStart: sp.byteStart, ByteEnd: sp.byteEnd},
			Features: []*bsky.RichtextFacet_Features_Elem{{
				RichtextFacet_Tag: &bsky.RichtextFacet_Tag{
					LexiconTypeID: "app.bsky.richtext.facet#tag",
					Tag:           strings.TrimPrefix(sp.text, "#"),
				},
			}},
		})
	}

	for _, sp := range findSpans(linkExpr, text) {
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{ByteStart: sp.byteStart, ByteEnd: sp.byteEnd},
			Features: []*bsky.RichtextFacet_Features_Elem{{
				RichtextFacet_Link: &bsky.RichtextFacet_Link{
					LexiconTypeID: "app.bsky.richtext.facet#link",
					Uri:           sp.text,
				},
			}},
		})
	}

	return facets
}

package queue

import "strings"

// minBreak is how far into a chunk a newline must sit before it is preferred
// over a hard cut; breaking earlier wastes most of the post.
const minBreak = 20

// SplitText cuts text into pieces of at most limit Unicode code points. A
// newline past position minBreak wins over the hard limit so paragraphs stay
// together. Pieces are trimmed and empty pieces are dropped.
func SplitText(text string, limit int) []string {
	var pieces []string

	remainder := []rune(text)
	for len(remainder) > 0 {
		if len(remainder) <= limit {
			if piece := strings.TrimSpace(string(remainder)); piece != "" {
				pieces = append(pieces, piece)
			}
			break
		}

		cut := limit
		if i := lastIndexRune(remainder[:limit], '\n'); i > minBreak {
			cut = i
		}

		if piece := strings.TrimSpace(string(remainder[:cut])); piece != "" {
			pieces = append(pieces, piece)
		}
		remainder = []rune(strings.TrimLeft(string(remainder[cut:]), " \t\n\r"))
	}

	return pieces
}

func lastIndexRune(runes []rune, target rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == target {
			return i
		}
	}
	return -1
}

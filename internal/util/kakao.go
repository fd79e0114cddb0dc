// Package util holds KakaoTalk text helpers.
package util

import "strings"

const (
	// SeeMorePadding is the number of zero-width spaces KakaoTalk needs
	// before it collapses the rest of a message behind "See more".
	SeeMorePadding = 500
	zeroWidthSpace = "\u200b"
)

// SeeMore keeps header visible and folds body behind KakaoTalk's "See more".
// An empty body returns header unchanged.
func SeeMore(header, body string) string {
	header = strings.TrimSpace(header)
	body = strings.TrimPrefix(body, header)
	body = strings.TrimLeft(body, "\r\n")
	if strings.TrimSpace(body) == "" {
		return header
	}

	var b strings.Builder
	b.Grow(len(header) + len(zeroWidthSpace)*SeeMorePadding + len(body) + 1)
	b.WriteString(header)
	b.WriteString(strings.Repeat(zeroWidthSpace, SeeMorePadding))
	b.WriteByte('\n')
	b.WriteString(body)
	return b.String()
}

// FoldLines joins lines and folds them behind "See more" once there are more than visible.
func FoldLines(header string, lines []string, visible int) string {
	if len(lines) <= visible {
		return strings.Join(append([]string{header}, lines...), "\n")
	}
	return SeeMore(header, strings.Join(lines, "\n"))
}

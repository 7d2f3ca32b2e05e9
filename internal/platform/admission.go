package platform

import (
	"regexp"
	"strings"
)

const maxTitleLength = 100

// Inbound is the platform-neutral view of a message used for admission.
type Inbound struct {
	AuthorIsBot bool
	System      bool
	// MentionedBots holds the ids of every bot identity the message mentions.
	MentionedBots []string
}

// Admissible reports whether a message may be handled at all.
func Admissible(in Inbound) bool {
	return !in.AuthorIsBot && !in.System
}

// IsForMe reports whether the message mentions exactly one bot and that
// bot is selfID.
func IsForMe(in Inbound, selfID string) bool {
	if len(in.MentionedBots) != 1 {
		return false
	}
	return selfID != "" && in.MentionedBots[0] == selfID
}

var (
	mentionPattern    = regexp.MustCompile(`<[@#]\S*>|@(everyone|here)`)
	disallowedPattern = regexp.MustCompile(`[^ a-zA-Z0-9_-]+`)
	spacesPattern     = regexp.MustCompile(`\s\s+`)
)

// RemoveMentions strips user, role and channel mentions.
func RemoveMentions(content string) string {
	return mentionPattern.ReplaceAllString(content, "")
}

// GenerateTitle derives a thread title from message content,
// e.g. "<@123> Plan my trip!" becomes "plan-my-trip".
func GenerateTitle(content string) string {
	title := RemoveMentions(strings.ToLower(content))
	title = disallowedPattern.ReplaceAllString(title, "")
	title = spacesPattern.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)
	title = strings.Join(strings.Split(title, " "), "-")

	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}
	return title
}

// SplitText breaks text into chunks of at most limit runes.
func SplitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		end := limit
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[:end]))
		runes = runes[end:]
	}
	return parts
}

package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	// fieldSeparator is the ASCII unit separator; normalized text never
	// contains it because whitespace and control runs collapse to ' '.
	fieldSeparator = "\x1f"

	// IDDomain namespaces fallback identifiers and suffixes them.
	IDDomain = "ttcal"
	idHexLen = 32

	dayKeyLayout  = "2006-01-02"
	instantLayout = "2006-01-02T15:04:05.000Z"
)

// DayKey is the calendar date of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayKeyLayout)
}

// MatchKey builds the identity class of an entry from already normalized
// parts. groups is the output of normalize.Groups.
func MatchKey(dayKey, subject, groups string) string {
	return dayKey + "|" + subject + "|" + groups
}

// ContentFingerprint hashes every field whose change should bump the
// sequence. Text arguments must already be normalized.
func ContentFingerprint(start, end time.Time, summary, location, description string) string {
	return hashHex(
		isoInstant(start),
		isoInstant(end),
		summary,
		location,
		description,
	)
}

// FallbackID derives the identifier used when no prior record matches.
// It depends only on its arguments, so it reproduces byte for byte across
// restarts. round > 0 salts the derivation when the round-0 identifier is
// already taken.
func FallbackID(sourceID, userID, dayKey, subject, groups string, occurrence, round int) string {
	parts := []string{
		IDDomain,
		sourceID,
		userID,
		dayKey,
		subject,
		groups,
		strconv.Itoa(occurrence),
	}
	if round > 0 {
		parts = append(parts, "#"+strconv.Itoa(round))
	}
	return hashHex(parts...)[:idHexLen] + "@" + IDDomain
}

func hashHex(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

func isoInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

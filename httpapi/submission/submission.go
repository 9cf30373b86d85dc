// Package submission implements the three community-submission endpoints
// (§6): open, CORS-reachable dedup-and-stage operations for new video,
// playlist, and channel identifiers. It is explicitly out of the core
// protocol (§1) but still needs the identifier filtering and parameterized
// staging insert described in §6 and §9.
package submission

import "regexp"

// Identifier patterns, §6. videoIDPattern gates video submissions and
// channelIDPattern gates channel submissions; playlist IDs have no pattern,
// so playlists are deduplicated but not regex-filtered.
var (
	videoIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	channelIDPattern = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
)

// Inserter is the subset of store.Gateway a submit handler needs: insert a
// pre-filtered, pre-deduplicated ID set into one staging table and report
// back which IDs were newly inserted.
type Inserter func(ids []string) ([]string, error)

// FilterFunc narrows a raw identifier list to the ones that match the
// endpoint's naming contract, §6.
type FilterFunc func(ids []string) []string

// FilterVideos keeps only IDs matching the 11-character video ID pattern.
func FilterVideos(ids []string) []string {
	return filter(ids, videoIDPattern)
}

// FilterChannels keeps only IDs matching the UC-prefixed 24-character
// channel ID pattern.
func FilterChannels(ids []string) []string {
	return filter(ids, channelIDPattern)
}

// FilterNone passes every identifier through unfiltered; playlists have no
// declared naming contract in §6 beyond deduplication.
func FilterNone(ids []string) []string {
	return ids
}

func filter(ids []string, pattern *regexp.Regexp) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if pattern.MatchString(id) {
			out = append(out, id)
		}
	}
	return out
}

// Submit filters raw, then inserts through insert, returning exactly the
// IDs that were newly staged. Every one of the three submit handlers in
// httpapi calls this with its own filter and Inserter, per SPEC_FULL's
// "shared by all three submit handlers through a small generic helper
// function."
func Submit(raw []string, filter FilterFunc, insert Inserter) ([]string, error) {
	filtered := filter(raw)
	if len(filtered) == 0 {
		return []string{}, nil
	}
	inserted, err := insert(filtered)
	if err != nil {
		return nil, err
	}
	if inserted == nil {
		inserted = []string{}
	}
	return inserted, nil
}

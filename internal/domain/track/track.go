// Package track provides the Track domain entity.
package track

import "time"

// Track represents a playable track as known to the coordinator.
type Track struct {
	ID       string        `json:"id"`       // Provider track ID
	Title    string        `json:"title"`    // Track title
	Artists  []string      `json:"artists"`  // Artist names
	Album    string        `json:"album"`    // Album name
	Duration time.Duration `json:"duration"` // Track duration
	URL      string        `json:"url"`      // Canonical track URL
}

// QueuedTrack represents a track in a session's playback queue.
type QueuedTrack struct {
	Track       Track     `json:"track"`
	RequestedBy string    `json:"requestedBy"` // Display name of the requester
	AddedAt     time.Time `json:"addedAt"`     // Time when added to the queue
}

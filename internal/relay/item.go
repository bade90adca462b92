// Package relay turns posts from the source channel into broadcasts.
//
// Single posts are dispatched directly. Album parts are collected by the
// Aggregator until the album goes quiet for the debounce window, then the
// whole album is dispatched as one MediaGroup.
package relay

import (
	"errors"
	"time"

	"relaybot/internal/transport"
)

var ErrStopped = errors.New("relay stopped")

// BroadcastItem is one relayable unit of content. Payload is the text body
// for text items and the platform file id for media.
type BroadcastItem struct {
	Kind    transport.MediaKind
	Payload string
	Caption string
}

// MediaGroup is a completed album: parts in arrival order plus the first
// caption seen for the album.
type MediaGroup struct {
	ID      string
	Parts   []BroadcastItem
	Caption string
}

// Content is a BroadcastItem or a MediaGroup.
type Content interface {
	isContent()
}

func (BroadcastItem) isContent() {}
func (MediaGroup) isContent()    {}

// DeliveryReport summarizes one dispatch. It is produced after every
// recipient attempt has settled.
type DeliveryReport struct {
	BroadcastID string
	Total       int
	Success     int
	Took        time.Duration
}

func (r DeliveryReport) Failed() int { return r.Total - r.Success }

// Outcome is the result of one delivery attempt. Err is nil on success.
type Outcome struct {
	Recipient int64
	Err       error
}

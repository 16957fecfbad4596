package domain

import (
	"math"
	"time"
)

// Point is a position on the dispatch plane.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance between two points.
func (p Point) DistanceTo(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Request is a rider asking to be matched. Requests are immutable once created.
type Request struct {
	ID       string `json:"id"`
	Position Point  `json:"position"`
}

// Provider is an available match target (a driver). Providers are immutable.
type Provider struct {
	ID       string `json:"id"`
	Position Point  `json:"position"`
}

// Match is the append-only record of a successful pairing.
type Match struct {
	Request    Request   `json:"request"`
	Provider   Provider  `json:"provider"`
	Distance   float64   `json:"distance"`
	Dispatcher string    `json:"dispatcher"`
	MatchedAt  time.Time `json:"matched_at"`
}

type RejectionReason string

const (
	RejectNoProviders RejectionReason = "no-providers-available"
	RejectLockTimeout RejectionReason = "lock-timeout"
)

// Rejection is a non-error outcome: the request was consumed without a match.
type Rejection struct {
	Request    Request         `json:"request"`
	Reason     RejectionReason `json:"reason"`
	Dispatcher string          `json:"dispatcher"`
	RejectedAt time.Time       `json:"rejected_at"`
}

type EventType string

const (
	EventProviderMatched EventType = "ProviderMatched"
	EventRequestRejected EventType = "RequestRejected"
	EventCacheRefreshed  EventType = "CacheRefreshed"
	EventCacheEvicted    EventType = "CacheEvicted"
)

// Event is what observers receive. Exactly one of Match, Rejection or CacheKey is set.
type Event struct {
	Type      EventType  `json:"type"`
	Match     *Match     `json:"match,omitempty"`
	Rejection *Rejection `json:"rejection,omitempty"`
	CacheKey  string     `json:"cache_key,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	At        time.Time  `json:"at"`
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

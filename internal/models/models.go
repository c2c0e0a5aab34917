package models

import "time"

// Coordinate is a position on the service-area grid, in integer grid units.
type Coordinate struct {
	Latitude  int `json:"latitude"`
	Longitude int `json:"longitude"`
}

// Ride is a transportation request. The engine reads Pickup and CreatedAt and
// writes ChairID exactly once; a set ChairID is never cleared.
type Ride struct {
	ID        string     `json:"id"`
	Pickup    Coordinate `json:"pickup"`
	ChairID   *string    `json:"chair_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Chair is a transport unit. IsActive means the operator has opted in to
// receive rides; it says nothing about whether the chair is currently busy.
type Chair struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	IsActive bool   `json:"is_active"`
}

// Ride lifecycle milestones, in order. A ride is fully completed once all six
// have been recorded; a chair with any assigned ride short of that is busy.
const (
	StatusMatching  = "MATCHING"
	StatusEnroute   = "ENROUTE"
	StatusPickup    = "PICKUP"
	StatusCarrying  = "CARRYING"
	StatusArrived   = "ARRIVED"
	StatusCompleted = "COMPLETED"

	CompletedMilestones = 6
)

// StatusSequence lists the milestones in lifecycle order.
var StatusSequence = []string{
	StatusMatching,
	StatusEnroute,
	StatusPickup,
	StatusCarrying,
	StatusArrived,
	StatusCompleted,
}

// RideStatus is one recorded milestone in a ride's status trail.
type RideStatus struct {
	ID        string    `json:"id"`
	RideID    string    `json:"ride_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// PositionSample is a chair's last reported position. ReportedAt is the
// arrival time of the report, not a device timestamp; the cache keeps
// whichever report arrived last.
type PositionSample struct {
	Coordinate
	ReportedAt time.Time `json:"reported_at"`
}

// ChairLocationEvent is the wire shape of one location report on the ingest
// stream and the internal report endpoint.
type ChairLocationEvent struct {
	ChairID    string    `json:"chair_id"`
	Latitude   int       `json:"latitude"`
	Longitude  int       `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// Coord returns the event's position as a grid coordinate.
func (e ChairLocationEvent) Coord() Coordinate {
	return Coordinate{Latitude: e.Latitude, Longitude: e.Longitude}
}

// RideProgress reports how far an assigned ride has moved through the
// lifecycle, for collaborators that drive the remaining milestones.
type RideProgress struct {
	RideID     string `json:"ride_id"`
	ChairID    string `json:"chair_id"`
	Milestones int    `json:"milestones"`
}

// Assignment pairs one ride with one chair. Distance is the Manhattan
// distance used to pick the chair, or -1 when the chair had no cached
// position and was taken as the first-available fallback.
type Assignment struct {
	RideID   string `json:"ride_id"`
	ChairID  string `json:"chair_id"`
	Distance int    `json:"distance"`
}

// CycleStats summarizes one matching cycle for logs, metrics and the
// inspection endpoint.
type CycleStats struct {
	Backlog      int           `json:"backlog"`
	ActiveChairs int           `json:"active_chairs"`
	FreeChairs   int           `json:"free_chairs"`
	Matched      int           `json:"matched"`
	LostRaces    int           `json:"lost_races"`
	CommitErrors int           `json:"commit_errors"`
	Duration     time.Duration `json:"duration"`
	RanAt        time.Time     `json:"ran_at"`
}

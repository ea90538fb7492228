package domain

type EventType string

const (
	EventBidCreated  EventType = "bid.created"
	EventBidAccepted EventType = "bid.accepted"
)

// Event is a persisted change to one job, pushed to that job's
// subscribers. Seq is the job version the change produced; within a job
// it strictly increases, so a subscriber that sees a gap knows it missed
// something and must refetch.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId"`
	Seq   int64     `json:"seq"`
	Bid   Bid       `json:"bid"`
}

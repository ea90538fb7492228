package domain

import "time"

type Status string

const (
	Open      Status = "open"
	Assigned  Status = "assigned"
	Completed Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case Open, Assigned, Completed:
		return true
	}
	return false
}

type Role string

const (
	RoleArtisan Role = "artisan"
	RoleClient  Role = "client"
)

// Principal is the verified identity a request or connection acts as.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Point is a WGS84 coordinate. Field order follows GeoJSON (lng, lat).
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

type Job struct {
	ID             string    `json:"id"`
	Seq            int64     `json:"seq"`
	ClientID       string    `json:"clientId"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	Location       Point     `json:"location"`
	SuggestedPrice *float64  `json:"suggestedPrice,omitempty"`
	Bids           []Bid     `json:"bids"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Bid struct {
	ID        string    `json:"id"`
	ArtisanID string    `json:"artisanId"`
	Amount    float64   `json:"amount"`
	Accepted  bool      `json:"accepted"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers never share the bid slice or the
// price pointer with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.SuggestedPrice != nil {
		p := *j.SuggestedPrice
		out.SuggestedPrice = &p
	}
	out.Bids = make([]Bid, len(j.Bids))
	copy(out.Bids, j.Bids)
	return &out
}

func (j *Job) FindBid(id string) (int, bool) {
	for i := range j.Bids {
		if j.Bids[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (j *Job) AcceptedBid() (*Bid, bool) {
	for i := range j.Bids {
		if j.Bids[i].Accepted {
			return &j.Bids[i], true
		}
	}
	return nil, false
}

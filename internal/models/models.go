package models

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RideRequest is a single rider's ask as submitted by a user.
type RideRequest struct {
	// 0x7C is "|", the ticket field separator.
	Name        string `json:"name" validate:"required,excludes=0x7C"`
	Pickup      string `json:"pickup" validate:"required,excludes=0x7C"`
	Destination string `json:"destination" validate:"required"`
	Time        string `json:"time" validate:"required,excludes=0x7C"`
}

type Rider struct {
	Name   string `json:"name"`
	Pickup string `json:"pickup"`
	Time   string `json:"time"`
	QRCode string `json:"qr_code,omitempty"`
}

// RiderFrom converts an accepted request into a pool member.
func RiderFrom(r RideRequest) Rider {
	return Rider{Name: r.Name, Pickup: r.Pickup, Time: r.Time}
}

// Pool is the unit of work produced by matching and enriched by every
// later stage. CompletedAt is only set for pools served from history.
type Pool struct {
	ID          string   `json:"id"`
	RouteName   string   `json:"route_name"`
	Riders      []Rider  `json:"riders"`
	TotalCost   float64  `json:"total_cost"`
	PerPerson   float64  `json:"per_person"`
	Distance    float64  `json:"distance"`
	Duration    string   `json:"duration"`
	PickupOrder []string `json:"pickup_order"`
	Destination string   `json:"destination"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

type PoolSummary struct {
	ID          string `json:"id"`
	RouteName   string `json:"route_name"`
	Destination string `json:"destination"`
}

func (p Pool) Summary() PoolSummary {
	return PoolSummary{ID: p.ID, RouteName: p.RouteName, Destination: p.Destination}
}

// FindRider returns the rider with the exact given name.
func (p Pool) FindRider(name string) (Rider, bool) {
	for _, r := range p.Riders {
		if r.Name == name {
			return r, true
		}
	}
	return Rider{}, false
}

package storage

import (
	"time"

	"github.com/example/ride-pooling/internal/models"
)

// NewSeededMemoryStore returns a MemoryStore holding the demo pools.
// Completion times of yesterday's pools are computed from now.
func NewSeededMemoryStore(now time.Time) *MemoryStore {
	m := NewMemoryStore()
	m.days[Today] = todayFixtures()
	m.days[Yesterday] = yesterdayFixtures(now)
	return m
}

func todayFixtures() []models.Pool {
	return []models.Pool{
		{
			ID:        "pool-001",
			RouteName: "Bangalore Central Express",
			Riders: []models.Rider{
				{Name: "Priya Sharma", Pickup: "Electronic City", Time: "8:15 AM"},
				{Name: "Arjun Reddy", Pickup: "MG Road Metro", Time: "8:30 AM"},
				{Name: "Ananya Patel", Pickup: "IISc Campus", Time: "8:45 AM"},
			},
			TotalCost:   450.00,
			PerPerson:   150.00,
			Distance:    28.5,
			Duration:    "1h 15m",
			PickupOrder: []string{"Electronic City", "MG Road Metro", "IISc Campus"},
			Destination: "Kempegowda Airport Terminal 2",
		},
		{
			ID:        "pool-002",
			RouteName: "Mumbai North Shuttle",
			Riders: []models.Rider{
				{Name: "Rahul Mehta", Pickup: "Bandra Kurla Complex", Time: "9:00 AM"},
				{Name: "Kavya Nair", Pickup: "Phoenix Mall", Time: "9:20 AM"},
			},
			TotalCost:   380.00,
			PerPerson:   190.00,
			Distance:    24.0,
			Duration:    "1h 5m",
			PickupOrder: []string{"Bandra Kurla Complex", "Phoenix Mall"},
			Destination: "Jio World Convention Centre",
		},
		{
			ID:        "pool-003",
			RouteName: "Delhi Metro Link",
			Riders: []models.Rider{
				{Name: "Siddharth Kapoor", Pickup: "Connaught Place", Time: "7:30 AM"},
				{Name: "Neha Singh", Pickup: "India Gate", Time: "7:45 AM"},
				{Name: "Vikram Gupta", Pickup: "Gurgaon Sector 29", Time: "8:00 AM"},
			},
			TotalCost:   520.00,
			PerPerson:   173.33,
			Distance:    35.0,
			Duration:    "1h 30m",
			PickupOrder: []string{"Connaught Place", "India Gate", "Gurgaon Sector 29"},
			Destination: "IGI Airport Terminal 3",
		},
	}
}

func yesterdayFixtures(now time.Time) []models.Pool {
	ago := func(d time.Duration) string { return now.Add(-24*time.Hour - d).Format(time.RFC3339) }
	return []models.Pool{
		{
			ID:        "pool-y001",
			RouteName: "IIT Campus Shuttle",
			Riders: []models.Rider{
				{Name: "Aditya Verma", Pickup: "Hostel Block A", Time: "7:30 AM"},
				{Name: "Riya Joshi", Pickup: "Central Library", Time: "7:45 AM"},
			},
			TotalCost:   320.00,
			PerPerson:   160.00,
			Distance:    22.0,
			Duration:    "55m",
			PickupOrder: []string{"Hostel Block A", "Central Library"},
			Destination: "Indiranagar Metro",
			CompletedAt: ago(2 * time.Hour),
		},
		{
			ID:        "pool-y002",
			RouteName: "Hyderabad Evening Express",
			Riders: []models.Rider{
				{Name: "Rajesh Kumar", Pickup: "HITEC City", Time: "5:30 PM"},
				{Name: "Meera Iyer", Pickup: "Banjara Hills", Time: "5:45 PM"},
				{Name: "Amit Desai", Pickup: "Gachibowli Stadium", Time: "6:00 PM"},
			},
			TotalCost:   525.00,
			PerPerson:   175.00,
			Distance:    31.0,
			Duration:    "1h 20m",
			PickupOrder: []string{"HITEC City", "Banjara Hills", "Gachibowli Stadium"},
			Destination: "Rajiv Gandhi Airport Terminal 1",
			CompletedAt: ago(14 * time.Hour),
		},
		{
			ID:        "pool-y003",
			RouteName: "Pune IT Corridor",
			Riders: []models.Rider{
				{Name: "Sanjay Menon", Pickup: "Hinjewadi Tech Park", Time: "8:00 AM"},
				{Name: "Deepika Rao", Pickup: "Wakad Bridge", Time: "8:15 AM"},
			},
			TotalCost:   280.00,
			PerPerson:   140.00,
			Distance:    18.5,
			Duration:    "45m",
			PickupOrder: []string{"Hinjewadi Tech Park", "Wakad Bridge"},
			Destination: "Pune Railway Station",
			CompletedAt: ago(12 * time.Hour),
		},
	}
}

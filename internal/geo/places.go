package geo

import "github.com/example/ride-pooling/internal/models"

// approximate coordinates of the demo pickup points and destinations
var knownPlaces = map[string]models.Coord{
	"Electronic City":                 {Lat: 12.8452, Lon: 77.6602},
	"MG Road Metro":                   {Lat: 12.9755, Lon: 77.6068},
	"IISc Campus":                     {Lat: 13.0219, Lon: 77.5671},
	"Kempegowda Airport Terminal 2":   {Lat: 13.1989, Lon: 77.7068},
	"Bandra Kurla Complex":            {Lat: 19.0660, Lon: 72.8677},
	"Phoenix Mall":                    {Lat: 19.0863, Lon: 72.8888},
	"Jio World Convention Centre":     {Lat: 19.0625, Lon: 72.8631},
	"Connaught Place":                 {Lat: 28.6315, Lon: 77.2167},
	"India Gate":                      {Lat: 28.6129, Lon: 77.2295},
	"Gurgaon Sector 29":               {Lat: 28.4691, Lon: 77.0660},
	"IGI Airport Terminal 3":          {Lat: 28.5562, Lon: 77.0870},
	"HITEC City":                      {Lat: 17.4435, Lon: 78.3772},
	"Banjara Hills":                   {Lat: 17.4126, Lon: 78.4482},
	"Gachibowli Stadium":              {Lat: 17.4483, Lon: 78.3489},
	"Rajiv Gandhi Airport Terminal 1": {Lat: 17.2403, Lon: 78.4294},
	"Hinjewadi Tech Park":             {Lat: 18.5913, Lon: 73.7389},
	"Wakad Bridge":                    {Lat: 18.5987, Lon: 73.7688},
	"Pune Railway Station":            {Lat: 18.5286, Lon: 73.8743},
}

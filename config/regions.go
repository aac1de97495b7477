package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Region is a named map view offered to API clients.
type Region struct {
	Name      string    `json:"name"`
	Center    []float64 `json:"center"`
	ZoomLevel int       `json:"zoom_level"`
}

// DefaultRegions are served when no regions file is configured.
var DefaultRegions = []Region{
	{Name: "london", Center: []float64{51.5072, -0.1276}, ZoomLevel: 12},
	{Name: "manchester", Center: []float64{53.4808, -2.2426}, ZoomLevel: 13},
	{Name: "birmingham", Center: []float64{52.4862, -1.8904}, ZoomLevel: 13},
	{Name: "leeds", Center: []float64{53.8008, -1.5491}, ZoomLevel: 13},
	{Name: "bristol", Center: []float64{51.4545, -2.5879}, ZoomLevel: 13},
}

// LoadRegions reads regions from a JSON file. An empty path yields DefaultRegions.
func LoadRegions(path string) ([]Region, error) {
	if path == "" {
		return DefaultRegions, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}

	var regions []Region
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("failed to parse regions file: %w", err)
	}
	for i, r := range regions {
		if r.Name == "" {
			return nil, fmt.Errorf("region %d has no name", i)
		}
		if len(r.Center) != 2 || r.Center[0] < -90 || r.Center[0] > 90 || r.Center[1] < -180 || r.Center[1] > 180 {
			return nil, fmt.Errorf("region %s has an invalid center", r.Name)
		}
		regions[i].Name = strings.ToLower(r.Name)
	}
	return regions, nil
}

// RegionNames returns the names of regions in order.
func RegionNames(regions []Region) []string {
	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.Name
	}
	return names
}

// RegionByName returns the region called name, or nil.
func RegionByName(regions []Region, name string) *Region {
	name = strings.ToLower(name)
	for i := range regions {
		if regions[i].Name == name {
			return &regions[i]
		}
	}
	return nil
}

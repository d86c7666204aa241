package repository

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/serjvanilla/go-overpass"

	"landslide_service/internal/domain/model"
)

// siteRadiusMeters bounds the Overpass lookup around a confirmed site.
const siteRadiusMeters = 300

// TerrainRepository resolves mapped infrastructure (OpenStreetMap via
// Overpass) around a coordinate. Used to describe what a confirmed
// landslide may affect; always best-effort.
type TerrainRepository struct {
	client  *overpass.Client
	timeout time.Duration
}

func NewTerrainRepository(endpoint string, timeout time.Duration) *TerrainRepository {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	return &TerrainRepository{
		client:  &client,
		timeout: timeout,
	}
}

// SiteContext counts buildings, roads and waterways within the site
// radius and measures the distance to the nearest mapped road.
func (r *TerrainRepository) SiteContext(ctx context.Context, c model.Coordinate) (model.SiteContext, error) {
	query := fmt.Sprintf(`
		[out:json];
		(
			way["building"](around:%d,%f,%f);
			way["highway"](around:%d,%f,%f);
			way["waterway"](around:%d,%f,%f);
			node["waterway"](around:%d,%f,%f);
		);
		out body;
		>;
		out skel qt;
	`,
		siteRadiusMeters, c.Lat, c.Lng,
		siteRadiusMeters, c.Lat, c.Lng,
		siteRadiusMeters, c.Lat, c.Lng,
		siteRadiusMeters, c.Lat, c.Lng)

	result, err := r.executeQuery(ctx, query)
	if err != nil {
		return model.SiteContext{}, fmt.Errorf("failed to execute site context query: %w", err)
	}

	var sc model.SiteContext
	nearestRoad := math.Inf(1)

	for _, way := range result.Ways {
		switch {
		case way.Tags["building"] != "":
			sc.Buildings++
		case way.Tags["highway"] != "":
			sc.Roads++
			if lat, lon, ok := wayCenter(way); ok {
				if d := haversine(c.Lat, c.Lng, lat, lon); d < nearestRoad {
					nearestRoad = d
				}
			}
		case way.Tags["waterway"] != "":
			sc.Waterways++
		}
	}
	for _, node := range result.Nodes {
		if node.Tags["waterway"] != "" {
			sc.Waterways++
		}
	}

	if !math.IsInf(nearestRoad, 1) {
		sc.NearestRoadKm = nearestRoad
	}
	return sc, nil
}

func (r *TerrainRepository) executeQuery(ctx context.Context, query string) (*overpass.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.client.Query(query)
	if err != nil {
		return nil, fmt.Errorf("overpass query failed: %w", err)
	}
	return &result, nil
}

func wayCenter(way *overpass.Way) (lat, lon float64, ok bool) {
	if len(way.Nodes) == 0 {
		return 0, 0, false
	}
	for _, node := range way.Nodes {
		lat += node.Lat
		lon += node.Lon
	}
	count := float64(len(way.Nodes))
	return lat / count, lon / count, true
}

// haversine returns the great-circle distance in kilometers.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

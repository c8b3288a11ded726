// Package domain models wildfires reported by the provincial fire feed and the
// burned-area perimeters derived for them.
//
// # Data Source
//
// Active fires come from the BC Wildfire Service public ArcGIS layer. Each
// feature carries a fire number (e.g. "K71086"), a stage of control, the
// current size in hectares, an ignition date, and a point location.
//
// Stage of control:
//
//	"Out of Control" | "Being Held" | "Under Control" | "Out"
//	Every status other than "Out" is treated as active.
//
// Size:
//
//	CURRENT_SIZE is in hectares. A fire is processed only when it is active
//	and its size is strictly greater than the configured threshold (90 ha by
//	default).
//
// # Search Area
//
// The imagery search box is a square centred on the fire's reported point.
// Its side is size_ha * multiplier * 100 meters, so the default multiplier of
// 3 gives a square three times the side of a square fire of that area. Edges
// are found with forward geodesics on the WGS84 ellipsoid, so the box is
// slightly wider in degrees of longitude than latitude away from the equator.
//
// Raster size follows from a 20 m ground sample distance and is scaled down
// by the imagery client when the estimated payload exceeds its response limit.
//
// # Dates
//
// Dates are civil dates held as UTC midnight. The compositing window for a
// date of interest D and window N days is [D-N, D].
//
// # Perimeter Records
//
// A perimeter record is unique per (fire number, date of interest). Reruns
// replace the geometry and metadata of the existing row and bump update_date.
package domain

package geojson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GeoJSONGeometry is the value of a GeoProperty. Geometries are stored in the
// graph as WKT and converted back to GeoJSON when an entity is retrieved.
type GeoJSONGeometry interface {
	GeoPropertyType() string
	GetAsPoint() GeoJSONPropertyPoint
	WKT() string
}

// GeoJSONPropertyPoint is used as the value object for a Point GeoProperty
type GeoJSONPropertyPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func (gjpp *GeoJSONPropertyPoint) GeoPropertyType() string {
	return gjpp.Type
}

func (gjpp *GeoJSONPropertyPoint) GetAsPoint() GeoJSONPropertyPoint {
	// Return a copy of this point to prevent mutation
	return GeoJSONPropertyPoint{
		Type:        gjpp.Type,
		Coordinates: [2]float64{gjpp.Coordinates[0], gjpp.Coordinates[1]},
	}
}

func (gjpp *GeoJSONPropertyPoint) WKT() string {
	return fmt.Sprintf("POINT (%s)", formatPosition(gjpp.Coordinates[:]))
}

func (gjpp GeoJSONPropertyPoint) Latitude() float64 {
	return gjpp.Coordinates[1]
}

func (gjpp GeoJSONPropertyPoint) Longitude() float64 {
	return gjpp.Coordinates[0]
}

// GeoJSONPropertyLineString is used as the value object for a LineString GeoProperty
type GeoJSONPropertyLineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

func (gjpls *GeoJSONPropertyLineString) GeoPropertyType() string {
	return gjpls.Type
}

func (gjpls *GeoJSONPropertyLineString) GetAsPoint() GeoJSONPropertyPoint {
	return GeoJSONPropertyPoint{
		Type:        "Point",
		Coordinates: [2]float64{gjpls.Coordinates[0][0], gjpls.Coordinates[0][1]},
	}
}

func (gjpls *GeoJSONPropertyLineString) WKT() string {
	return fmt.Sprintf("LINESTRING %s", formatRing(gjpls.Coordinates))
}

// GeoJSONPropertyPolygon is used as the value object for a Polygon GeoProperty
type GeoJSONPropertyPolygon struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

func (gjpp *GeoJSONPropertyPolygon) GeoPropertyType() string {
	return gjpp.Type
}

func (gjpp *GeoJSONPropertyPolygon) GetAsPoint() GeoJSONPropertyPoint {
	return GeoJSONPropertyPoint{
		Type:        "Point",
		Coordinates: [2]float64{gjpp.Coordinates[0][0][0], gjpp.Coordinates[0][0][1]},
	}
}

func (gjpp *GeoJSONPropertyPolygon) WKT() string {
	return fmt.Sprintf("POLYGON %s", formatPolygon(gjpp.Coordinates))
}

// GeoJSONPropertyMultiPolygon is used as the value object for a MultiPolygon GeoProperty
type GeoJSONPropertyMultiPolygon struct {
	Type        string          `json:"type"`
	Coordinates [][][][]float64 `json:"coordinates"`
}

func (gjpmp *GeoJSONPropertyMultiPolygon) GeoPropertyType() string {
	return gjpmp.Type
}

func (gjpmp *GeoJSONPropertyMultiPolygon) GetAsPoint() GeoJSONPropertyPoint {
	return GeoJSONPropertyPoint{
		Type:        "Point",
		Coordinates: [2]float64{gjpmp.Coordinates[0][0][0][0], gjpmp.Coordinates[0][0][0][1]},
	}
}

func (gjpmp *GeoJSONPropertyMultiPolygon) WKT() string {
	polygons := make([]string, 0, len(gjpmp.Coordinates))
	for _, p := range gjpmp.Coordinates {
		polygons = append(polygons, formatPolygon(p))
	}
	return fmt.Sprintf("MULTIPOLYGON (%s)", strings.Join(polygons, ", "))
}

func NewPoint(longitude, latitude float64) *GeoJSONPropertyPoint {
	return &GeoJSONPropertyPoint{
		Type:        "Point",
		Coordinates: [2]float64{longitude, latitude},
	}
}

func NewLineString(coordinates [][]float64) *GeoJSONPropertyLineString {
	return &GeoJSONPropertyLineString{Type: "LineString", Coordinates: coordinates}
}

func NewPolygon(coordinates [][][]float64) *GeoJSONPropertyPolygon {
	return &GeoJSONPropertyPolygon{Type: "Polygon", Coordinates: coordinates}
}

func NewMultiPolygon(coordinates [][][][]float64) *GeoJSONPropertyMultiPolygon {
	return &GeoJSONPropertyMultiPolygon{Type: "MultiPolygon", Coordinates: coordinates}
}

// UnmarshalGeometry converts the decoded value of a GeoProperty into a typed geometry
func UnmarshalGeometry(value any) (GeoJSONGeometry, error) {
	typedValue, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unable to parse geoproperty of unknown value type %T", value)
	}

	geoTypeStr, ok := typedValue["type"].(string)
	if !ok {
		return nil, fmt.Errorf("geoproperties without a geotype is not supported")
	}

	untypedCoordinates, ok := typedValue["coordinates"]
	if !ok {
		return nil, fmt.Errorf("unable to unmarshal geoproperty %s with no coordinates", geoTypeStr)
	}

	b, err := json.Marshal(untypedCoordinates)
	if err != nil {
		return nil, err
	}

	switch geoTypeStr {
	case "Point":
		var coords []float64
		if err = json.Unmarshal(b, &coords); err != nil {
			return nil, fmt.Errorf("geoproperty point coordinates not convertible to float64")
		}
		if len(coords) < 2 {
			return nil, fmt.Errorf("geoproperty point coordinates array has insufficient length (%d < 2)", len(coords))
		}
		return NewPoint(coords[0], coords[1]), nil
	case "LineString":
		var coords [][]float64
		if err = json.Unmarshal(b, &coords); err != nil || len(coords) == 0 {
			return nil, fmt.Errorf("malformed linestring coordinates")
		}
		return NewLineString(coords), nil
	case "Polygon":
		var coords [][][]float64
		if err = json.Unmarshal(b, &coords); err != nil || len(coords) == 0 || len(coords[0]) == 0 {
			return nil, fmt.Errorf("malformed polygon coordinates")
		}
		return NewPolygon(coords), nil
	case "MultiPolygon":
		var coords [][][][]float64
		if err = json.Unmarshal(b, &coords); err != nil || len(coords) == 0 || len(coords[0]) == 0 || len(coords[0][0]) == 0 {
			return nil, fmt.Errorf("malformed multipolygon coordinates")
		}
		return NewMultiPolygon(coords), nil
	default:
		return nil, fmt.Errorf("unknown geotype %s not supported in geoproperty", geoTypeStr)
	}
}

// ParseWKT converts a stored WKT string back into a geometry
func ParseWKT(wkt string) (GeoJSONGeometry, error) {
	wkt = strings.TrimSpace(wkt)
	idx := strings.Index(wkt, "(")
	if idx < 0 {
		return nil, fmt.Errorf("malformed wkt %q", wkt)
	}

	geoType := strings.ToUpper(strings.TrimSpace(wkt[:idx]))
	body, err := parseList(wkt[idx:])
	if err != nil {
		return nil, fmt.Errorf("malformed wkt %q: %w", wkt, err)
	}

	switch geoType {
	case "POINT":
		coords := toPositions(body)
		if len(coords) != 1 || len(coords[0]) < 2 {
			return nil, fmt.Errorf("malformed wkt point %q", wkt)
		}
		return NewPoint(coords[0][0], coords[0][1]), nil
	case "LINESTRING":
		return NewLineString(toPositions(body)), nil
	case "POLYGON":
		return NewPolygon(toRings(body)), nil
	case "MULTIPOLYGON":
		polygons := [][][][]float64{}
		for _, p := range body {
			l, ok := p.([]any)
			if !ok {
				return nil, fmt.Errorf("malformed wkt multipolygon %q", wkt)
			}
			polygons = append(polygons, toRings(l))
		}
		return NewMultiPolygon(polygons), nil
	}

	return nil, fmt.Errorf("unsupported wkt geometry type %s", geoType)
}

func formatPosition(p []float64) string {
	parts := make([]string, 0, len(p))
	for _, v := range p {
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return strings.Join(parts, " ")
}

func formatRing(ring [][]float64) string {
	positions := make([]string, 0, len(ring))
	for _, p := range ring {
		positions = append(positions, formatPosition(p))
	}
	return "(" + strings.Join(positions, ", ") + ")"
}

func formatPolygon(polygon [][][]float64) string {
	rings := make([]string, 0, len(polygon))
	for _, r := range polygon {
		rings = append(rings, formatRing(r))
	}
	return "(" + strings.Join(rings, ", ") + ")"
}

// parseList parses a parenthesized, comma separated WKT list. Leaf items are
// returned as []float64, nested lists as []any.
func parseList(s string) ([]any, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("expected parenthesized list")
	}

	inner := s[1 : len(s)-1]
	items := []any{}
	depth, start := 0, 0

	for i, r := range inner {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				item, err := parseItem(inner[start:i])
				if err != nil {
					return nil, err
				}
				items = append(items, item)
				start = i + 1
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}

	item, err := parseItem(inner[start:])
	if err != nil {
		return nil, err
	}

	return append(items, item), nil
}

func parseItem(s string) (any, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") {
		return parseList(s)
	}

	fields := strings.Fields(s)
	position := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		position = append(position, v)
	}

	return position, nil
}

func toPositions(l []any) [][]float64 {
	positions := make([][]float64, 0, len(l))
	for _, item := range l {
		if p, ok := item.([]float64); ok {
			positions = append(positions, p)
		}
	}
	return positions
}

func toRings(l []any) [][][]float64 {
	rings := make([][][]float64, 0, len(l))
	for _, item := range l {
		if r, ok := item.([]any); ok {
			rings = append(rings, toPositions(r))
		}
	}
	return rings
}

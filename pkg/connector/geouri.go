// mautrix-telegram - A Matrix-Telegram puppeting bridge.
// Copyright (C) 2025 Sumner Evans
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package connector

import (
	"fmt"
	"strconv"
	"strings"
)

// GeoURI is a parsed RFC 5870 geo: URI, reduced to the latitude/longitude
// pair Matrix location events use.
type GeoURI struct {
	Lat  float64
	Long float64
}

func GeoURIFromLatLong(lat, long float64) GeoURI {
	return GeoURI{Lat: lat, Long: long}
}

func ParseGeoURI(raw string) (geo GeoURI, err error) {
	coords, ok := strings.CutPrefix(raw, "geo:")
	if !ok {
		return geo, fmt.Errorf("geo URI doesn't start with geo: (%q)", raw)
	}
	// parameters after the first ; (altitude, crs, u) are ignored
	coords, _, _ = strings.Cut(coords, ";")
	rawLat, rawLong, ok := strings.Cut(coords, ",")
	if !ok {
		return geo, fmt.Errorf("geo URI has no comma-separated coordinates")
	}
	if geo.Lat, err = strconv.ParseFloat(rawLat, 64); err != nil {
		return geo, fmt.Errorf("failed to parse latitude: %w", err)
	}
	if geo.Long, err = strconv.ParseFloat(rawLong, 64); err != nil {
		return geo, fmt.Errorf("failed to parse longitude: %w", err)
	}
	return
}

func (g GeoURI) URI() string {
	return fmt.Sprintf("geo:%f,%f", g.Lat, g.Long)
}

package connector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/mautrix-telegram/pkg/connector"
)

func TestParseGeoURI(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		lat, long float64
		err       bool
	}{
		{name: "simple", raw: "geo:37.786971,-122.399677", lat: 37.786971, long: -122.399677},
		{name: "with altitude", raw: "geo:48.2010,16.3695,183", lat: 48.2010, long: 16.3695},
		{name: "with uncertainty", raw: "geo:13.4125,103.8667;u=10", lat: 13.4125, long: 103.8667},
		{name: "negative both", raw: "geo:-33.8688,-70.6693", lat: -33.8688, long: -70.6693},
		{name: "missing prefix", raw: "37.786971,-122.399677", err: true},
		{name: "no comma", raw: "geo:37.786971", err: true},
		{name: "garbage latitude", raw: "geo:north,-122.399677", err: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			geo, err := connector.ParseGeoURI(test.raw)
			if test.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.lat, geo.Lat)
			assert.Equal(t, test.long, geo.Long)
		})
	}
}

func TestGeoURIRoundTrip(t *testing.T) {
	uri := connector.GeoURIFromLatLong(59.9139, 10.7522).URI()
	geo, err := connector.ParseGeoURI(uri)
	require.NoError(t, err)
	assert.InDelta(t, 59.9139, geo.Lat, 1e-6)
	assert.InDelta(t, 10.7522, geo.Long, 1e-6)
}

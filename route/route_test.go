package route_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/switchboard/route"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		wantHops    []string
		wantMachine string
		expectError bool
	}{
		{
			name:        "hops and machine",
			path:        "background/42#selector-ux",
			wantHops:    []string{"background", "42"},
			wantMachine: "selector-ux",
		},
		{
			name:     "hops only",
			path:     "popup/background",
			wantHops: []string{"popup", "background"},
		},
		{
			name:        "machine only",
			path:        "#wave-toggle",
			wantMachine: "wave-toggle",
		},
		{
			name: "empty path",
			path: "",
		},
		{
			name:        "empty hop",
			path:        "background//42",
			expectError: true,
		},
		{
			name:        "empty machine",
			path:        "background#",
			expectError: true,
		},
		{
			name:        "double machine separator",
			path:        "background#a#b",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := route.Parse(tt.path)
			if tt.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, route.ErrInvalidPath)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantHops, addr.Hops)
			assert.Equal(t, tt.wantMachine, addr.Machine)
			assert.Equal(t, tt.path, addr.String())
		})
	}
}

func TestAddress_Rest(t *testing.T) {
	addr := route.MustParse("background/42#selector-ux")

	first, ok := addr.First()
	require.True(t, ok)
	assert.Equal(t, "background", first)

	rest := addr.Rest()
	assert.Equal(t, "42#selector-ux", rest.String())
	assert.False(t, rest.Terminal())

	last := rest.Rest()
	assert.True(t, last.Terminal())
	assert.Equal(t, "#selector-ux", last.String())

	_, ok = last.First()
	assert.False(t, ok)

	// Rest must not alias the original hop slice.
	assert.Equal(t, []string{"background", "42"}, addr.Hops)
}

func TestBuilder(t *testing.T) {
	path := route.NewAddress().
		Hop("background").
		Hop("17").
		Machine("wave").
		Path()

	assert.Equal(t, "background/17#wave", path)

	addr, err := route.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, route.NewAddress().Hop("background").Hop("17").Machine("wave").Build(), addr)
}

func TestParseLocation(t *testing.T) {
	for _, loc := range route.Locations() {
		got, err := route.ParseLocation(string(loc))
		require.NoError(t, err)
		assert.Equal(t, loc, got)
	}

	got, err := route.ParseLocation(" CONTENT ")
	require.NoError(t, err)
	assert.Equal(t, route.Content, got)

	_, err = route.ParseLocation("devtools")
	assert.ErrorIs(t, err, route.ErrInvalidLocation)
}

func TestDiscovery(t *testing.T) {
	assert.True(t, route.Discovery{From: route.Popup, To: route.Popup}.SelfLoop())
	assert.False(t, route.Discovery{From: route.Popup, To: route.Background}.SelfLoop())
	assert.Equal(t, "content->background", route.Discovery{From: route.Content, To: route.Background}.String())
	assert.True(t, route.Popup.Runtime())
	assert.True(t, route.Background.Runtime())
	assert.False(t, route.Content.Runtime())
}

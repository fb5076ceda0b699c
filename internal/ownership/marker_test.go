package ownership_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/gateway-cert-webhook/internal/ownership"
)

func TestParseMarker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value    string
		expected ownership.Marker
		valid    bool
	}{
		{value: "ns-a/vs-1", expected: ownership.Marker{Namespace: "ns-a", Name: "vs-1"}, valid: true},
		{value: "", valid: false},
		{value: "vs-1", valid: false},
		{value: "/vs-1", valid: false},
		{value: "ns-a/", valid: false},
		{value: "a/b/c", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()

			marker, err := ownership.ParseMarker(tt.value)

			if !tt.valid {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ownership.ErrMalformedMarker))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, marker)
			assert.Equal(t, tt.value, marker.String())
		})
	}
}

func TestParseGatewayRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ref      string
		expected ownership.GatewayRef
		valid    bool
	}{
		{
			name:     "system namespace",
			ref:      "istio-system/shared-gw",
			expected: ownership.GatewayRef{Namespace: "istio-system", Name: "shared-gw"},
			valid:    true,
		},
		{name: "other namespace", ref: "other-ns/gw"},
		{name: "empty", ref: ""},
		{name: "unqualified", ref: "shared-gw"},
		{name: "empty name", ref: "istio-system/"},
		{name: "extra segment", ref: "istio-system/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ref, err := ownership.ParseGatewayRef(tt.ref, "istio-system")

			if !tt.valid {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ownership.ErrNamespaceMismatch), "got %v", err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, ref)
		})
	}
}

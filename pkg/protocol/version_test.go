package protocol

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionIs(t *testing.T) {
	assert.True(t, HTTP09.Is(0, 9))
	assert.True(t, HTTP10.Is(1, 0))
	assert.True(t, HTTP11.Is(1, 1))
	assert.True(t, HTTP2.Is(2, 0))
	assert.True(t, HTTP20.Is(2, 0))
	assert.False(t, HTTP09.Is(2, 0))
}

func TestHTTPCanonicalInstances(t *testing.T) {
	tests := []struct {
		major, minor int
		want         *Version
	}{
		{0, 9, HTTP09},
		{1, 0, HTTP10},
		{1, 1, HTTP11},
		{2, 0, HTTP20},
		{2, 0, HTTP2},
	}

	for _, tt := range tests {
		got, err := HTTP(tt.major, tt.minor)
		require.NoError(t, err)
		assert.Same(t, tt.want, got, "HTTP(%d, %d)", tt.major, tt.minor)
		assert.True(t, tt.want.Equal(got))
	}

	other, err := HTTP(2, 1)
	require.NoError(t, err)
	assert.NotSame(t, HTTP20, other)
	assert.False(t, HTTP20.Equal(other))
}

func TestHTTPMatchesConstructed(t *testing.T) {
	for major := 0; major < 4; major++ {
		for minor := 0; minor < 12; minor++ {
			got, err := HTTP(major, minor)
			require.NoError(t, err)
			built, err := NewHTTPVersion(major, minor)
			require.NoError(t, err)
			assert.True(t, got.Equal(built), "%d.%d", major, minor)
		}
	}
}

func TestNewVersionRejectsNegative(t *testing.T) {
	tests := []struct {
		name         string
		major, minor int
	}{
		{"both negative", -1, -1},
		{"negative minor", 0, -1},
		{"negative major", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewHTTPVersion(tt.major, tt.minor)
			assert.Nil(t, v)
			assert.True(t, errors.Is(err, ErrInvalidVersion))

			_, err = HTTP(tt.major, tt.minor)
			assert.ErrorIs(t, err, ErrInvalidVersion)
		})
	}

	_, err := NewVersion("", 1, 1)
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestVersionEquality(t *testing.T) {
	v1, _ := NewHTTPVersion(1, 1)
	v2, _ := NewHTTPVersion(1, 1)

	assert.Equal(t, *v1, *v2)
	assert.True(t, v1.Equal(v2))
	assert.True(t, v1.Equal(HTTP11))
	assert.False(t, v1.Equal(HTTP10))

	lower, _ := NewVersion("http", 1, 1)
	assert.False(t, lower.Equal(HTTP11))
	assert.False(t, HTTP11.Equal(lower))

	var nilVersion *Version
	assert.False(t, HTTP11.Equal(nilVersion))
}

func TestVersionComparison(t *testing.T) {
	assert.True(t, HTTP09.LessEquals(HTTP11))
	assert.True(t, HTTP09.GreaterEquals(HTTP09))
	assert.False(t, HTTP09.GreaterEquals(HTTP10))
	assert.True(t, HTTP2.GreaterEquals(HTTP11))

	assert.Negative(t, HTTP10.Compare(HTTP11))
	assert.Positive(t, HTTP10.Compare(HTTP09))
	assert.Zero(t, HTTP10.Compare(HTTP10))

	spdy, _ := NewVersion("SPDY", 3, 1)
	assert.False(t, spdy.Comparable(HTTP11))
	assert.False(t, spdy.GreaterEquals(HTTP11))
	assert.False(t, spdy.LessEquals(HTTP11))
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "HTTP/1.1", want: "HTTP/1.1"},
		{in: " HTTP/1.0 ", want: "HTTP/1.0"},
		{in: "HTTP/2.0", want: "HTTP/2.0"},
		{in: "SPDY/3.1", want: "SPDY/3.1"},
		{in: "HTTP/1", wantErr: true},
		{in: "HTTP1.1", wantErr: true},
		{in: "HTTP/x.1", wantErr: true},
		{in: "HTTP/1.-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}

	v, err := ParseVersion("HTTP/1.1")
	require.NoError(t, err)
	assert.Same(t, HTTP11, v)
}

func TestVersionGobRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(HTTP11))

	clone := new(Version)
	require.NoError(t, gob.NewDecoder(&buf).Decode(clone))
	assert.True(t, HTTP11.Equal(clone))
}

func TestVersionJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Fallback *Version `json:"fallback"`
	}

	data, err := json.Marshal(wrapper{Fallback: HTTP10})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fallback":"HTTP/1.0"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, HTTP10.Equal(out.Fallback))
}

func TestVersionUnmarshalBinaryTruncated(t *testing.T) {
	v := new(Version)
	assert.ErrorIs(t, v.UnmarshalBinary(nil), ErrInvalidVersion)
	assert.ErrorIs(t, v.UnmarshalBinary([]byte{1}), ErrInvalidVersion)
	assert.ErrorIs(t, v.UnmarshalBinary([]byte{1, 1}), ErrInvalidVersion)
}

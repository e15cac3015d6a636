package cp2path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Components
		wantErr bool
	}{
		{in: "", wantErr: true},
		{in: ":", wantErr: true},
		{in: "ab::c", wantErr: true},
		{in: "a.zip", want: Components{"a.zip"}},
		{in: "a.zip:FILE", want: Components{"a.zip", "FILE"}},
		{in: "outer.zip:multipart.po:2:subdir:inner.shk:FILE",
			want: Components{"outer.zip", "multipart.po", "2", "subdir", "inner.shk", "FILE"}},
		// backslash escapes the delimiter
		{in: `a\:b:c`, want: Components{"a:b", "c"}},
		// backslash before a non-delimiter is preserved literally
		{in: `a\xb:c`, want: Components{`a\xb`, "c"}},
		// trailing unescaped backslash is discarded
		{in: `a\`, want: Components{"a"}},
		// drive-letter heuristic: colon at index 1 after a letter stays put
		{in: `C:\path\to\file`, want: Components{`C:\path\to\file`}},
		{in: `C:\path:to\file`, want: Components{`C:\path`, `to\file`}},
	} {
		got, err := Parse(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

// TestParseJoinRoundTrip checks property P1: parsing the Join of a
// Components list with no unescaped delimiters in any component
// reproduces the same list.
func TestParseJoinRoundTrip(t *testing.T) {
	cases := []Components{
		{"a.zip"},
		{"a.zip", "FILE"},
		{"outer.zip", "multipart.po", "2", "subdir", "inner.shk", "FILE"},
		{"has:colon.txt", "b"},
	}
	for _, comps := range cases {
		joined := Join(comps)
		got, err := Parse(joined)
		require.NoError(t, err, joined)
		assert.Equal(t, comps, got, joined)
	}
}

func TestParseEmptyComponents(t *testing.T) {
	for _, in := range []string{"", ":a", "ab:", "ab::c"} {
		_, err := Parse(in)
		require.Error(t, err, in)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrEmptyComponent, perr.Kind)
	}
}

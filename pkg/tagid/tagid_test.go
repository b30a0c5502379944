package tagid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "uppercase", input: "ABCD", want: "ABCD"},
		{name: "lowercase", input: "abcd", want: "ABCD"},
		{name: "mixed", input: "aBcD01", want: "ABCD01"},
		{name: "odd length", input: "abc", wantErr: true},
		{name: "padded odd length", input: "0abc", want: "0ABC"},
		{name: "not hex", input: "XYZ1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTagID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCaseInsensitiveEquality(t *testing.T) {
	assert.Equal(t, MustParse("abcd"), MustParse("ABCD"))
	assert.NotEqual(t, MustParse("abcd"), MustParse("adcb"))
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(MustParse("deff"))
	require.NoError(t, err)
	assert.JSONEq(t, `"DEFF"`, string(data))

	var id TagID
	require.NoError(t, json.Unmarshal([]byte(`"deff"`), &id))
	assert.Equal(t, MustParse("DEFF"), id)

	assert.ErrorIs(t, json.Unmarshal([]byte(`"nothex"`), &id), ErrInvalidTagID)
	assert.ErrorIs(t, json.Unmarshal([]byte(`12`), &id), ErrInvalidTagID)
}

func TestTextRoundTrip(t *testing.T) {
	for _, s := range []string{"0A", "ABCD", "00FF10", "0ABC"} {
		id := MustParse(s)
		text, err := id.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, s, string(text))

		var back TagID
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, id, back)
	}
}

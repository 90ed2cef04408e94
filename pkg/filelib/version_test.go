package filelib_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		token  string
		valid  bool
		base   string
		suffix string
	}{
		{token: "pygmi", valid: true, base: "pygmi"},
		{token: "watussi", valid: true, base: "watussi"},
		{token: "watussi_thumbnail", valid: true, base: "watussi", suffix: "thumbnail"},
		{token: "Thumb2", valid: true, base: "Thumb2"},
		{token: "pygmi@mod", valid: false},
		{token: "watussi::xoo:xoo", valid: false},
		{token: "watussi__thumbnail", valid: false},
		{token: "a_b_c", valid: false},
		{token: "_thumbnail", valid: false},
		{token: "watussi_", valid: false},
		{token: "", valid: false},
		{token: "ääkkönen", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			v, err := filelib.ParseVersion(tt.token)
			if !tt.valid {
				require.Error(t, err)
				assert.ErrorIs(t, err, filelib.ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.base, v.Base())
			assert.Equal(t, tt.suffix, v.Suffix())
			assert.Equal(t, tt.suffix != "", v.HasSuffix())
			assert.Equal(t, tt.token, v.String())
		})
	}
}

func TestVersion_WithoutSuffix(t *testing.T) {
	v := filelib.MustParseVersion("watussi_thumbnail")
	assert.Equal(t, "watussi", v.WithoutSuffix().String())
	assert.Equal(t, filelib.MustParseVersion("watussi"), v.WithoutSuffix())
}

func TestNewVersion(t *testing.T) {
	v, err := filelib.NewVersion("watussi", "")
	require.NoError(t, err)
	assert.Equal(t, "watussi", v.String())

	v, err = filelib.NewVersion("watussi", "thumbnail")
	require.NoError(t, err)
	assert.Equal(t, "watussi_thumbnail", v.String())

	_, err = filelib.NewVersion("watussi", "thumb_nail")
	assert.ErrorIs(t, err, filelib.ErrInvalidVersion)
}

func TestVersion_JSON(t *testing.T) {
	file := &filelib.File{Name: "cat.jpg"}
	file.AddVersion(filelib.MustParseVersion("thumb"))
	file.AddVersion(filelib.MustParseVersion("thumb_thumbnail"))

	data, err := json.Marshal(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"versions":["thumb","thumb_thumbnail"]`)

	var decoded filelib.File
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.HasVersion(filelib.MustParseVersion("thumb_thumbnail")))

	err = json.Unmarshal([]byte(`{"versions":["bad@token"]}`), &decoded)
	assert.ErrorIs(t, err, filelib.ErrInvalidVersion)
}

func TestParseVersions(t *testing.T) {
	versions, err := filelib.ParseVersions([]string{"a", " b_thumbnail "})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b_thumbnail"}, filelib.VersionStrings(versions))

	_, err = filelib.ParseVersions([]string{"a", "b@"})
	assert.Error(t, err)
}

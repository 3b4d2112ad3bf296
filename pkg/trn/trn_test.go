package trn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	s := "trn:user:alice:tool:openapi::getUserById:v1.0:"
	got, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, "user", got.Platform)
	assert.Equal(t, "alice", got.Scope)
	assert.Equal(t, "tool", got.ResourceType)
	assert.Equal(t, "openapi", got.Type)
	assert.Equal(t, "", got.Subtype)
	assert.Equal(t, "getUserById", got.InstanceID)
	assert.Equal(t, "v1.0", got.Version)
	assert.Equal(t, "", got.Tag)
	assert.Equal(t, "", got.Hash)
}

func TestParse_WithHash(t *testing.T) {
	s := "trn:org:acme:dataset:csv:batch:orders:v2:stable@sha256:" + strings.Repeat("a", 64)
	got, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, "stable", got.Tag)
	assert.Equal(t, "sha256:"+strings.Repeat("a", 64), got.Hash)
}

func TestParse_InvalidHashLength(t *testing.T) {
	s := "trn:org:acme:dataset:csv:batch:orders:v2:stable@sha256:abcd"
	_, err := Parse(s)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "hash", pe.Component)
}

func TestParse_UnsupportedPlatform(t *testing.T) {
	_, err := Parse("trn:evil:alice:tool:openapi::x:v1:")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "platform", pe.Component)
}

func TestParse_ReservedWord(t *testing.T) {
	_, err := Parse("trn:user:admin:tool:openapi::x:v1:")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "scope", pe.Component)
}

func TestParse_ReservedWordDunderSuffixed(t *testing.T) {
	_, err := Parse("trn:user:alice:tool:openapi::custom__:v1:")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "instance_id", pe.Component)
}

func TestParse_WrongComponentCount(t *testing.T) {
	_, err := Parse("trn:user:alice:tool")
	require.Error(t, err)
}

func TestParse_MissingPrefix(t *testing.T) {
	_, err := Parse("invalid:trn:format:tool:openapi::x:v1:")
	require.Error(t, err)
}

func TestParse_TooShort(t *testing.T) {
	_, err := Parse("trn:a:")
	require.Error(t, err)
}

func TestBuild_RoundTrip(t *testing.T) {
	candidates := []string{
		"trn:user:alice:tool:openapi::getUserById:v1.0:",
		"trn:org:acme:dataset:csv:batch:orders:v2:stable",
		"trn:aiplatform::model:python:async:train-job:v3:beta",
	}
	for _, s := range candidates {
		t.Run(s, func(t *testing.T) {
			parsed, err := Parse(s)
			require.NoError(t, err)

			rebuilt, err := Build(Components{
				Platform:     parsed.Platform,
				Scope:        parsed.Scope,
				ResourceType: parsed.ResourceType,
				Type:         parsed.Type,
				Subtype:      parsed.Subtype,
				InstanceID:   parsed.InstanceID,
				Version:      parsed.Version,
				Tag:          parsed.Tag,
			})
			require.NoError(t, err)
			assert.Equal(t, s, rebuilt)
		})
	}
}

func TestBuild_InvalidComponent(t *testing.T) {
	_, err := Build(Components{
		Platform:     "USER",
		Scope:        "alice",
		ResourceType: "tool",
		Type:         "openapi",
		InstanceID:   "x",
		Version:      "v1",
	})
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "platform", be.Component)
}

func TestBuild_WithValidHash(t *testing.T) {
	s, err := Build(Components{
		Platform:     "user",
		Scope:        "alice",
		ResourceType: "tool",
		Type:         "openapi",
		InstanceID:   "x",
		Version:      "v1",
		Hash:         "md5:" + strings.Repeat("f", 32),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s, "@md5:"+strings.Repeat("f", 32)))
}

func TestCompatible(t *testing.T) {
	a, err := Parse("trn:user:alice:tool:openapi::getUserById:v1:")
	require.NoError(t, err)
	b, err := Parse("trn:user:alice:tool:openapi::getUserById:v2:stable")
	require.NoError(t, err)
	c, err := Parse("trn:user:alice:tool:openapi::createUser:v1:")
	require.NoError(t, err)

	assert.True(t, Compatible(a, b))
	assert.False(t, Compatible(a, c))
}

func TestHashAlgorithmHexLength(t *testing.T) {
	tests := []struct {
		alg    string
		want   int
		wantOK bool
	}{
		{"md5", 32, true},
		{"sha1", 40, true},
		{"sha256", 64, true},
		{"sha512", 128, true},
		{"crc32", 8, true},
		{"bogus", 0, false},
	}
	for _, tt := range tests {
		got, ok := HashAlgorithmHexLength(tt.alg)
		assert.Equal(t, tt.wantOK, ok, tt.alg)
		assert.Equal(t, tt.want, got, tt.alg)
	}
}

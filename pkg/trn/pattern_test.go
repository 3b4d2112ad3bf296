package trn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches_Wildcards(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		concrete string
		want    bool
	}{
		{
			name:     "exact match",
			pattern:  "trn:user:alice:tool:openapi::getUserById:v1:",
			concrete: "trn:user:alice:tool:openapi::getUserById:v1:",
			want:     true,
		},
		{
			name:     "wildcard instance_id",
			pattern:  "trn:user:alice:tool:openapi::*:v1:",
			concrete: "trn:user:alice:tool:openapi::getUserById:v1:",
			want:     true,
		},
		{
			name:     "wildcard scope, mismatch on platform",
			pattern:  "trn:user:*:tool:openapi::getUserById:v1:",
			concrete: "trn:org:acme:tool:openapi::getUserById:v1:",
			want:     false,
		},
		{
			name:     "prefix wildcard in instance_id",
			pattern:  "trn:user:alice:tool:openapi::get*:v1:",
			concrete: "trn:user:alice:tool:openapi::getUserById:v1:",
			want:     true,
		},
		{
			name:     "empty component matches only empty",
			pattern:  "trn:user:alice:tool:openapi::getUserById:v1:",
			concrete: "trn:user:alice:tool:openapi:batch:getUserById:v1:",
			want:     false,
		},
		{
			name:     "hash ignored when pattern has none",
			pattern:  "trn:user:alice:tool:openapi::getUserById:v1:",
			concrete: "trn:user:alice:tool:openapi::getUserById:v1:@md5:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			want:     true, // a pattern with no hash suffix matches regardless of the concrete TRN's hash
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Matches(tt.pattern, tt.concrete)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches_HashSuffix(t *testing.T) {
	concrete := "trn:user:alice:tool:openapi::getUserById:v1:@md5:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	got, err := Matches("trn:user:alice:tool:openapi::getUserById:v1:@md5:*", concrete)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestMatches_AllWildcard(t *testing.T) {
	got, err := Matches("trn:*:*:*:*:*:*:*:*", "trn:user:alice:tool:openapi::getUserById:v1:")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCompilePattern_InvalidShape(t *testing.T) {
	_, err := CompilePattern("trn:user:alice")
	require.Error(t, err)
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher(
		"trn:user:alice:tool:*:*:*:*:*",
		"trn:org:*:dataset:*:*:*:*:*",
	)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	assert.True(t, m.Matches("trn:user:alice:tool:openapi::getUserById:v1:"))
	assert.True(t, m.Matches("trn:org:acme:dataset:csv:batch:orders:v2:stable"))
	assert.False(t, m.Matches("trn:user:bob:tool:openapi::getUserById:v1:"))

	matching := m.MatchingPatterns("trn:user:alice:tool:openapi::getUserById:v1:")
	assert.Equal(t, []string{"trn:user:alice:tool:*:*:*:*:*"}, matching)

	filtered := m.Filter([]string{
		"trn:user:alice:tool:openapi::getUserById:v1:",
		"trn:user:bob:tool:openapi::getUserById:v1:",
	})
	assert.Len(t, filtered, 1)

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Matches("trn:user:alice:tool:openapi::getUserById:v1:"))
}

func TestMatcher_EmptyMatchesNothing(t *testing.T) {
	m, err := NewMatcher()
	require.NoError(t, err)
	assert.False(t, m.Matches("trn:user:alice:tool:openapi::getUserById:v1:"))
}

package canon_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/crawlcoord/internal/canon"
	"github.com/north-cloud/crawlcoord/internal/domain"
)

func TestDomain_Basics(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare host", "Example.com", "example.com"},
		{"with scheme", "https://Example.com/path", "example.com"},
		{"strips www", "www.example.com", "example.com"},
		{"strips trailing dot", "example.com.", "example.com"},
		{"strips default https port", "example.com:443", "example.com"},
		{"strips default http port", "http://example.com:80", "example.com"},
		{"keeps non-default port", "example.com:8080", "example.com:8080"},
		{"mixed case with www and port", "WWW.Example.COM:443", "example.com"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := canon.Domain(tc.in, canon.Options{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDomain_IDN(t *testing.T) {
	got, err := canon.Domain("münchen.de", canon.Options{})
	require.NoError(t, err)
	assert.Equal(t, "xn--mnchen-3ya.de", got)

	again, err := canon.Domain(got, canon.Options{})
	require.NoError(t, err)
	assert.Equal(t, got, again, "re-canonicalizing an already-punycoded host must be a no-op")
}

func TestDomain_StripSubdomains(t *testing.T) {
	got, err := canon.Domain("blog.example.co.uk", canon.Options{StripSubdomains: true})
	require.NoError(t, err)
	assert.Equal(t, "example.co.uk", got)

	kept, err := canon.Domain("blog.example.co.uk", canon.Options{})
	require.NoError(t, err)
	assert.Equal(t, "blog.example.co.uk", kept)
}

func TestDomain_EmptyInput(t *testing.T) {
	_, err := canon.Domain("", canon.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestDomain_Idempotent(t *testing.T) {
	inputs := []string{
		"WWW.Example.com.",
		"https://Example.COM:443/foo",
		"münchen.de",
		"example.com:8080",
	}
	for _, in := range inputs {
		ok, err := canon.Idempotent(in, canon.Options{})
		require.NoError(t, err)
		assert.True(t, ok, "canon(canon(%q)) should equal canon(%q)", in, in)
	}
}

func TestDomain_IPv6Untouched(t *testing.T) {
	got, err := canon.Domain("http://[::1]:8080/", canon.Options{})
	require.NoError(t, err)
	assert.Equal(t, "[::1]:8080", got)
}

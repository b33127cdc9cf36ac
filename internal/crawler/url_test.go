package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTPS://WHC.unesco.org:443/en/list/7#top": "https://whc.unesco.org/en/list/7",
		"http://whc.unesco.org:80/en/list/?b=2&a=1": "http://whc.unesco.org/en/list/?a=1&b=2",
		" https://whc.unesco.org:8443/en/list/7 ":   "https://whc.unesco.org:8443/en/list/7",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("http://[::1")
	require.Error(t, err)
}

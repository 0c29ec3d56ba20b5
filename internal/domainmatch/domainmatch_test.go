package domainmatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/domainmatch"
)

func TestGroup_SuffixMatch(t *testing.T) {
	g, err := domainmatch.Build([]string{
		"# a comment",
		"",
		"domain.geek",
		"full:domain.bbs",
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		want bool
	}{
		{"domain.geek", true},
		{"www.domain.geek", true},
		{"api.www.domain.geek", true},
		{"domain.bbs", true},
		{"sub.domain.bbs", true},
		{"domain.abc", false},
		{"geek", false},
		{"notdomain.geek", false},
	}

	for _, tc := range tests {
		assert.Equalf(t, tc.want, domainmatch.Matches(g, tc.name), "name=%s", tc.name)
	}
}

func TestGroup_RegexpMatch(t *testing.T) {
	g, err := domainmatch.Build([]string{
		`regexp:^ads?\.example\.com$`,
	})
	require.NoError(t, err)

	assert.True(t, domainmatch.Matches(g, "ad.example.com"))
	assert.True(t, domainmatch.Matches(g, "ads.example.com"))
	assert.False(t, domainmatch.Matches(g, "adsx.example.com"))
}

func TestGroup_TrailingDotAndCase(t *testing.T) {
	g, err := domainmatch.Build([]string{"Example.COM"})
	require.NoError(t, err)

	assert.True(t, domainmatch.Matches(g, "www.example.com."))
	assert.True(t, domainmatch.Matches(g, "EXAMPLE.COM"))
}

func TestGroup_InvalidRegexp(t *testing.T) {
	_, err := domainmatch.Build([]string{"regexp:("})
	assert.Error(t, err)
}

func TestGroup_Empty(t *testing.T) {
	g, err := domainmatch.Build(nil)
	require.NoError(t, err)
	assert.False(t, domainmatch.Matches(g, "anything.example.com"))
}

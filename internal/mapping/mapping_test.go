package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMappings() *Mappings {
	return &Mappings{Items: []Mapping{
		{Search: "webserver", TagName: "webserver", HostPrefix: "web-"},
		{Search: "import", TagName: "import", HostPrefix: "import-"},
	}}
}

func TestMapFirstMatchWins(t *testing.T) {
	ms := &Mappings{Items: []Mapping{
		{Search: "prod", TagName: "first", HostPrefix: "a-"},
		{Search: "prod-web", TagName: "second", HostPrefix: "b-"},
	}}

	m := ms.Map("prod-webserver-asg")
	require.NotNil(t, m)
	assert.Equal(t, "first", m.TagName)
}

func TestMapSubstringMatch(t *testing.T) {
	ms := testMappings()

	m := ms.Map("my-prod-webserver-asg-1")
	require.NotNil(t, m)
	assert.Equal(t, "webserver", m.TagName)
	assert.Equal(t, "web-", m.HostPrefix)

	m = ms.Map("import-batch-asg")
	require.NotNil(t, m)
	assert.Equal(t, "import", m.TagName)
}

func TestMapMissReturnsNil(t *testing.T) {
	ms := testMappings()
	assert.Nil(t, ms.Map("database-asg"))
	assert.Nil(t, ms.Map(""))
}

func TestMatchesIsCaseSensitive(t *testing.T) {
	m := &Mapping{Search: "webserver"}
	assert.True(t, m.Matches("prod-webserver-1"))
	assert.False(t, m.Matches("prod-Webserver-1"))
}

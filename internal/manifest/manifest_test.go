package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndEncode(t *testing.T) {
	m, err := Parse([]byte(`{"b.js":"h2","/":"h0","a.js":"h1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "a.js", "b.js"}, m.Keys())

	encoded, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"/":"h0","a.js":"h1","b.js":"h2"}`, string(encoded))
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	for name, raw := range map[string]string{
		"array":      `["a.js"]`,
		"null":       `null`,
		"empty key":  `{"":"h1"}`,
		"non-string": `{"a.js":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestStale(t *testing.T) {
	prev := Manifest{"a.js": "h1", "b.js": "h2"}
	next := Manifest{"a.js": "h1", "b.js": "h3", "c.js": "h4"}

	assert.False(t, Stale(prev, next, "a.js"), "unchanged fingerprint must be kept")
	assert.True(t, Stale(prev, next, "b.js"), "changed fingerprint is stale")
	assert.True(t, Stale(prev, next, "c.js"), "key unknown to previous manifest is stale")
	assert.True(t, Stale(prev, next, "gone.js"), "key absent from next manifest is stale")
}

func TestCoreSetDeduplicatesAndKeepsOrder(t *testing.T) {
	core, err := ParseCoreSet([]byte(`["main.js"," index.html","main.js",""]`))
	require.NoError(t, err)
	assert.Equal(t, CoreSet{"main.js", "index.html"}, core)

	_, err = ParseCoreSet([]byte(`[]`))
	assert.Error(t, err)
}

func TestNewBundle(t *testing.T) {
	m := Manifest{"/": "h0", "main.js": "h1"}

	bundle, err := NewBundle(m, CoreSet{"main.js"})
	require.NoError(t, err)
	assert.Len(t, bundle.ID, 40)
	assert.Len(t, bundle.ShortID(), 12)

	same, err := NewBundle(Manifest{"main.js": "h1", "/": "h0"}, CoreSet{"main.js"})
	require.NoError(t, err)
	assert.Equal(t, bundle.ID, same.ID, "identical inputs produce the same deployment id")

	changed, err := NewBundle(Manifest{"/": "h0", "main.js": "h2"}, CoreSet{"main.js"})
	require.NoError(t, err)
	assert.NotEqual(t, bundle.ID, changed.ID)

	_, err = NewBundle(m, CoreSet{"missing.js"})
	assert.ErrorContains(t, err, "missing.js")
}

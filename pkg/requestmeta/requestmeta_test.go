package requestmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientInfo(t *testing.T) {
	t.Run("empty user agent", func(t *testing.T) {
		_, ok := Metadata{}.ClientInfo()
		assert.False(t, ok)
	})

	t.Run("desktop browser", func(t *testing.T) {
		meta := Metadata{UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"}
		info, ok := meta.ClientInfo()
		require.True(t, ok)
		assert.Equal(t, "Firefox", info.Browser)
		assert.Equal(t, "120.0", info.BrowserVersion)
		assert.False(t, info.Mobile)
		assert.False(t, info.Bot)
	})

	t.Run("crawler", func(t *testing.T) {
		meta := Metadata{UserAgent: "Googlebot/2.1 (+http://www.google.com/bot.html)"}
		info, ok := meta.ClientInfo()
		require.True(t, ok)
		assert.True(t, info.Bot)
	})
}

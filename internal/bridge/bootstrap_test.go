package bridge

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBootstrapDefaults(t *testing.T) {
	script, err := RenderBootstrap(BootstrapConfig{})
	require.NoError(t, err)

	prefix, body, ok := strings.Cut(script, ";\n")
	require.True(t, ok)
	lit := strings.TrimPrefix(prefix, "window.__donaShellConfig = ")

	var cfg BootstrapConfig
	require.NoError(t, json.Unmarshal([]byte(lit), &cfg))
	assert.Equal(t, BindingName, cfg.Binding)
	assert.Equal(t, "authToken", cfg.TokenKey)
	assert.Empty(t, cfg.Token)

	assert.Contains(t, body, "__donaShellInstalled")
	assert.Contains(t, body, "ReactNativeWebView")
}

func TestRenderBootstrapQuotesToken(t *testing.T) {
	script, err := RenderBootstrap(BootstrapConfig{Token: `a"b</script>`})
	require.NoError(t, err)
	assert.NotContains(t, script, `a"b</script>`)
	assert.Contains(t, script, `"token":"a\"b\u003c/script\u003e"`)
}

// Token seeding has to run before the install guard so a second injection
// on the same document still refreshes the token.
func TestBootstrapSeedsTokenBeforeGuard(t *testing.T) {
	script, err := RenderBootstrap(BootstrapConfig{Token: "t"})
	require.NoError(t, err)
	seed := strings.Index(script, "cfg.tokenKey")
	guard := strings.Index(script, "if (window.__donaShellInstalled) return;")
	require.GreaterOrEqual(t, seed, 0)
	require.Greater(t, guard, 0)
	assert.Less(t, seed, guard)
}

func TestRenderBootstrapClearToken(t *testing.T) {
	script, err := RenderBootstrap(BootstrapConfig{ClearToken: true})
	require.NoError(t, err)
	assert.Contains(t, script, `"clearToken":true`)
	assert.Contains(t, script, "localStorage.removeItem(cfg.tokenKey)")

	script, err = RenderBootstrap(BootstrapConfig{Token: "t"})
	require.NoError(t, err)
	assert.NotContains(t, script, `"clearToken"`)
}

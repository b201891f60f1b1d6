//go:build integration

package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/12jason0/DoNa-sub000/internal/config"
	"github.com/12jason0/DoNa-sub000/internal/deeplink"
	"github.com/12jason0/DoNa-sub000/internal/urlpolicy"
)

// The page counts MutationObservers and reports a token as soon as the bridge
// shim shows up.
const integrationPage = `<!doctype html><html><body><h1>dona</h1><script>
window.__observers = 0;
var NativeObserver = window.MutationObserver;
window.MutationObserver = function (cb) { window.__observers++; return new NativeObserver(cb); };
window.__firstShim = window.ReactNativeWebView;
var t = setInterval(function () {
  if (!window.ReactNativeWebView) return;
  clearInterval(t);
  window.ReactNativeWebView.postMessage(JSON.stringify({ type: "setAuthToken", token: "from-page" }));
}, 50);
</script></body></html>`

func TestChromeSurface_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(integrationPage))
	}))
	defer srv.Close()

	policy, err := urlpolicy.New(urlpolicy.Lists{
		AppOrigin:     srv.URL,
		AppScheme:     "dona",
		NativeSchemes: []string{"kakaotalk"},
	})
	require.NoError(t, err)
	f := newFixture(t, func(o *Options) {
		o.Policy = policy
		o.Links = deeplink.NewResolver(deeplink.Config{
			Origin:    srv.URL,
			AppScheme: "dona",
			Prefixes:  []string{"/courses"},
		})
		o.ActionTimeout = 10 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.ctrl.Run(ctx)

	b := New(&config.RuntimeConfig{
		Headless:        true,
		ProfileDir:      t.TempDir(),
		ChromeBinary:    os.Getenv("CHROME_BINARY"),
		NavigateTimeout: 20 * time.Second,
	}, f.ctrl)
	require.NoError(t, b.Start(ctx, srv.URL+"/"))
	defer b.Shutdown()

	require.Eventually(t, func() bool { return f.machine.Token() == "from-page" },
		15*time.Second, 100*time.Millisecond, "token posted by the page never arrived")

	require.True(t, f.ctrl.HandleDeepLink(ctx, "dona://success?next=/courses/3"))
	require.Eventually(t, func() bool { return strings.HasSuffix(f.ctrl.Status().URL, "/courses/3") },
		15*time.Second, 100*time.Millisecond, "deep link did not move the surface")

	require.NoError(t, f.ctrl.inject(ctx, `location.href = "kakaotalk://open?x=1";`))
	require.Eventually(t, func() bool {
		_, schemes := f.platform.opened()
		return slices.Contains(schemes, "kakaotalk://open?x=1")
	}, 10*time.Second, 100*time.Millisecond, "native scheme was not handed off")
	require.True(t, strings.HasSuffix(f.ctrl.Status().URL, "/courses/3"), "surface must stay on the page")

	// running the bootstrap again on a live document changes nothing
	_, events, unsubscribe := f.ctrl.Hub().Subscribe(256)
	defer unsubscribe()
	script, err := RenderBootstrap(f.ctrl.opts.Bootstrap)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.inject(ctx, script))
	require.NoError(t, f.ctrl.inject(ctx, script))

	var state struct {
		Observers int  `json:"observers"`
		SameShim  bool `json:"sameShim"`
		Installed bool `json:"installed"`
	}
	require.NoError(t, chromedp.Run(b.BrowserCtx, chromedp.Evaluate(`({
		observers: window.__observers,
		sameShim: !!window.__firstShim && window.ReactNativeWebView === window.__firstShim,
		installed: window.__donaShellInstalled === true
	})`, &state)))
	assert.Equal(t, 1, state.Observers, "one appearance observer")
	assert.True(t, state.SameShim, "shim is installed once")
	assert.True(t, state.Installed)

	require.NoError(t, f.ctrl.inject(ctx, `window.ReactNativeWebView.postMessage({ type: "integrationPing" });`))
	deadline := time.After(2 * time.Second)
	pings := 0
collect:
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventInbound && ev.Type == "integrationPing" {
				pings++
			}
		case <-deadline:
			break collect
		}
	}
	assert.Equal(t, 1, pings, "one delivery per post")
}

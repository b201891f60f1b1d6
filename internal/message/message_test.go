package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownTypes(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{`{"type":"setAuthToken","token":"abc"}`, SetAuthToken{Token: "abc"}},
		{`{"type":"login","userId":"42"}`, Login{UserID: "42"}},
		{`{"type":"loginSuccess","userId":42}`, Login{UserID: "42"}},
		{`{"type":"logout"}`, Logout{}},
		{`{"type":"darkModeChange","isDark":true}`, DarkModeChange{IsDark: true}},
		{`{"type":"openExternalBrowser","url":"https://example.com"}`, OpenExternalBrowser{URL: "https://example.com"}},
		{`{"type":"requestInAppPurchase","planId":"sub_basic","planType":"subscription","courseId":9}`,
			PurchaseRequest{PlanID: "sub_basic", PlanType: "subscription", CourseID: "9"}},
		{`{"type":"appleLogin"}`, AppleLogin{}},
	}
	for _, tt := range tests {
		msg, err := Decode(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, msg.Body, tt.raw)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"not json",
		"[1,2]",
		`{"type":""}`,
		`{"userId":"1"}`,
		`{"type":"login"}`,
		`{"type":"login","userId":{"x":1}}`,
		`{"type":"setAuthToken"}`,
		`{"type":"requestInAppPurchase","planType":"x"}`,
		`{"type":"openExternalBrowser","url":""}`,
	} {
		_, err := Decode(raw)
		assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed for %q, got %v", raw, err)
	}
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	msg, err := Decode(`{"type":"somethingFutureFeature","x":1}`)
	require.NoError(t, err)
	assert.Equal(t, Unknown{Type: "somethingFutureFeature"}, msg.Body)
}

func TestEncodeMergesType(t *testing.T) {
	out, err := Encode(TypeLogin, map[string]any{"userId": "42"})
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]string{"type": "login", "userId": "42"}, got)

	out, err = Encode(TypeLogout, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"logout"}`, out)

	_, err = Encode(TypeLogin, "not an object")
	assert.Error(t, err)
}

func TestEncodeEscapesScriptBreakers(t *testing.T) {
	payload := map[string]string{"token": "</script><script>alert(1)</script>\u2028\u2029'\"\\"}
	out, err := Encode(TypeSetAuthToken, payload)
	require.NoError(t, err)
	assertScriptSafe(t, out)

	msg, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, SetAuthToken{Token: payload["token"]}, msg.Body)
}

func TestDispatchEventScript(t *testing.T) {
	script, err := DispatchEventScript(EventPurchaseResult, map[string]any{"success": false, "error": "</script>"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(script, `window.dispatchEvent(new CustomEvent("purchaseResult", { detail: {`))
	assertScriptSafe(t, script)
}

func TestNavigateScripts(t *testing.T) {
	assert.Equal(t, `window.location.href = "/courses/9";`, NavigateScript("/courses/9"))
	assert.Equal(t, `window.location.replace("https://a.b/\"x");`, ReplaceScript(`https://a.b/"x`))
}

func assertScriptSafe(t *testing.T, s string) {
	t.Helper()
	for _, bad := range []string{"<", ">", "\u2028", "\u2029"} {
		assert.NotContains(t, s, bad)
	}
}

func FuzzEncodeRoundTrip(f *testing.F) {
	for _, seed := range []string{
		"plain",
		`"quoted"`,
		`back\slash`,
		"</script>",
		"line\u2028sep\u2029",
		"<!--",
		"\x00nul",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, s string) {
		out, err := Encode(TypeSetAuthToken, map[string]string{"token": s})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if strings.ContainsAny(out, "<>\u2028\u2029") {
			t.Fatalf("unsafe output %q", out)
		}
		var back map[string]string
		if err := json.Unmarshal([]byte(out), &back); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if back["type"] != string(TypeSetAuthToken) {
			t.Fatalf("type lost: %q", out)
		}
		lit := ScriptString(s)
		if strings.ContainsAny(lit, "<>\u2028\u2029") {
			t.Fatalf("unsafe literal %q", lit)
		}
	})
}

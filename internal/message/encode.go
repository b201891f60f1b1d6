package message

import (
	"encoding/json"
	"fmt"
)

// Encode produces {"type": t, ...payload} as a JSON object. The result is a
// valid JavaScript expression: json.Marshal escapes <, >, &, U+2028 and
// U+2029, so the text cannot close a surrounding <script> or string context.
func Encode(t Type, payload any) (string, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", t, err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return "", fmt.Errorf("encode %s: payload must be an object: %w", t, err)
		}
	}
	typ, _ := json.Marshal(string(t))
	fields["type"] = typ
	out, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", t, err)
	}
	return string(out), nil
}

// Literal marshals v as a script-safe JSON value.
func Literal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ScriptString quotes s as a JavaScript string literal.
func ScriptString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// DispatchEventScript returns a statement that fires a CustomEvent on window
// with detail as its payload.
func DispatchEventScript(name string, detail any) (string, error) {
	lit, err := Literal(detail)
	if err != nil {
		return "", fmt.Errorf("dispatch %s: %w", name, err)
	}
	return fmt.Sprintf("window.dispatchEvent(new CustomEvent(%s, { detail: %s }));", ScriptString(name), lit), nil
}

// NavigateScript assigns location.href; used when the surface has already
// loaded and will not react to a changed source by itself.
func NavigateScript(url string) string {
	return "window.location.href = " + ScriptString(url) + ";"
}

// ReplaceScript swaps the current history entry for url.
func ReplaceScript(url string) string {
	return "window.location.replace(" + ScriptString(url) + ");"
}

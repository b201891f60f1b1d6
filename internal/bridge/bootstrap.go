package bridge

import (
	"fmt"

	"github.com/12jason0/DoNa-sub000/internal/assets"
	"github.com/12jason0/DoNa-sub000/internal/message"
)

// BindingName is the runtime binding the page shim posts messages through.
const BindingName = "__donaShellPost"

// BootstrapConfig is handed to the bootstrap script as window.__donaShellConfig.
type BootstrapConfig struct {
	Binding      string `json:"binding"`
	Token        string `json:"token,omitempty"`
	// ClearToken removes TokenKey from web storage when no token is set.
	ClearToken   bool   `json:"clearToken,omitempty"`
	TokenKey     string `json:"tokenKey"`
	SessionURL   string `json:"sessionURL,omitempty"`
	AuthCookie   string `json:"authCookie,omitempty"`
	AppearanceMs int64  `json:"appearanceMs"`
	FlushMs      int64  `json:"flushMs"`
}

// RenderBootstrap prefixes the embedded bootstrap with its configuration.
// Running the result more than once on a document only refreshes the token.
func RenderBootstrap(cfg BootstrapConfig) (string, error) {
	if cfg.Binding == "" {
		cfg.Binding = BindingName
	}
	if cfg.TokenKey == "" {
		cfg.TokenKey = "authToken"
	}
	lit, err := message.Literal(cfg)
	if err != nil {
		return "", fmt.Errorf("render bootstrap: %w", err)
	}
	return "window.__donaShellConfig = " + lit + ";\n" + assets.BootstrapJS, nil
}

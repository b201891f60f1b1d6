// Package message implements the wire format of the page <-> shell bridge.
//
// Messages travel as JSON strings over a single channel in both directions.
// Inbound messages are decoded into typed bodies; outbound payloads are
// encoded so they can be spliced into script text without breaking out of it.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type is the message discriminator carried in the "type" field.
type Type string

const (
	TypeSetAuthToken         Type = "setAuthToken"
	TypeLogin                Type = "login"
	TypeLoginSuccess         Type = "loginSuccess"
	TypeLogout               Type = "logout"
	TypeDarkModeChange       Type = "darkModeChange"
	TypeKakaoShare           Type = "kakaoShare"
	TypeOpenExternalBrowser  Type = "openExternalBrowser"
	TypeRequestInAppPurchase Type = "requestInAppPurchase"
	TypeAppleLogin           Type = "appleLogin"
)

// Outbound DOM event names dispatched into the page.
const (
	EventPurchaseResult          = "purchaseResult"
	EventSubscriptionTierUpdated = "subscriptionTierUpdated"
	EventPaymentSuccess          = "paymentSuccess"
	EventProductsLoaded          = "revenueCatProductsLoaded"
	EventAppleLoginResult        = "appleLoginResult"
)

// ErrMalformed is returned by Decode for input that cannot be a bridge message.
var ErrMalformed = errors.New("malformed bridge message")

// Message is one decoded bridge message. Body holds one of the typed
// payload structs below, or Unknown for types this build does not handle.
type Message struct {
	Type Type
	Body any
	Raw  string
}

type SetAuthToken struct {
	Token string `json:"token"`
}

// Login covers both "login" and "loginSuccess".
type Login struct {
	UserID ID `json:"userId"`
}

type Logout struct{}

type DarkModeChange struct {
	IsDark bool `json:"isDark"`
}

type KakaoShare struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	Link        string `json:"link"`
}

type OpenExternalBrowser struct {
	URL string `json:"url"`
}

type PurchaseRequest struct {
	PlanID   string `json:"planId"`
	PlanType string `json:"planType"`
	IntentID ID     `json:"intentId,omitempty"`
	CourseID ID     `json:"courseId,omitempty"`
}

type AppleLogin struct {
	Nonce string `json:"nonce,omitempty"`
}

// Unknown is the body of a message whose type this build does not recognise.
type Unknown struct {
	Type Type
}

// ID is an identifier the page may send either as a JSON string or a number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Decode parses one inbound message. Unrecognised types are not an error.
func Decode(raw string) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	data := []byte(strings.TrimSpace(raw))
	if len(data) == 0 || data[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	msg := Message{Type: head.Type, Raw: raw}
	var err error
	switch head.Type {
	case TypeSetAuthToken:
		var b SetAuthToken
		if err = json.Unmarshal(data, &b); err == nil && b.Token == "" {
			err = missing("token")
		}
		msg.Body = b
	case TypeLogin, TypeLoginSuccess:
		var b Login
		if err = json.Unmarshal(data, &b); err == nil && b.UserID == "" {
			err = missing("userId")
		}
		msg.Body = b
	case TypeLogout:
		msg.Body = Logout{}
	case TypeDarkModeChange:
		var b DarkModeChange
		err = json.Unmarshal(data, &b)
		msg.Body = b
	case TypeKakaoShare:
		var b KakaoShare
		err = json.Unmarshal(data, &b)
		msg.Body = b
	case TypeOpenExternalBrowser:
		var b OpenExternalBrowser
		if err = json.Unmarshal(data, &b); err == nil && b.URL == "" {
			err = missing("url")
		}
		msg.Body = b
	case TypeRequestInAppPurchase:
		var b PurchaseRequest
		if err = json.Unmarshal(data, &b); err == nil && b.PlanID == "" {
			err = missing("planId")
		}
		msg.Body = b
	case TypeAppleLogin:
		var b AppleLogin
		err = json.Unmarshal(data, &b)
		msg.Body = b
	default:
		msg.Body = Unknown{Type: head.Type}
	}
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return msg, nil
}

func missing(field string) error {
	return fmt.Errorf("missing %s", field)
}

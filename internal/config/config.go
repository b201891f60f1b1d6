package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	// control API
	Bind  string
	Port  string
	Token string

	// chrome host
	CdpURL           string
	Headless         bool
	StateDir         string
	ProfileDir       string
	ChromeBinary     string
	ChromeExtraFlags string
	WindowWidth      int
	WindowHeight     int

	// web app
	AppOrigin  string
	AppScheme  string
	HomePath   string
	LogoutPath string
	LaunchURI  string
	BackendURL string

	SessionPath    string
	LogoutEndpoint string
	ConfirmPath    string
	PushTokenPath  string
	AppleLoginPath string
	AuthCookie     string

	// bridge behaviour
	Cooldown           time.Duration
	AppearanceInterval time.Duration

	// url policy
	PartnerDomains []string
	AuthDomains    []string
	CDNDomains     []string
	SharerDomains  []string
	NativeSchemes  []string
	AuthFragment   string

	// deep links
	WebHosts     []string
	LinkPrefixes []string
	LinkIDParam  string
	LinkIDPath   string

	// storage
	StoreDriver string
	SQLitePath  string
	RedisURL    string

	// purchases
	PurchaseProvider string
	StripeSecretKey  string
	ProductMap       string

	// sign in with apple
	AppleClientID string
	AppleJWKSURL  string

	ActionTimeout   time.Duration
	NavigateTimeout time.Duration
	ShutdownTimeout time.Duration
}

var (
	defaultPartnerDomains = []string{
		"map.naver.com", "naver.me", "booking.naver.com", "map.kakao.com",
		"catchtable.co.kr", "yogiyo.co.kr", "baemin.com",
		"tickets.interpark.com", "ticket.yes24.com",
		"pay.naver.com", "toss.im", "kakaopay.com",
	}
	defaultAuthDomains = []string{
		"kauth.kakao.com", "accounts.kakao.com", "appleid.apple.com",
		"nid.naver.com", "accounts.google.com",
	}
	defaultSharerDomains = []string{"sharer.kakao.com"}
	defaultNativeSchemes = []string{
		"kakaotalk", "kakaolink", "kakaokompassauth", "nmap", "kakaomap", "supertoss", "ispmobile",
	}
	defaultLinkPrefixes = []string{"/courses", "/escape", "/map"}
	defaultProductMap   = "ticket_basic=kr.io.dona.ticket_basic,ticket_premium=kr.io.dona.ticket_premium," +
		"sub_basic=kr.io.dona.sub_basic_monthly,sub_premium=kr.io.dona.sub_premium_monthly"
)

const defaultAuthCookie = `(^|;\s*)(authToken|auth|session|token|next-auth\.session-token)=`

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envListOr(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return splitList(v)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func defaultStateDir() string { return filepath.Join(homeDir(), ".donashell") }

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

// ControlURL is where a second process reaches this instance.
func (c *RuntimeConfig) ControlURL() string {
	host := c.Bind
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + c.Port
}

// ControlTokenFile holds the generated control API token for this state dir.
func (c *RuntimeConfig) ControlTokenFile() string {
	return filepath.Join(c.StateDir, "control-token")
}

// EnsureControlToken leaves the control API with a token in every case.
// Without DONA_TOKEN the token is read from the state dir, or generated and
// written there for the CLI to pick up.
func EnsureControlToken(cfg *RuntimeConfig) error {
	if cfg.Token != "" {
		return nil
	}
	path := cfg.ControlTokenFile()
	data, err := os.ReadFile(path)
	if err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			cfg.Token = tok
			return nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read control token: %w", err)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generate control token: %w", err)
	}
	tok := hex.EncodeToString(b)
	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(tok+"\n"), 0600); err != nil {
		return fmt.Errorf("write control token: %w", err)
	}
	cfg.Token = tok
	return nil
}

// BackendBase is the backend root; it defaults to the app origin.
func (c *RuntimeConfig) BackendBase() string {
	if c.BackendURL != "" {
		return strings.TrimSuffix(c.BackendURL, "/")
	}
	return strings.TrimSuffix(c.AppOrigin, "/")
}

type FileConfig struct {
	Port             string   `yaml:"port"`
	Token            string   `yaml:"token,omitempty"`
	CdpURL           string   `yaml:"cdpUrl,omitempty"`
	StateDir         string   `yaml:"stateDir"`
	ProfileDir       string   `yaml:"profileDir"`
	Headless         *bool    `yaml:"headless,omitempty"`
	AppOrigin        string   `yaml:"appOrigin"`
	BackendURL       string   `yaml:"backendUrl,omitempty"`
	CooldownSec      int      `yaml:"cooldownSec,omitempty"`
	StoreDriver      string   `yaml:"storeDriver,omitempty"`
	SQLitePath       string   `yaml:"sqlitePath,omitempty"`
	RedisURL         string   `yaml:"redisUrl,omitempty"`
	PurchaseProvider string   `yaml:"purchaseProvider,omitempty"`
	ProductMap       string   `yaml:"productMap,omitempty"`
	AppleClientID    string   `yaml:"appleClientId,omitempty"`
	PartnerDomains   []string `yaml:"partnerDomains,omitempty"`
	NativeSchemes    []string `yaml:"nativeSchemes,omitempty"`
	TimeoutSec       int      `yaml:"timeoutSec,omitempty"`
	NavigateSec      int      `yaml:"navigateSec,omitempty"`
}

// ConfigPath is the YAML file Load reads; DONA_CONFIG overrides it.
func ConfigPath() string {
	return envOr("DONA_CONFIG", filepath.Join(defaultStateDir(), "config.yaml"))
}

// Load builds the runtime configuration. Precedence: process environment,
// then a .env file in the working directory, then the YAML config file, then
// defaults.
func Load() *RuntimeConfig {
	_ = godotenv.Load()

	stateDir := envOr("DONA_STATE_DIR", defaultStateDir())
	cfg := &RuntimeConfig{
		Bind:             envOr("DONA_BIND", "127.0.0.1"),
		Port:             envOr("DONA_PORT", "9871"),
		Token:            os.Getenv("DONA_TOKEN"),
		CdpURL:           os.Getenv("CDP_URL"),
		Headless:         envBoolOr("DONA_HEADLESS", false),
		StateDir:         stateDir,
		ProfileDir:       envOr("DONA_PROFILE", filepath.Join(stateDir, "chrome-profile")),
		ChromeBinary:     os.Getenv("CHROME_BINARY"),
		ChromeExtraFlags: os.Getenv("CHROME_FLAGS"),
		WindowWidth:      envIntOr("DONA_WINDOW_WIDTH", 430),
		WindowHeight:     envIntOr("DONA_WINDOW_HEIGHT", 932),

		AppOrigin:  strings.TrimSuffix(envOr("DONA_APP_ORIGIN", "https://dona.io.kr"), "/"),
		AppScheme:  envOr("DONA_APP_SCHEME", "dona"),
		HomePath:   envOr("DONA_HOME_PATH", "/"),
		LogoutPath: envOr("DONA_LOGOUT_PATH", "/?logout=1"),
		LaunchURI:  os.Getenv("DONA_LAUNCH_URI"),
		BackendURL: os.Getenv("DONA_BACKEND_URL"),

		SessionPath:    envOr("DONA_SESSION_PATH", "/api/auth/session"),
		LogoutEndpoint: envOr("DONA_LOGOUT_ENDPOINT", "/api/auth/logout"),
		ConfirmPath:    envOr("DONA_CONFIRM_PATH", "/api/payments/revenuecat/confirm"),
		PushTokenPath:  envOr("DONA_PUSH_TOKEN_PATH", "/api/push-tokens"),
		AppleLoginPath: envOr("DONA_APPLE_LOGIN_PATH", "/api/auth/apple"),
		AuthCookie:     envOr("DONA_AUTH_COOKIE", defaultAuthCookie),

		Cooldown:           envDurationOr("DONA_LOGOUT_COOLDOWN", 7*time.Second),
		AppearanceInterval: envDurationOr("DONA_APPEARANCE_INTERVAL", time.Second),

		PartnerDomains: envListOr("DONA_PARTNER_DOMAINS", defaultPartnerDomains),
		AuthDomains:    envListOr("DONA_AUTH_DOMAINS", defaultAuthDomains),
		CDNDomains:     envListOr("DONA_CDN_DOMAINS", nil),
		SharerDomains:  envListOr("DONA_SHARER_DOMAINS", defaultSharerDomains),
		NativeSchemes:  envListOr("DONA_NATIVE_SCHEMES", defaultNativeSchemes),
		AuthFragment:   envOr("DONA_AUTH_FRAGMENT", "_=_"),

		WebHosts:     envListOr("DONA_WEB_HOSTS", nil),
		LinkPrefixes: envListOr("DONA_LINK_PREFIXES", defaultLinkPrefixes),
		LinkIDParam:  envOr("DONA_LINK_ID_PARAM", "courseId"),
		LinkIDPath:   envOr("DONA_LINK_ID_PATH", "/courses/{id}"),

		StoreDriver: envOr("DONA_STORE", "file"),
		SQLitePath:  envOr("DONA_SQLITE_PATH", filepath.Join(stateDir, "state.db")),
		RedisURL:    envOr("DONA_REDIS_URL", "redis://127.0.0.1:6379/0"),

		PurchaseProvider: envOr("DONA_PURCHASE_PROVIDER", "sandbox"),
		StripeSecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
		ProductMap:       envOr("DONA_PRODUCT_MAP", defaultProductMap),

		AppleClientID: os.Getenv("DONA_APPLE_CLIENT_ID"),
		AppleJWKSURL:  envOr("DONA_APPLE_JWKS_URL", "https://appleid.apple.com/auth/keys"),

		ActionTimeout:   15 * time.Second,
		NavigateTimeout: 30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return cfg
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg
	}
	fc.apply(cfg)
	return cfg
}

// apply copies file values into cfg where the environment left them unset.
func (fc FileConfig) apply(cfg *RuntimeConfig) {
	setStr := func(dst *string, val, env string) {
		if val != "" && os.Getenv(env) == "" {
			*dst = val
		}
	}
	setStr(&cfg.Port, fc.Port, "DONA_PORT")
	setStr(&cfg.Token, fc.Token, "DONA_TOKEN")
	setStr(&cfg.CdpURL, fc.CdpURL, "CDP_URL")
	setStr(&cfg.StateDir, fc.StateDir, "DONA_STATE_DIR")
	setStr(&cfg.ProfileDir, fc.ProfileDir, "DONA_PROFILE")
	setStr(&cfg.AppOrigin, strings.TrimSuffix(fc.AppOrigin, "/"), "DONA_APP_ORIGIN")
	setStr(&cfg.BackendURL, fc.BackendURL, "DONA_BACKEND_URL")
	setStr(&cfg.StoreDriver, fc.StoreDriver, "DONA_STORE")
	setStr(&cfg.SQLitePath, fc.SQLitePath, "DONA_SQLITE_PATH")
	setStr(&cfg.RedisURL, fc.RedisURL, "DONA_REDIS_URL")
	setStr(&cfg.PurchaseProvider, fc.PurchaseProvider, "DONA_PURCHASE_PROVIDER")
	setStr(&cfg.ProductMap, fc.ProductMap, "DONA_PRODUCT_MAP")
	setStr(&cfg.AppleClientID, fc.AppleClientID, "DONA_APPLE_CLIENT_ID")

	if fc.Headless != nil && os.Getenv("DONA_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if fc.CooldownSec > 0 && os.Getenv("DONA_LOGOUT_COOLDOWN") == "" {
		cfg.Cooldown = time.Duration(fc.CooldownSec) * time.Second
	}
	if len(fc.PartnerDomains) > 0 && os.Getenv("DONA_PARTNER_DOMAINS") == "" {
		cfg.PartnerDomains = fc.PartnerDomains
	}
	if len(fc.NativeSchemes) > 0 && os.Getenv("DONA_NATIVE_SCHEMES") == "" {
		cfg.NativeSchemes = fc.NativeSchemes
	}
	if fc.TimeoutSec > 0 {
		cfg.ActionTimeout = time.Duration(fc.TimeoutSec) * time.Second
	}
	if fc.NavigateSec > 0 {
		cfg.NavigateTimeout = time.Duration(fc.NavigateSec) * time.Second
	}
}

func DefaultFileConfig() FileConfig {
	h := false
	return FileConfig{
		Port:             "9871",
		StateDir:         defaultStateDir(),
		ProfileDir:       filepath.Join(defaultStateDir(), "chrome-profile"),
		Headless:         &h,
		AppOrigin:        "https://dona.io.kr",
		CooldownSec:      7,
		StoreDriver:      "file",
		PurchaseProvider: "sandbox",
		TimeoutSec:       15,
		NavigateSec:      30,
	}
}

func HandleConfigCommand(cfg *RuntimeConfig) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: donashell config <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create default config file")
		fmt.Println("  show    - Show current configuration")
		return
	}

	switch os.Args[2] {
	case "init":
		configPath := ConfigPath()

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config file already exists at %s\n", configPath)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return
			}
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			fmt.Printf("Error creating directory: %v\n", err)
			os.Exit(1)
		}

		data, _ := yaml.Marshal(DefaultFileConfig())
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file created at %s\n", configPath)

	case "show":
		fmt.Println("Current configuration:")
		fmt.Printf("  Control:    %s (token %s)\n", cfg.ListenAddr(), MaskToken(cfg.Token))
		fmt.Printf("  App:        %s (scheme %s://)\n", cfg.AppOrigin, cfg.AppScheme)
		fmt.Printf("  Backend:    %s\n", cfg.BackendBase())
		fmt.Printf("  State Dir:  %s\n", cfg.StateDir)
		fmt.Printf("  Profile:    %s\n", cfg.ProfileDir)
		fmt.Printf("  Headless:   %v\n", cfg.Headless)
		fmt.Printf("  Store:      %s\n", cfg.StoreDriver)
		fmt.Printf("  Purchases:  %s (stripe key %s)\n", cfg.PurchaseProvider, MaskToken(cfg.StripeSecretKey))
		fmt.Printf("  Cooldown:   %v\n", cfg.Cooldown)
		fmt.Printf("  Timeouts:   action=%v navigate=%v\n", cfg.ActionTimeout, cfg.NavigateTimeout)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func MaskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 8 {
		return "***"
	}
	return t[:4] + "..." + t[len(t)-4:]
}

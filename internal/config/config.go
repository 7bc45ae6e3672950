// Package config defines every option the widget recognizes, its default,
// and how it is loaded from the environment and from Parameter Store.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ContextVariable is hidden metadata sent with the first user message.
type ContextVariable struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// StartQuestion is a canned prompt offered before the first message.
type StartQuestion struct {
	Display string `json:"display"`
	Prompt  string `json:"prompt"`
}

// Config is the full widget configuration.
type Config struct {
	InstanceID     string `env:"WIDGET_ID"`
	AssistantID    string `env:"WIDGET_ASSISTANT"`
	ServerURL      string `env:"WIDGET_SERVER"`
	Language       string `env:"WIDGET_LANG" envDefault:"en"`
	Placeholder    string `env:"WIDGET_PLACEHOLDER"`
	WelcomeMessage string `env:"WIDGET_WELCOME_MESSAGE"`

	EnableCookies     bool `env:"WIDGET_ENABLE_COOKIES" envDefault:"true"`
	AskForCookies     bool `env:"WIDGET_ASK_FOR_COOKIES" envDefault:"true"`
	AutoSaveSession   bool `env:"WIDGET_AUTO_SAVE_SESSION" envDefault:"true"`
	EnableViewHistory bool `env:"WIDGET_ENABLE_VIEW_HISTORY" envDefault:"true"`
	EnableSharing     bool `env:"WIDGET_ENABLE_SHARING" envDefault:"true"`
	MaxStoredMessages int  `env:"WIDGET_MAX_STORED_MESSAGES" envDefault:"50"`

	SessionExpiry      time.Duration `env:"WIDGET_SESSION_EXPIRY" envDefault:"720m"`
	CookieExpiry       time.Duration `env:"WIDGET_COOKIE_EXPIRY" envDefault:"20160m"`
	PollingInterval    time.Duration `env:"WIDGET_POLLING_INTERVAL" envDefault:"5s"`
	MaxPollingFailures int           `env:"WIDGET_MAX_POLLING_FAILURES" envDefault:"10"`
	MessageCooldown    time.Duration `env:"WIDGET_MESSAGE_COOLDOWN" envDefault:"3s"`
	LoadingDelay       time.Duration `env:"WIDGET_LOADING_DELAY" envDefault:"1s"`
	RetryAttempts      int           `env:"WIDGET_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay  time.Duration `env:"WIDGET_RETRY_INITIAL_DELAY" envDefault:"1s"`
	RequestTimeout     time.Duration `env:"WIDGET_REQUEST_TIMEOUT" envDefault:"10s"`

	ContextVariables []ContextVariable
	StartQuestions   []StartQuestion
}

// Default returns a Config with every default applied and no identifiers.
func Default() Config {
	return Config{
		Language:           "en",
		EnableCookies:      true,
		AskForCookies:      true,
		AutoSaveSession:    true,
		EnableViewHistory:  true,
		EnableSharing:      true,
		MaxStoredMessages:  50,
		SessionExpiry:      720 * time.Minute,
		CookieExpiry:       20160 * time.Minute,
		PollingInterval:    5 * time.Second,
		MaxPollingFailures: 10,
		MessageCooldown:    3 * time.Second,
		LoadingDelay:       time.Second,
		RetryAttempts:      3,
		RetryInitialDelay:  time.Second,
		RequestTimeout:     10 * time.Second,
	}
}

// FromEnv parses WIDGET_* variables over the defaults.
func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the widget cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.InstanceID) == "" {
		errs = append(errs, errors.New("instance id is required"))
	}
	if strings.TrimSpace(c.AssistantID) == "" {
		errs = append(errs, errors.New("assistant id is required"))
	}
	if strings.TrimSpace(c.ServerURL) == "" {
		errs = append(errs, errors.New("server URL is required"))
	} else if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server URL %q must be an absolute http(s) URL", c.ServerURL))
	}
	if !SupportedLanguage(c.Language) {
		errs = append(errs, fmt.Errorf("language %q not supported", c.Language))
	}
	if c.MaxStoredMessages < 0 {
		errs = append(errs, errors.New("max stored messages must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"session expiry":   c.SessionExpiry,
		"cookie expiry":    c.CookieExpiry,
		"polling interval": c.PollingInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.MessageCooldown < 0 || c.LoadingDelay < 0 || c.RetryInitialDelay < 0 || c.RequestTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.MaxPollingFailures <= 0 {
		errs = append(errs, errors.New("max polling failures must be positive"))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, errors.New("retry attempts must be positive"))
	}
	for i, v := range c.ContextVariables {
		if strings.TrimSpace(v.Key) == "" {
			errs = append(errs, fmt.Errorf("context variable %d has no key", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Phrases returns the UI labels for the configured language, honoring the
// placeholder override.
func (c Config) Phrases() Phrases {
	p := phrasebook[c.Language]
	if c.Placeholder != "" {
		p.Placeholder = c.Placeholder
	}
	return p
}

// Overlay is the JSON widget configuration kept in Parameter Store. Absent
// fields leave the current value untouched.
type Overlay struct {
	ID                   *string           `json:"id"`
	Assistant            *string           `json:"assistant"`
	Server               *string           `json:"server"`
	Lang                 *string           `json:"lang"`
	Placeholder          *string           `json:"placeholder"`
	WelcomeMessage       *string           `json:"welcomeMessage"`
	EnableCookies        *bool             `json:"enableCookies"`
	AskForCookies        *bool             `json:"askForCookies"`
	AutoSaveSession      *bool             `json:"autoSaveSession"`
	EnableViewHistory    *bool             `json:"enableViewHistory"`
	EnableSharing        *bool             `json:"enableSharing"`
	MaxStoredMessages    *int              `json:"maxStoredMessages"`
	SessionExpiryMinutes *int              `json:"sessionExpiryMinutes"`
	CookieExpiryMinutes  *int              `json:"cookieExpiryMinutes"`
	PollingIntervalMS    *int              `json:"pollingInterval"`
	ContextVariables     []ContextVariable `json:"contextVariables"`
	StartQuestions       []StartQuestion   `json:"start_questions"`
}

// ParseOverlay decodes an overlay document, rejecting unknown fields.
func ParseOverlay(raw string) (Overlay, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	var o Overlay
	if err := dec.Decode(&o); err != nil {
		return Overlay{}, fmt.Errorf("config: decode overlay: %w", err)
	}
	return o, nil
}

// Apply copies every present overlay field onto cfg.
func (o Overlay) Apply(cfg *Config) {
	setString(&cfg.InstanceID, o.ID)
	setString(&cfg.AssistantID, o.Assistant)
	setString(&cfg.ServerURL, o.Server)
	setString(&cfg.Language, o.Lang)
	setString(&cfg.Placeholder, o.Placeholder)
	setString(&cfg.WelcomeMessage, o.WelcomeMessage)
	setBool(&cfg.EnableCookies, o.EnableCookies)
	setBool(&cfg.AskForCookies, o.AskForCookies)
	setBool(&cfg.AutoSaveSession, o.AutoSaveSession)
	setBool(&cfg.EnableViewHistory, o.EnableViewHistory)
	setBool(&cfg.EnableSharing, o.EnableSharing)
	if o.MaxStoredMessages != nil {
		cfg.MaxStoredMessages = *o.MaxStoredMessages
	}
	if o.SessionExpiryMinutes != nil {
		cfg.SessionExpiry = time.Duration(*o.SessionExpiryMinutes) * time.Minute
	}
	if o.CookieExpiryMinutes != nil {
		cfg.CookieExpiry = time.Duration(*o.CookieExpiryMinutes) * time.Minute
	}
	if o.PollingIntervalMS != nil {
		cfg.PollingInterval = time.Duration(*o.PollingIntervalMS) * time.Millisecond
	}
	if o.ContextVariables != nil {
		cfg.ContextVariables = o.ContextVariables
	}
	if o.StartQuestions != nil {
		cfg.StartQuestions = o.StartQuestions
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// ParamGetter reads a single parameter value.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ApplyParameter loads the overlay stored under name and applies it.
func ApplyParameter(ctx context.Context, params ParamGetter, name string, cfg *Config) error {
	if params == nil {
		return errors.New("config: param getter must not be nil")
	}
	raw, err := params.GetParameter(ctx, name)
	if err != nil {
		return fmt.Errorf("config: load overlay %q: %w", name, err)
	}
	o, err := ParseOverlay(raw)
	if err != nil {
		return err
	}
	o.Apply(cfg)
	return nil
}

// Package aisettings holds the AI writing-assistant configuration: which
// vendor is active, its credentials, editor feature flags and usage limits.
package aisettings

import (
	"fmt"

	"github.com/mos-fine/One-Web/internal/apperr"
)

// ModelType tags the active vendor family.
type ModelType string

const (
	ModelOpenAI ModelType = "openai"
	ModelSpark  ModelType = "spark"
	ModelWenxin ModelType = "wenxin"
	ModelCustom ModelType = "custom"
	ModelSecure ModelType = "secure"
)

// DefaultModelType is used when the stored record carries no tag.
const DefaultModelType = ModelSecure

// ModelTypes lists every supported vendor tag.
var ModelTypes = []ModelType{ModelOpenAI, ModelSpark, ModelWenxin, ModelCustom, ModelSecure}

// Known reports whether t is a supported vendor tag.
func (t ModelType) Known() bool {
	for _, m := range ModelTypes {
		if t == m {
			return true
		}
	}
	return false
}

// Settings is the singleton AI configuration record. Only the sub-record
// matching ModelType is authoritative; the others are retained so the admin
// UI can switch back without re-entering credentials.
type Settings struct {
	Enabled   *bool     `json:"enabled,omitempty"`
	ModelType ModelType `json:"modelType"`

	OpenAI *OpenAI `json:"openai,omitempty"`
	Spark  *Spark  `json:"spark,omitempty"`
	Wenxin *Wenxin `json:"wenxin,omitempty"`
	Custom *Custom `json:"custom,omitempty"`
	Secure *Secure `json:"secure,omitempty"`

	Features Features `json:"features"`
	Limits   Limits   `json:"limits"`
}

// Features controls which editor affordances the front end exposes.
type Features struct {
	BubblePanelEnable bool     `json:"bubblePanelEnable"`
	EnabledMenus      []string `json:"enabledMenus"`
	TrackTokenUsage   bool     `json:"trackTokenUsage"`
}

// Limits bounds AI usage. A DailyTokenLimit of zero means unlimited.
type Limits struct {
	DailyTokenLimit int64 `json:"dailyTokenLimit"`
	MaxQueryLength  int   `json:"maxQueryLength"`
}

// IsEnabled reports the global kill switch. An unset flag counts as enabled.
func (s Settings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ResolvedModelType returns the vendor tag, applying the default for an
// empty value.
func (s Settings) ResolvedModelType() ModelType {
	if s.ModelType == "" {
		return DefaultModelType
	}
	return s.ModelType
}

// Defaults returns the record created on first boot.
func Defaults() Settings {
	on := true
	return Settings{
		Enabled:   &on,
		ModelType: ModelSecure,
		Secure:    &Secure{AppID: "default_app_id"},
		Features: Features{
			BubblePanelEnable: true,
			EnabledMenus:      []string{"ai_continue", "ai_improve", "ai_summarize", "ai_translate"},
			TrackTokenUsage:   true,
		},
		Limits: Limits{
			DailyTokenLimit: 100000,
			MaxQueryLength:  5000,
		},
	}
}

// Active returns the authoritative vendor sub-record. A missing sub-record
// yields the zero value of its type so credential checks report exactly what
// is absent.
func (s Settings) Active() (Vendor, error) {
	switch t := s.ResolvedModelType(); t {
	case ModelOpenAI:
		return deref(s.OpenAI), nil
	case ModelSpark:
		return deref(s.Spark), nil
	case ModelWenxin:
		return deref(s.Wenxin), nil
	case ModelCustom:
		return deref(s.Custom), nil
	case ModelSecure:
		return deref(s.Secure), nil
	default:
		return nil, apperr.New(apperr.UnsupportedVendor, fmt.Sprintf("unknown model type: %s", t))
	}
}

// Redacted returns a deep copy with every secret masked.
func (s Settings) Redacted() Settings {
	out := s.clone()
	for _, sec := range out.secrets() {
		*sec = sec.Masked()
	}
	return out
}

// Validate checks the fields a save must not accept.
func (s Settings) Validate() error {
	if !s.ResolvedModelType().Known() {
		return apperr.New(apperr.UnsupportedVendor, fmt.Sprintf("unknown model type: %s", s.ModelType))
	}
	if s.Limits.DailyTokenLimit < 0 {
		return apperr.New(apperr.InvalidInput, "dailyTokenLimit must be >= 0")
	}
	if s.Limits.MaxQueryLength < 0 {
		return apperr.New(apperr.InvalidInput, "maxQueryLength must be >= 0")
	}
	return nil
}

// secrets lists pointers to every secret field that is present.
func (s *Settings) secrets() []*Secret {
	var out []*Secret
	if s.OpenAI != nil {
		out = append(out, &s.OpenAI.APIKey)
	}
	if s.Spark != nil {
		out = append(out, &s.Spark.APIKey, &s.Spark.APISecret)
	}
	if s.Wenxin != nil {
		out = append(out, &s.Wenxin.AccessToken)
	}
	if s.Secure != nil {
		out = append(out, &s.Secure.APIKey, &s.Secure.APISecret)
	}
	return out
}

// secretPair links an incoming secret field to the stored value of the same
// field. stored is empty when the field was never saved.
type secretPair struct {
	name     string
	incoming *Secret
	stored   Secret
}

func pairSecrets(incoming *Settings, stored Settings) []secretPair {
	var out []secretPair
	if incoming.OpenAI != nil {
		out = append(out, secretPair{"openai.apiKey", &incoming.OpenAI.APIKey, deref(stored.OpenAI).APIKey})
	}
	if incoming.Spark != nil {
		sp := deref(stored.Spark)
		out = append(out,
			secretPair{"spark.apiKey", &incoming.Spark.APIKey, sp.APIKey},
			secretPair{"spark.apiSecret", &incoming.Spark.APISecret, sp.APISecret},
		)
	}
	if incoming.Wenxin != nil {
		out = append(out, secretPair{"wenxin.accessToken", &incoming.Wenxin.AccessToken, deref(stored.Wenxin).AccessToken})
	}
	if incoming.Secure != nil {
		sc := deref(stored.Secure)
		out = append(out,
			secretPair{"secure.apiKey", &incoming.Secure.APIKey, sc.APIKey},
			secretPair{"secure.apiSecret", &incoming.Secure.APISecret, sc.APISecret},
		)
	}
	return out
}

func (s Settings) clone() Settings {
	out := s
	if s.Enabled != nil {
		v := *s.Enabled
		out.Enabled = &v
	}
	out.OpenAI = clonePtr(s.OpenAI)
	out.Spark = clonePtr(s.Spark)
	out.Wenxin = clonePtr(s.Wenxin)
	out.Custom = clonePtr(s.Custom)
	out.Secure = clonePtr(s.Secure)
	if s.Features.EnabledMenus != nil {
		out.Features.EnabledMenus = append([]string(nil), s.Features.EnabledMenus...)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

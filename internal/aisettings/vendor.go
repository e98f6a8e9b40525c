package aisettings

// Vendor is the sealed set of vendor credential records. The orchestrator
// switches over the concrete types; adding a vendor means adding a type here
// and a case there.
type Vendor interface {
	Type() ModelType
	// Missing lists the required fields that are absent, in a stable order.
	Missing() []string
	isVendor()
}

// OpenAI is the symmetric-encryption vendor: the API key is sealed with a
// server-side key and handed to the client inside the connection URL.
type OpenAI struct {
	APIKey    Secret `json:"apiKey"`
	Model     string `json:"model,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	CustomURL string `json:"customUrl,omitempty"`
}

// Spark is the HMAC-handshake WebSocket vendor.
type Spark struct {
	AppID     string `json:"appId"`
	APIKey    Secret `json:"apiKey"`
	APISecret Secret `json:"apiSecret"`
	Version   string `json:"version,omitempty"`
}

// Wenxin is the access-token REST vendor.
type Wenxin struct {
	AccessToken Secret `json:"accessToken"`
}

// Custom points the editor at an arbitrary endpoint.
type Custom struct {
	URL      string `json:"url"`
	Protocol string `json:"protocol,omitempty"`
}

// Secure signs Spark handshakes with credentials kept on the server. Only
// AppID is normally configured through the UI; the key pair falls back to
// the process environment.
type Secure struct {
	AppID     string `json:"appId"`
	APIKey    Secret `json:"apiKey,omitempty"`
	APISecret Secret `json:"apiSecret,omitempty"`
}

func (OpenAI) Type() ModelType { return ModelOpenAI }
func (Spark) Type() ModelType  { return ModelSpark }
func (Wenxin) Type() ModelType { return ModelWenxin }
func (Custom) Type() ModelType { return ModelCustom }
func (Secure) Type() ModelType { return ModelSecure }

func (v OpenAI) Missing() []string {
	return missing(field{"apiKey", v.APIKey.IsZero()})
}

func (v Spark) Missing() []string {
	return missing(
		field{"appId", v.AppID == ""},
		field{"apiKey", v.APIKey.IsZero()},
		field{"apiSecret", v.APISecret.IsZero()},
	)
}

func (v Wenxin) Missing() []string {
	return missing(field{"accessToken", v.AccessToken.IsZero()})
}

func (v Custom) Missing() []string {
	return missing(field{"url", v.URL == ""})
}

// Missing only covers the stored fields; the key pair may still come from
// the environment at signing time.
func (v Secure) Missing() []string {
	return missing(field{"appId", v.AppID == ""})
}

func (OpenAI) isVendor() {}
func (Spark) isVendor()  {}
func (Wenxin) isVendor() {}
func (Custom) isVendor() {}
func (Secure) isVendor() {}

type field struct {
	name   string
	absent bool
}

func missing(fields ...field) []string {
	var out []string
	for _, f := range fields {
		if f.absent {
			out = append(out, f.name)
		}
	}
	return out
}

// Package signer builds the short-lived connection URLs the editor uses to
// talk to an AI vendor directly. Every function is pure: the clock and any
// key material are passed in.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mos-fine/One-Web/internal/apperr"
)

const (
	SparkHost           = "spark-api.xf-yun.com"
	DefaultSparkVersion = "v3.5"
	DefaultOpenAIBase   = "https://api.openai.com"
	WenxinEndpoint      = "https://aip.baidubce.com/rpc/2.0/ai_custom/v1/wenxinworkshop/chat/completions"
)

// SparkCredentials are the inputs of the Spark HMAC handshake.
type SparkCredentials struct {
	AppID     string
	APIKey    string
	APISecret string
	// Version selects the chat path, e.g. "v3.5".
	Version string
}

// Spark returns the signed WebSocket URL for the Spark chat endpoint.
func Spark(c SparkCredentials, now time.Time) (string, error) {
	if c.AppID == "" || c.APIKey == "" || c.APISecret == "" {
		return "", apperr.New(apperr.ConfigIncomplete, "spark configuration incomplete: appId, apiKey and apiSecret are required")
	}
	version := c.Version
	if version == "" {
		version = DefaultSparkVersion
	}
	path := "/" + strings.Trim(version, "/") + "/chat"
	date := now.UTC().Format(http.TimeFormat)

	canonical := "host: " + SparkHost + "\ndate: " + date + "\nGET " + path + " HTTP/1.1"
	mac := hmac.New(sha256.New, []byte(c.APISecret))
	mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authOrigin := fmt.Sprintf(`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`, c.APIKey, signature)
	q := url.Values{}
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(authOrigin)))
	q.Set("date", date)
	q.Set("host", SparkHost)
	q.Set("appid", c.AppID)

	u := url.URL{Scheme: "wss", Host: SparkHost, Path: path, RawQuery: q.Encode()}
	return u.String(), nil
}

// Wenxin returns the REST endpoint carrying the access token.
func Wenxin(accessToken string) (string, error) {
	if accessToken == "" {
		return "", apperr.New(apperr.ConfigIncomplete, "wenxin configuration incomplete: accessToken is required")
	}
	return WenxinEndpoint + "?access_token=" + url.QueryEscape(accessToken), nil
}

// Sealer encrypts a credential for transport.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// OpenAICredentials are the inputs of the sealed-key OpenAI URL.
type OpenAICredentials struct {
	APIKey   string
	Endpoint string
}

// OpenAI returns the chat-completions URL with the API key sealed into the
// auth parameter and the issue time in milliseconds.
func OpenAI(c OpenAICredentials, sealer Sealer, now time.Time) (string, error) {
	if c.APIKey == "" {
		return "", apperr.New(apperr.ConfigIncomplete, "openai configuration incomplete: apiKey is required")
	}
	base := strings.TrimRight(c.Endpoint, "/")
	if base == "" {
		base = DefaultOpenAIBase
	}
	sealed, err := sealer.Seal(c.APIKey)
	if err != nil {
		return "", fmt.Errorf("seal openai key: %w", err)
	}
	q := url.Values{}
	q.Set("auth", sealed)
	q.Set("secure", "true")
	q.Set("ts", strconv.FormatInt(now.UnixMilli(), 10))
	return base + "/v1/chat/completions?" + q.Encode(), nil
}

// Custom returns the operator-configured endpoint unchanged.
func Custom(endpoint string) (string, error) {
	if endpoint == "" {
		return "", apperr.New(apperr.ConfigIncomplete, "custom configuration incomplete: url is required")
	}
	return endpoint, nil
}

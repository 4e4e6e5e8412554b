package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	openrouterx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/openrouter"
)

// Config is loaded with the OPENROUTER prefix. Per-role fields override the
// shared model and temperature when set.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	NegotiatorModel       string  `envconfig:"NEGOTIATOR_MODEL" split_words:"true"`
	VendorModel           string  `envconfig:"VENDOR_MODEL" split_words:"true"`
	NegotiatorTemperature float32 `envconfig:"NEGOTIATOR_TEMPERATURE" split_words:"true" default:"-1"`
	VendorTemperature     float32 `envconfig:"VENDOR_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(agentType contractx.AgentType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	var override string
	overrideTemp := float32(-1)
	switch agentType {
	case contractx.AgentTypeNegotiator:
		override, overrideTemp = c.NegotiatorModel, c.NegotiatorTemperature
	case contractx.AgentTypeVendor:
		override, overrideTemp = c.VendorModel, c.VendorTemperature
	}
	if v := strings.TrimSpace(override); v != "" {
		modelName = v
	}
	if overrideTemp >= 0 {
		temp = overrideTemp
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/pattarawit/ensemble/agent/contract"
	openrouterx "github.com/pattarawit/ensemble/pkg/openrouter"
)

// Config carries the default model settings plus per-agent overrides. Model
// names and temperatures are opaque pass-through to the completion service;
// the control-flow logic never interprets them.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	RouterModel      string `envconfig:"ROUTER_MODEL" split_words:"true"`
	GeneralModel     string `envconfig:"GENERAL_MODEL" split_words:"true"`
	ResearchModel    string `envconfig:"RESEARCH_MODEL" split_words:"true"`
	WritingModel     string `envconfig:"WRITING_MODEL" split_words:"true"`
	CodeModel        string `envconfig:"CODE_MODEL" split_words:"true"`
	SynthesizerModel string `envconfig:"SYNTHESIZER_MODEL" split_words:"true"`

	RouterTemperature      float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"-1"`
	GeneralTemperature     float32 `envconfig:"GENERAL_TEMPERATURE" split_words:"true" default:"-1"`
	ResearchTemperature    float32 `envconfig:"RESEARCH_TEMPERATURE" split_words:"true" default:"-1"`
	WritingTemperature     float32 `envconfig:"WRITING_TEMPERATURE" split_words:"true" default:"-1"`
	CodeTemperature        float32 `envconfig:"CODE_TEMPERATURE" split_words:"true" default:"-1"`
	SynthesizerTemperature float32 `envconfig:"SYNTHESIZER_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: completion api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor resolves the effective model and temperature for one agent.
func (c Config) OpenRouterFor(agentType contractx.AgentType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(model string, temperature float32) {
		if v := strings.TrimSpace(model); v != "" {
			modelName = v
		}
		if temperature >= 0 {
			temp = temperature
		}
	}

	switch agentType {
	case contractx.AgentTypeRouter:
		override(c.RouterModel, c.RouterTemperature)
	case contractx.AgentTypeGeneral:
		override(c.GeneralModel, c.GeneralTemperature)
	case contractx.AgentTypeResearch:
		override(c.ResearchModel, c.ResearchTemperature)
	case contractx.AgentTypeWriting:
		override(c.WritingModel, c.WritingTemperature)
	case contractx.AgentTypeCode:
		override(c.CodeModel, c.CodeTemperature)
	case contractx.AgentTypeSynthesizer:
		override(c.SynthesizerModel, c.SynthesizerTemperature)
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

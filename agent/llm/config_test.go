package llm

import (
	"errors"
	"testing"

	contractx "github.com/pattarawit/ensemble/agent/contract"
)

func baseConfig() Config {
	return Config{
		APIKey:             "key",
		Model:              "default/model",
		Temperature:        0.5,
		MaxCompletionToken: 2000,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cfg.APIKey = "  "
	if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank key, got %v", err)
	}

	cfg = baseConfig()
	cfg.Model = ""
	if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank model, got %v", err)
	}
}

func TestOpenRouterForDefaults(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	got := cfg.OpenRouterFor(contractx.AgentTypeGeneral)
	if got.Model != "default/model" || got.Temperature != 0.5 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestOpenRouterForOverrides(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RouterModel = "fast/model"
	cfg.RouterTemperature = 0
	cfg.CodeModel = "strong/model"
	cfg.CodeTemperature = -1 // unset, keep default

	router := cfg.OpenRouterFor(contractx.AgentTypeRouter)
	if router.Model != "fast/model" {
		t.Fatalf("router model override lost: %+v", router)
	}
	if router.Temperature != 0 {
		t.Fatalf("zero is a valid temperature override, got %v", router.Temperature)
	}

	code := cfg.OpenRouterFor(contractx.AgentTypeCode)
	if code.Model != "strong/model" || code.Temperature != 0.5 {
		t.Fatalf("unexpected code settings: %+v", code)
	}
}

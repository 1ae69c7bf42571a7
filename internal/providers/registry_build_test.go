package providers

import (
	"testing"

	"github.com/compresr/llm-gateway/internal/config"
)

func TestBuildRegistryRegistersEachConfiguredProvider(t *testing.T) {
	cfg := &config.Config{Providers: []config.ProviderConfig{
		{Name: "openai", Kind: config.KindOpenAI, BaseURL: "https://api.openai.com", APIKey: "sk-test"},
		{Name: "anthropic", Kind: config.KindAnthropic, BaseURL: "https://api.anthropic.com", APIKey: "sk-ant-test"},
		{Name: "bedrock", Kind: config.KindBedrock, AWSRegion: "us-east-1"},
	}}

	registry, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatalf("BuildRegistry() error = %v", err)
	}

	for _, name := range []string{"openai", "anthropic", "bedrock"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("expected provider %q to be registered", name)
		}
	}
}

func TestBuildRegistryRejectsUnknownKind(t *testing.T) {
	cfg := &config.Config{Providers: []config.ProviderConfig{
		{Name: "mystery", Kind: config.Kind("carrier-pigeon")},
	}}

	if _, err := BuildRegistry(cfg); err == nil {
		t.Error("expected an error for an unknown provider kind")
	}
}

func TestModelListersPreservesRegistrationOrder(t *testing.T) {
	cfg := &config.Config{Providers: []config.ProviderConfig{
		{Name: "b", Kind: config.KindAnthropic, BaseURL: "https://api.anthropic.com", APIKey: "sk-ant-test"},
		{Name: "a", Kind: config.KindOpenAI, BaseURL: "https://api.openai.com", APIKey: "sk-test"},
	}}
	registry, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatalf("BuildRegistry() error = %v", err)
	}

	listers := registry.ModelListers()
	if len(listers) != 2 || listers[0].Name() != "b" || listers[1].Name() != "a" {
		t.Errorf("ModelListers() order = %v, %v; want b, a", listers[0].Name(), listers[1].Name())
	}
}

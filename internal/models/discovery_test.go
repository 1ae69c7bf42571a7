package models

import (
	"context"
	"testing"
	"time"

	"github.com/compresr/llm-gateway/internal/config"
)

type fakeProvider struct {
	name   string
	models []ListedModel
	err    error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) ListModels(ctx context.Context) ([]ListedModel, error) {
	return f.models, f.err
}

func testConfig(providers ...config.ProviderConfig) *config.Config {
	return &config.Config{
		Providers: providers,
		Discovery: config.DiscoveryConfig{Interval: time.Minute},
	}
}

func TestFetchModelsConfigOrderFirstWinsOnCrossProviderCollision(t *testing.T) {
	p1 := &fakeProvider{name: "openai-a", models: []ListedModel{{ID: "gpt-4", OwnedBy: "openai"}}}
	p2 := &fakeProvider{name: "openai-b", models: []ListedModel{{ID: "gpt-4", OwnedBy: "openai"}}}

	d := NewDiscovery([]ModelLister{p1, p2}, testConfig(
		config.ProviderConfig{Name: "openai-a", Kind: config.KindOpenAI, BaseURL: "x", APIKey: "k"},
		config.ProviderConfig{Name: "openai-b", Kind: config.KindOpenAI, BaseURL: "x", APIKey: "k"},
	))

	m, err := d.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels() error = %v", err)
	}
	if got := m["gpt-4"].ProviderName; got != "openai-a" {
		t.Errorf("expected first-configured provider to win, got %q", got)
	}
}

func TestFetchModelsExplicitIDBypassesFilter(t *testing.T) {
	p1 := &fakeProvider{name: "openai-a", models: []ListedModel{{ID: "openai-a/gpt-4"}}}

	d := NewDiscovery([]ModelLister{p1}, testConfig(
		config.ProviderConfig{Name: "openai-a", Kind: config.KindOpenAI, BaseURL: "x", APIKey: "k", ModelFilter: "^nomatch$"},
	))

	m, err := d.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels() error = %v", err)
	}
	if _, ok := m["openai-a/gpt-4"]; !ok {
		t.Error("expected explicitly-qualified model id to bypass the allow-regex filter")
	}
}

func TestFetchModelsBareIDRespectsFilter(t *testing.T) {
	p1 := &fakeProvider{name: "openai-a", models: []ListedModel{{ID: "gpt-4"}, {ID: "gpt-3.5"}}}

	d := NewDiscovery([]ModelLister{p1}, testConfig(
		config.ProviderConfig{Name: "openai-a", Kind: config.KindOpenAI, BaseURL: "x", APIKey: "k", ModelFilter: "^gpt-4$"},
	))

	m, err := d.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels() error = %v", err)
	}
	if _, ok := m["gpt-4"]; !ok {
		t.Error("expected gpt-4 to pass the filter")
	}
	if _, ok := m["gpt-3.5"]; ok {
		t.Error("expected gpt-3.5 to be filtered out")
	}
}

func TestFetchModelsAnyProviderErrorFailsWholePass(t *testing.T) {
	p1 := &fakeProvider{name: "ok", models: []ListedModel{{ID: "gpt-4"}}}
	p2 := &fakeProvider{name: "broken", err: context.DeadlineExceeded}

	d := NewDiscovery([]ModelLister{p1, p2}, testConfig(
		config.ProviderConfig{Name: "ok", Kind: config.KindOpenAI, BaseURL: "x", APIKey: "k"},
		config.ProviderConfig{Name: "broken", Kind: config.KindOpenAI, BaseURL: "x", APIKey: "k"},
	))

	if _, err := d.FetchModels(context.Background()); err == nil {
		t.Fatal("expected a single provider failure to fail the whole discovery pass")
	}
}

func TestFetchModelsSameProviderDuplicateIsSkipped(t *testing.T) {
	p1 := &fakeProvider{name: "openai-a", models: []ListedModel{{ID: "gpt-4", OwnedBy: "first"}, {ID: "gpt-4", OwnedBy: "second"}}}

	d := NewDiscovery([]ModelLister{p1}, testConfig(
		config.ProviderConfig{Name: "openai-a", Kind: config.KindOpenAI, BaseURL: "x", APIKey: "k"},
	))

	m, err := d.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels() error = %v", err)
	}
	if got := m["gpt-4"].OwnedBy; got != "first" {
		t.Errorf("expected first occurrence to win within the same provider, got %q", got)
	}
}

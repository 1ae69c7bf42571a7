package config

import (
	"os"
	"testing"
)

func TestLoadFromBytesAppliesDefaults(t *testing.T) {
	data := []byte(`
server:
  listen_addr: ":8080"
  read_timeout: 30s
  write_timeout: 30s
providers:
  - name: openai-main
    kind: openai
    base_url: https://api.openai.com/v1
    api_key: sk-test
`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if cfg.Discovery.Interval != DefaultDiscoveryInterval {
		t.Errorf("Discovery.Interval = %v, want default %v", cfg.Discovery.Interval, DefaultDiscoveryInterval)
	}
	if cfg.Telemetry.ServiceName != "llm-gateway" {
		t.Errorf("Telemetry.ServiceName = %q, want default", cfg.Telemetry.ServiceName)
	}
	if cfg.RateLimit.Store != StoreMemory {
		t.Errorf("RateLimit.Store = %q, want memory default", cfg.RateLimit.Store)
	}
}

func TestLoadFromBytesExpandsEnvWithDefault(t *testing.T) {
	os.Setenv("GATEWAY_TEST_KEY", "sk-from-env")
	defer os.Unsetenv("GATEWAY_TEST_KEY")

	data := []byte(`
server:
  listen_addr: ":8080"
  read_timeout: 30s
  write_timeout: 30s
providers:
  - name: openai-main
    kind: openai
    base_url: https://api.openai.com/v1
    api_key: ${GATEWAY_TEST_KEY}
  - name: fallback
    kind: openai
    base_url: https://api.openai.com/v1
    api_key: ${GATEWAY_MISSING_VAR:-sk-default}
`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want sk-from-env", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[1].APIKey != "sk-default" {
		t.Errorf("APIKey = %q, want sk-default fallback", cfg.Providers[1].APIKey)
	}
}

func TestValidateRejectsDuplicateProviderNames(t *testing.T) {
	data := []byte(`
server:
  listen_addr: ":8080"
  read_timeout: 30s
  write_timeout: 30s
providers:
  - name: dup
    kind: openai
    base_url: https://api.openai.com/v1
    api_key: sk-a
  - name: dup
    kind: openai
    base_url: https://api.openai.com/v1
    api_key: sk-b
`)
	_, err := LoadFromBytes(data)
	if err == nil {
		t.Fatal("expected duplicate provider name to be rejected")
	}
}

func TestValidateRejectsProviderWithNoCredentialPath(t *testing.T) {
	data := []byte(`
server:
  listen_addr: ":8080"
  read_timeout: 30s
  write_timeout: 30s
providers:
  - name: openai-main
    kind: openai
    base_url: https://api.openai.com/v1
`)
	_, err := LoadFromBytes(data)
	if err == nil {
		t.Fatal("expected provider with no api_key/byok/anthropic_proxy to be rejected")
	}
}

func TestValidateAllowsBYOKProviderWithoutAPIKey(t *testing.T) {
	data := []byte(`
server:
  listen_addr: ":8080"
  read_timeout: 30s
  write_timeout: 30s
providers:
  - name: openai-byok
    kind: openai
    base_url: https://api.openai.com/v1
    byok: true
`)
	if _, err := LoadFromBytes(data); err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
}

func TestValidateRejectsRedisStoreWithoutAddr(t *testing.T) {
	data := []byte(`
server:
  listen_addr: ":8080"
  read_timeout: 30s
  write_timeout: 30s
providers:
  - name: openai-main
    kind: openai
    base_url: https://api.openai.com/v1
    api_key: sk-test
rate_limit:
  store: redis
`)
	_, err := LoadFromBytes(data)
	if err == nil {
		t.Fatal("expected redis store without addr to be rejected")
	}
}

func TestClientIPPolicyAllowsBothRealIPAndTrustedHops(t *testing.T) {
	hops := 2
	data := []byte(`
server:
  listen_addr: ":8080"
  read_timeout: 30s
  write_timeout: 30s
providers:
  - name: openai-main
    kind: openai
    base_url: https://api.openai.com/v1
    api_key: sk-test
rate_limit:
  client_ip:
    x_real_ip: true
    x_forwarded_for_trusted_hops: 2
`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if !cfg.RateLimit.ClientIP.XRealIP {
		t.Error("expected XRealIP true")
	}
	if cfg.RateLimit.ClientIP.XForwardedForTrustedHops == nil || *cfg.RateLimit.ClientIP.XForwardedForTrustedHops != hops {
		t.Errorf("expected trusted hops = %d", hops)
	}
}

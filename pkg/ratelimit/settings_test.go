package ratelimit

import (
	"os"
	"testing"

	"lightapi/router/pkg/config"
)

func intPtr(n int) *int {
	return &n
}

func baseConfig() *config.ApiConfig {
	return &config.ApiConfig{
		Endpoints: map[string]config.EndpointConfig{},
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvRequestsPerMinute, "")
	t.Setenv(EnvBurst, "")
	os.Unsetenv(EnvRequestsPerMinute)
	os.Unsetenv(EnvBurst)
}

func TestResolve_EndpointBeatsGlobal(t *testing.T) {
	clearEnv(t)
	cfg := baseConfig()
	cfg.Endpoints["/v1/test"] = config.EndpointConfig{
		RateLimit: &config.RateLimitConfig{RequestsPerMinute: intPtr(10), Burst: intPtr(20)},
	}
	cfg.RateLimit = &config.RateLimitConfig{RequestsPerMinute: intPtr(1), Burst: intPtr(2)}

	settings, limited := Resolve("/v1/test", cfg)
	if !limited {
		t.Fatal("expected a limit")
	}
	if settings.RequestsPerMinute != 10 || settings.Burst != 20 {
		t.Errorf("unexpected settings %+v", settings)
	}
}

func TestResolve_BurstDefaultsToRequestsPerMinute(t *testing.T) {
	clearEnv(t)
	cfg := baseConfig()
	cfg.Endpoints["/v1/test"] = config.EndpointConfig{
		RateLimit: &config.RateLimitConfig{RequestsPerMinute: intPtr(12)},
	}

	settings, limited := Resolve("/v1/test", cfg)
	if !limited {
		t.Fatal("expected a limit")
	}
	if settings.Burst != 12 {
		t.Errorf("expected burst 12, got %d", settings.Burst)
	}
}

func TestResolve_BurstMinimumIsOne(t *testing.T) {
	clearEnv(t)
	cfg := baseConfig()
	cfg.RateLimit = &config.RateLimitConfig{RequestsPerMinute: intPtr(100), Burst: intPtr(0)}

	settings, limited := Resolve("/v1/test", cfg)
	if !limited {
		t.Fatal("expected a limit")
	}
	if settings.Burst != 1 {
		t.Errorf("expected burst clamped to 1, got %d", settings.Burst)
	}
}

func TestResolve_ZeroRequestsMeansUnlimited(t *testing.T) {
	clearEnv(t)
	cfg := baseConfig()
	cfg.RateLimit = &config.RateLimitConfig{RequestsPerMinute: intPtr(0), Burst: intPtr(10)}

	if _, limited := Resolve("/v1/test", cfg); limited {
		t.Error("requestsPerMinute 0 must disable limiting")
	}
}

func TestResolve_MissingConfigMeansUnlimited(t *testing.T) {
	clearEnv(t)
	if _, limited := Resolve("/v1/test", baseConfig()); limited {
		t.Error("expected unlimited without any configuration")
	}
}

func TestResolve_EnvironmentDefaults(t *testing.T) {
	t.Setenv(EnvRequestsPerMinute, "6")
	t.Setenv(EnvBurst, "3")

	settings, limited := Resolve("/v1/test", baseConfig())
	if !limited {
		t.Fatal("expected a limit from the environment")
	}
	if settings.RequestsPerMinute != 6 || settings.Burst != 3 {
		t.Errorf("unexpected settings %+v", settings)
	}
}

func TestResolve_EndpointBurstBeatsGlobalBurst(t *testing.T) {
	clearEnv(t)
	cfg := baseConfig()
	cfg.Endpoints["/v1/test"] = config.EndpointConfig{
		RateLimit: &config.RateLimitConfig{RequestsPerMinute: intPtr(10), Burst: intPtr(5)},
	}
	cfg.RateLimit = &config.RateLimitConfig{RequestsPerMinute: intPtr(100), Burst: intPtr(50)}

	settings, _ := Resolve("/v1/test", cfg)
	if settings.RequestsPerMinute != 10 || settings.Burst != 5 {
		t.Errorf("unexpected settings %+v", settings)
	}
}

func TestResolve_InvalidEnvironmentIgnored(t *testing.T) {
	t.Setenv(EnvRequestsPerMinute, "not-a-number")
	if _, limited := Resolve("/v1/test", baseConfig()); limited {
		t.Error("unparseable environment values must be ignored")
	}
}

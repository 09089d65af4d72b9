package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_RequiresBaseURL(t *testing.T) {
	os.Unsetenv("OPENMRS_BASE_URL")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when OPENMRS_BASE_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENMRS_BASE_URL", "http://emr.local/openmrs/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenMRSBaseURL != "http://emr.local/openmrs" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.OpenMRSBaseURL)
	}
	if cfg.RestBaseURL() != "http://emr.local/openmrs/ws/rest/v1" {
		t.Errorf("unexpected rest base url %s", cfg.RestBaseURL())
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.AttributeTypeUUID != DefaultLocationAttributeTypeUUID {
		t.Errorf("expected default attribute type, got %s", cfg.AttributeTypeUUID)
	}
	if cfg.WorkflowTTL != 15*time.Minute {
		t.Errorf("expected default workflow ttl 15m, got %s", cfg.WorkflowTTL)
	}
	if cfg.HTTPClientTimeout != 15*time.Second {
		t.Errorf("expected default client timeout 15s, got %s", cfg.HTTPClientTimeout)
	}
	if cfg.WorkflowTokenSecret == "" {
		t.Error("expected development secret to be filled in")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_OverridesWellKnownIDs(t *testing.T) {
	t.Setenv("OPENMRS_BASE_URL", "http://emr.local")
	t.Setenv("CLINIC_TAG_UUID", "tag-1")
	t.Setenv("LOGIN_PROVIDER", "oauth2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ClinicTagUUID != "tag-1" {
		t.Errorf("expected tag-1, got %s", cfg.ClinicTagUUID)
	}
	if !cfg.IsOAuth2() {
		t.Error("expected oauth2 provider")
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func validConfig() *Config {
	return &Config{
		Env:                  "production",
		LoginProvider:        ProviderBasic,
		LoginSuccessURL:      "/home",
		AttributeTypeUUID:    DefaultLocationAttributeTypeUUID,
		FacilityLocationUUID: DefaultFacilityLocationUUID,
		ClinicTagUUID:        DefaultClinicTagUUID,
		IPDDepartmentUUID:    DefaultIPDDepartmentUUID,
		WorkflowTokenSecret:  "0123456789abcdef0123456789abcdef",
		WorkflowTTL:          time.Minute,
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_OAuth2RequiresURLs(t *testing.T) {
	c := validConfig()
	c.LoginProvider = ProviderOAuth2
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when oauth2 urls are missing")
	}
	c.OAuth2LoginURL = "https://idp/login"
	c.OAuth2LogoutURL = "https://idp/logout"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	c := validConfig()
	c.LoginProvider = "saml"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidate_ShortSecretOutsideDev(t *testing.T) {
	c := validConfig()
	c.WorkflowTokenSecret = "short"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for short secret")
	}
	c.Env = "development"
	if err := c.Validate(); err != nil {
		t.Fatalf("short secret should be tolerated in development: %v", err)
	}
}

func TestValidate_EmptyWellKnownID(t *testing.T) {
	c := validConfig()
	c.IPDDepartmentUUID = " "
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for blank IPD department")
	}
}

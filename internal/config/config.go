package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Well-known identifiers of the reference deployment. Every one of them can
// be overridden through the environment.
const (
	DefaultLocationAttributeTypeUUID = "13a721e4-68e5-4f7a-8aee-3cbcec127179"
	DefaultFacilityLocationUUID      = "629d78e9-93e5-43b0-ad8a-48313fd99117"
	DefaultClinicTagUUID             = "1d3e4224-382a-11ee-be56-0242ac120002"
	DefaultIPDDepartmentUUID         = "79b169dd-4b35-4312-a2f0-d72ece1ac4ba"
)

const (
	ProviderBasic  = "basic"
	ProviderOAuth2 = "oauth2"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	OpenMRSBaseURL    string        `mapstructure:"OPENMRS_BASE_URL"`
	OpenMRSRestPath   string        `mapstructure:"OPENMRS_REST_PATH"`
	HTTPClientTimeout time.Duration `mapstructure:"HTTP_CLIENT_TIMEOUT"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	LoginProvider   string `mapstructure:"LOGIN_PROVIDER"`
	OAuth2LoginURL  string `mapstructure:"OAUTH2_LOGIN_URL"`
	OAuth2LogoutURL string `mapstructure:"OAUTH2_LOGOUT_URL"`
	LoginSuccessURL string `mapstructure:"LOGIN_SUCCESS_URL"`
	LoginURL        string `mapstructure:"LOGIN_URL"`
	LogoutURL       string `mapstructure:"LOGOUT_URL"`

	AttributeTypeUUID    string `mapstructure:"DEFAULT_LOCATION_ATTRIBUTE_TYPE_UUID"`
	FacilityLocationUUID string `mapstructure:"FACILITY_LOCATION_UUID"`
	ClinicTagUUID        string `mapstructure:"CLINIC_TAG_UUID"`
	IPDDepartmentUUID    string `mapstructure:"IPD_DEPARTMENT_UUID"`

	WorkflowTokenSecret string        `mapstructure:"WORKFLOW_TOKEN_SECRET"`
	WorkflowTTL         time.Duration `mapstructure:"WORKFLOW_TTL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RedisURL         string        `mapstructure:"REDIS_URL"`
	SessionMirrorTTL time.Duration `mapstructure:"SESSION_MIRROR_TTL"`

	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	LoginRateLimitRPS   float64  `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst int      `mapstructure:"LOGIN_RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT", "ENV", "OPENMRS_BASE_URL", "OPENMRS_REST_PATH", "HTTP_CLIENT_TIMEOUT",
	"REQUEST_TIMEOUT", "LOGIN_PROVIDER", "OAUTH2_LOGIN_URL", "OAUTH2_LOGOUT_URL",
	"LOGIN_SUCCESS_URL", "LOGIN_URL", "LOGOUT_URL",
	"DEFAULT_LOCATION_ATTRIBUTE_TYPE_UUID", "FACILITY_LOCATION_UUID", "CLINIC_TAG_UUID",
	"IPD_DEPARTMENT_UUID", "WORKFLOW_TOKEN_SECRET", "WORKFLOW_TTL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "SESSION_MIRROR_TTL",
	"CORS_ORIGINS", "LOGIN_RATE_LIMIT_RPS", "LOGIN_RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("OPENMRS_REST_PATH", "/ws/rest/v1")
	v.SetDefault("HTTP_CLIENT_TIMEOUT", "15s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOGIN_PROVIDER", ProviderBasic)
	v.SetDefault("LOGIN_SUCCESS_URL", "/openmrs/spa/home/patient-queues")
	v.SetDefault("LOGIN_URL", "/openmrs/spa/login")
	v.SetDefault("LOGOUT_URL", "/openmrs/spa/logout")
	v.SetDefault("DEFAULT_LOCATION_ATTRIBUTE_TYPE_UUID", DefaultLocationAttributeTypeUUID)
	v.SetDefault("FACILITY_LOCATION_UUID", DefaultFacilityLocationUUID)
	v.SetDefault("CLINIC_TAG_UUID", DefaultClinicTagUUID)
	v.SetDefault("IPD_DEPARTMENT_UUID", DefaultIPDDepartmentUUID)
	v.SetDefault("WORKFLOW_TTL", "15m")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SESSION_MIRROR_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 1)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.OpenMRSBaseURL == "" {
		return nil, fmt.Errorf("OPENMRS_BASE_URL is required")
	}
	cfg.OpenMRSBaseURL = strings.TrimRight(cfg.OpenMRSBaseURL, "/")

	if cfg.IsDev() && cfg.WorkflowTokenSecret == "" {
		log.Println("WARNING: WORKFLOW_TOKEN_SECRET is empty, using an insecure development secret.")
		cfg.WorkflowTokenSecret = "development-only-workflow-secret-do-not-use"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsOAuth2 reports whether login is delegated to an external identity provider.
func (c *Config) IsOAuth2() bool {
	return c.LoginProvider == ProviderOAuth2
}

// RestBaseURL joins the backend origin and the REST path.
func (c *Config) RestBaseURL() string {
	return c.OpenMRSBaseURL + "/" + strings.Trim(c.OpenMRSRestPath, "/")
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.LoginProvider {
	case ProviderBasic:
	case ProviderOAuth2:
		if c.OAuth2LoginURL == "" {
			return fmt.Errorf("OAUTH2_LOGIN_URL is required when LOGIN_PROVIDER is %q", ProviderOAuth2)
		}
		if c.OAuth2LogoutURL == "" {
			return fmt.Errorf("OAUTH2_LOGOUT_URL is required when LOGIN_PROVIDER is %q", ProviderOAuth2)
		}
	default:
		return fmt.Errorf("LOGIN_PROVIDER must be %q or %q, got %q", ProviderBasic, ProviderOAuth2, c.LoginProvider)
	}

	ids := map[string]string{
		"DEFAULT_LOCATION_ATTRIBUTE_TYPE_UUID": c.AttributeTypeUUID,
		"FACILITY_LOCATION_UUID":               c.FacilityLocationUUID,
		"CLINIC_TAG_UUID":                      c.ClinicTagUUID,
		"IPD_DEPARTMENT_UUID":                  c.IPDDepartmentUUID,
	}
	for key, val := range ids {
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}

	if !c.IsDev() && len(c.WorkflowTokenSecret) < 32 {
		return fmt.Errorf("WORKFLOW_TOKEN_SECRET must be at least 32 bytes outside development")
	}
	if c.WorkflowTTL <= 0 {
		return fmt.Errorf("WORKFLOW_TTL must be positive")
	}
	if c.LoginSuccessURL == "" {
		return fmt.Errorf("LOGIN_SUCCESS_URL is required")
	}
	return nil
}

package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("DEFAULT_COUNTRY_CODE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}

	if cfg.DefaultCountryCode != "55" {
		t.Errorf("expected default country code 55, got %s", cfg.DefaultCountryCode)
	}

	if cfg.DispatchPollSeconds != 5 || cfg.DispatchBatchSize != 10 {
		t.Errorf("unexpected dispatcher defaults: poll=%d batch=%d", cfg.DispatchPollSeconds, cfg.DispatchBatchSize)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("ENV", "production")
	os.Setenv("WHATSAPP_BASE_URL", "https://wa.example.com")
	os.Setenv("WHATSAPP_INSTANCE", "hospital-main")
	os.Setenv("WHATSAPP_TOKEN", "secret")
	os.Setenv("SURVEY_URL", "https://survey.example.com/s/abc")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("ENV")
		os.Unsetenv("WHATSAPP_BASE_URL")
		os.Unsetenv("WHATSAPP_INSTANCE")
		os.Unsetenv("WHATSAPP_TOKEN")
		os.Unsetenv("SURVEY_URL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}

	if cfg.WhatsAppBaseURL != "https://wa.example.com" {
		t.Errorf("unexpected whatsapp base url: %s", cfg.WhatsAppBaseURL)
	}

	if cfg.WhatsAppInstance != "hospital-main" || cfg.WhatsAppToken != "secret" {
		t.Error("whatsapp instance/token not loaded")
	}

	if cfg.SurveyURL != "https://survey.example.com/s/abc" {
		t.Errorf("unexpected survey url: %s", cfg.SurveyURL)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	os.Setenv("PORT", "not-a-number")
	defer os.Unsetenv("PORT")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoad_RegionFallbacks(t *testing.T) {
	os.Setenv("AWS_REGION", "sa-east-1")
	os.Unsetenv("SNS_REGION")
	os.Unsetenv("SQS_REGION")
	defer os.Unsetenv("AWS_REGION")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.SNSRegion != "sa-east-1" {
		t.Errorf("expected SNS region to fall back to AWS region, got %s", cfg.SNSRegion)
	}
	if cfg.SQSRegion != "sa-east-1" {
		t.Errorf("expected SQS region to fall back to AWS region, got %s", cfg.SQSRegion)
	}
}

package config

import "testing"

func TestValidateDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsBadConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Concurrency = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestValidateRejectsInvertedRetryDelays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.MaxDelayMs = cfg.Retry.BaseDelayMs - 1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when max_delay_ms < base_delay_ms")
	}
}

func TestValidateRejectsBadCrawlType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CrawlType = "unknown"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unsupported crawl_type")
	}
}

func TestValidateRejectsBadFailureSignatureRegex(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Classifier.SoftFailureSignatures = []string{"("}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestValidateRequiresAtLeastOneQueueRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queue.DiscoveryRatio = 0
	cfg.Queue.AcquisitionRatio = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when both queue ratios are zero")
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/a", false},
		{"http://example.com", false},
		{"ftp://example.com", true},
		{"not a url", true},
		{"https://", true},
	}
	for _, c := range cases {
		err := ValidateURL(c.url)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateURL(%q): err=%v, wantErr=%v", c.url, err, c.wantErr)
		}
	}
}

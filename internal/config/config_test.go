package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"AUTOSAVE_INTERVAL_SECONDS", "MAX_VIOLATIONS", "RABBITMQ_URL", "ALLOWED_ORIGINS", "MIGRATE_ON_START"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.Exam.AutosaveInterval != 30*time.Second {
		t.Errorf("AutosaveInterval = %v, want 30s", cfg.Exam.AutosaveInterval)
	}
	if cfg.Exam.FlushTimeout != 10*time.Second || cfg.Exam.CompleteTimeout != 5*time.Second {
		t.Errorf("submission timeouts = %v/%v", cfg.Exam.FlushTimeout, cfg.Exam.CompleteTimeout)
	}
	if cfg.Exam.MaxViolations != 10 {
		t.Errorf("MaxViolations = %d, want 10", cfg.Exam.MaxViolations)
	}
	if cfg.Exam.FullscreenVerify != 300*time.Millisecond {
		t.Errorf("FullscreenVerify = %v", cfg.Exam.FullscreenVerify)
	}
	if cfg.RabbitURL != "" || cfg.AllowedOrigins != nil || cfg.MigrateOnStart {
		t.Errorf("optional settings not off by default: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTOSAVE_INTERVAL_SECONDS", "15")
	t.Setenv("SUBMIT_FLUSH_TIMEOUT_SECONDS", "-3")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("MIGRATE_ON_START", "true")

	cfg := Load()
	if cfg.Exam.AutosaveInterval != 15*time.Second {
		t.Errorf("AutosaveInterval = %v, want 15s", cfg.Exam.AutosaveInterval)
	}
	if cfg.Exam.FlushTimeout != 10*time.Second {
		t.Errorf("non-positive override not ignored: %v", cfg.Exam.FlushTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if !cfg.MigrateOnStart {
		t.Error("MIGRATE_ON_START ignored")
	}
}

func TestCacheKeys(t *testing.T) {
	if got := CacheKey.ExamProgressKey("s1"); got != "exam_progress_s1" {
		t.Errorf("ExamProgressKey = %q", got)
	}
	if got := CacheKey.ExamQuestionOrderKey("s1"); got != "exam_question_order_s1" {
		t.Errorf("ExamQuestionOrderKey = %q", got)
	}
}

package app

import "testing"

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := ParseFlags("futatabi", nil)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.Width != 1280 || cfg.Height != 720 {
		t.Errorf("default dimensions = %dx%d, want 1280x720", cfg.Width, cfg.Height)
	}
	if cfg.FPS() != 60 {
		t.Errorf("default FPS() = %v, want 60", cfg.FPS())
	}
	if cfg.InterpolationQuality != 1 {
		t.Errorf("default InterpolationQuality = %d, want 1", cfg.InterpolationQuality)
	}
	if cfg.HTTPPort != 9095 {
		t.Errorf("default HTTPPort = %d, want 9095", cfg.HTTPPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default Config should validate, got %v", err)
	}
}

func TestParseFlagsFrameRateFraction(t *testing.T) {
	cfg, err := ParseFlags("futatabi", []string{"--frame-rate", "60000/1001"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.FrameRateNum != 60000 || cfg.FrameRateDen != 1001 {
		t.Fatalf("got %d/%d, want 60000/1001", cfg.FrameRateNum, cfg.FrameRateDen)
	}
	got := cfg.FPS()
	want := 60000.0 / 1001.0
	if got < want-1e-9 || got > want+1e-9 {
		t.Errorf("FPS() = %v, want %v", got, want)
	}
}

func TestParseFlagsFrameRateWholeNumber(t *testing.T) {
	cfg, err := ParseFlags("futatabi", []string{"--frame-rate", "25"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.FrameRateNum != 25 || cfg.FrameRateDen != 1 {
		t.Fatalf("got %d/%d, want 25/1", cfg.FrameRateNum, cfg.FrameRateDen)
	}
}

func TestParseFlagsSourceLabelsRepeatable(t *testing.T) {
	cfg, err := ParseFlags("futatabi", []string{"--source-label", "0:Wide", "--source-label", "1:Tight"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.SourceLabels[0] != "Wide" || cfg.SourceLabels[1] != "Tight" {
		t.Fatalf("got %v", cfg.SourceLabels)
	}
}

func TestParseFlagsSourceLabelRejectsMissingColon(t *testing.T) {
	if _, err := ParseFlags("futatabi", []string{"--source-label", "nocolon"}); err == nil {
		t.Fatal("expected error for malformed --source-label")
	}
}

func TestParseFlagsLowercasesLogSettings(t *testing.T) {
	cfg, err := ParseFlags("futatabi", []string{"--log-level", "DEBUG", "--log-format", "JSON"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("got level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestValidateRejectsBadDimensions(t *testing.T) {
	cfg := Config{Width: 0, Height: 720, FrameRateNum: 60, WorkingDirectory: ".", HTTPPort: 9095}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero width")
	}
}

func TestValidateRejectsBadInterpolationQuality(t *testing.T) {
	cfg := Config{Width: 1280, Height: 720, FrameRateNum: 60, WorkingDirectory: ".", HTTPPort: 9095, InterpolationQuality: 5}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range interpolation quality")
	}
}

func TestValidateRejectsMissingWorkingDirectory(t *testing.T) {
	cfg := Config{Width: 1280, Height: 720, FrameRateNum: 60, HTTPPort: 9095}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty working directory")
	}
}

func TestValidateAcceptsInterpolationOff(t *testing.T) {
	cfg := Config{Width: 1280, Height: 720, FrameRateNum: 60, WorkingDirectory: ".", HTTPPort: 9095, InterpolationQuality: 0}
	if err := cfg.Validate(); err != nil {
		t.Errorf("quality 0 (off) should validate, got %v", err)
	}
}

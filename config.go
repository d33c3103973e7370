package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Campaign   CampaignConfig   `yaml:"campaign"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Files      FilesConfig      `yaml:"files"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type BrowserConfig struct {
	Headless                bool   `yaml:"headless"`
	UserDataDir             string `yaml:"user_data_dir"`
	ChromePath              string `yaml:"chrome_path"`
	QRTimeoutSeconds        int    `yaml:"qr_timeout_seconds"`
	PageLoadTimeout         int    `yaml:"page_load_timeout"`
	NavigationSettleSeconds int    `yaml:"navigation_settle_seconds"`
	ComposerTimeoutSeconds  int    `yaml:"composer_timeout_seconds"`
	PollIntervalMs          int    `yaml:"poll_interval_ms"`
}

type CampaignConfig struct {
	DelayMinSeconds int   `yaml:"delay_min_seconds"`
	DelayMaxSeconds int   `yaml:"delay_max_seconds"`
	RetryMax        *int  `yaml:"retry_max"`
	ContinueOnError *bool `yaml:"continue_on_error"`
	TypingEffect    *bool `yaml:"typing_effect"`
	TypingDelayMs   int   `yaml:"typing_delay_ms"`
}

type ExtractionConfig struct {
	MinScore             int `yaml:"min_score"`
	MaxScrollIterations  int `yaml:"max_scroll_iterations"`
	StableIterations     int `yaml:"stable_iterations"`
	ScrollStepPixels     int `yaml:"scroll_step_pixels"`
	SettleDelaySeconds   int `yaml:"settle_delay_seconds"`
	NetworkBodyLimitKB   int `yaml:"network_body_limit_kb"`
	ProgressEveryPercent int `yaml:"progress_every_percent"`
}

type FilesConfig struct {
	CSVPath        string `yaml:"csv_path"`
	TemplatePath   string `yaml:"template_path"`
	ImagePath      string `yaml:"image_path"`
	StatePath      string `yaml:"state_path"`
	ReportCSVPath  string `yaml:"report_csv_path"`
	ExtractCSVPath string `yaml:"extract_csv_path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
}

// Defaults used when the config file leaves a knob unset. The campaign
// defaults mirror what a fresh persisted state starts with.
const (
	defaultDelayMin      = 5
	defaultDelayMax      = 10
	defaultRetryMax      = 2
	defaultTypingDelayMs = 35
	defaultMinScore      = 25
)

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Browser.UserDataDir == "" {
		config.Browser.UserDataDir = "./chrome-data"
	}
	absPath, err := filepath.Abs(config.Browser.UserDataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user data directory path: %w", err)
	}
	config.Browser.UserDataDir = absPath

	if config.Browser.ChromePath == "" {
		config.Browser.ChromePath = findChromePath()
	}
	if config.Browser.QRTimeoutSeconds == 0 {
		config.Browser.QRTimeoutSeconds = 60
	}
	if config.Browser.PageLoadTimeout == 0 {
		config.Browser.PageLoadTimeout = 30
	}
	if config.Browser.NavigationSettleSeconds == 0 {
		config.Browser.NavigationSettleSeconds = 4
	}
	if config.Browser.ComposerTimeoutSeconds == 0 {
		config.Browser.ComposerTimeoutSeconds = 30
	}
	if config.Browser.PollIntervalMs == 0 {
		config.Browser.PollIntervalMs = 500
	}

	if config.Campaign.DelayMinSeconds == 0 {
		config.Campaign.DelayMinSeconds = defaultDelayMin
	}
	if config.Campaign.DelayMaxSeconds == 0 {
		config.Campaign.DelayMaxSeconds = defaultDelayMax
	}
	if config.Campaign.DelayMaxSeconds < config.Campaign.DelayMinSeconds {
		return nil, fmt.Errorf("delay_max_seconds (%d) must not be below delay_min_seconds (%d)",
			config.Campaign.DelayMaxSeconds, config.Campaign.DelayMinSeconds)
	}
	if config.Campaign.RetryMax == nil {
		v := defaultRetryMax
		config.Campaign.RetryMax = &v
	}
	if config.Campaign.ContinueOnError == nil {
		v := true
		config.Campaign.ContinueOnError = &v
	}
	if config.Campaign.TypingEffect == nil {
		v := true
		config.Campaign.TypingEffect = &v
	}
	if config.Campaign.TypingDelayMs == 0 {
		config.Campaign.TypingDelayMs = defaultTypingDelayMs
	}

	if config.Extraction.MinScore == 0 {
		config.Extraction.MinScore = defaultMinScore
	}
	if config.Extraction.MaxScrollIterations == 0 {
		config.Extraction.MaxScrollIterations = 50
	}
	if config.Extraction.StableIterations == 0 {
		config.Extraction.StableIterations = 3
	}
	if config.Extraction.ScrollStepPixels == 0 {
		config.Extraction.ScrollStepPixels = 600
	}
	if config.Extraction.SettleDelaySeconds == 0 {
		config.Extraction.SettleDelaySeconds = 3
	}
	if config.Extraction.NetworkBodyLimitKB == 0 {
		config.Extraction.NetworkBodyLimitKB = 512
	}
	if config.Extraction.ProgressEveryPercent == 0 {
		config.Extraction.ProgressEveryPercent = 5
	}

	if config.Files.StatePath == "" {
		config.Files.StatePath = "campaign_state.json"
	}
	if config.Files.ReportCSVPath == "" {
		config.Files.ReportCSVPath = "campaign_report.csv"
	}
	if config.Files.ExtractCSVPath == "" {
		config.Files.ExtractCSVPath = "extracted_numbers.csv"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if !isValidLogLevel(config.Logging.Level) {
		return nil, fmt.Errorf("unknown logging level %q (expected debug, info, warn or error)", config.Logging.Level)
	}

	return &config, nil
}

// findChromePath attempts to locate Chrome executable on the system
func findChromePath() string {
	if runtime.GOOS == "windows" {
		// Common Chrome installation paths on Windows
		paths := []string{
			"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
			"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
			os.Getenv("LOCALAPPDATA") + "\\Google\\Chrome\\Application\\chrome.exe",
		}

		for _, path := range paths {
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	// Return empty string to use chromedp defaults for other OS or if not found
	return ""
}

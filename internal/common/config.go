package common

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Browser     BrowserConfig   `toml:"browser"`
	Listing     ListingConfig   `toml:"listing"`
	Session     SessionConfig   `toml:"session"`
	Extractor   ExtractorConfig `toml:"extractor"`
	Export      ExportConfig    `toml:"export"`
	Schedule    ScheduleConfig  `toml:"schedule"`
	Mail        MailConfig      `toml:"mail"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

type LoggingConfig struct {
	Level         string   `toml:"level" validate:"oneof=debug info warn error"`           // "debug", "info", "warn", "error"
	Output        []string `toml:"output"`                                                 // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`                                            // default "15:04:05"
	MinEventLevel string   `toml:"min_event_level" validate:"oneof=debug info warn error"` // Run log lines at or above this level reach the ribbon
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// BrowserConfig controls the Chromium instance driven over the DevTools protocol
type BrowserConfig struct {
	Headless       bool     `toml:"headless"`
	NoSandbox      bool     `toml:"no_sandbox"`
	DisableGPU     bool     `toml:"disable_gpu"`
	ExecPath       string   `toml:"exec_path"`     // Chrome binary, empty = autodetect
	UserDataDir    string   `toml:"user_data_dir"` // Profile holding the logged-in session for the report site
	UserAgent      string   `toml:"user_agent"`
	WindowWidth    int      `toml:"window_width" validate:"min=0"`
	WindowHeight   int      `toml:"window_height" validate:"min=0"`
	StartupTimeout Duration `toml:"startup_timeout" validate:"gt=0"`
}

// ListingConfig describes the page that lists reports
type ListingConfig struct {
	URL             string   `toml:"url"`
	ReportPattern   string   `toml:"report_pattern" validate:"required"` // Anchor text pattern, e.g. ^CAR-\d+$
	DetailsFragment string   `toml:"details_fragment"`                   // Appended to report URLs when opening a window
	LoadTimeout     Duration `toml:"load_timeout" validate:"gt=0"`       // Bound on listing page load
	SettleDelay     Duration `toml:"settle_delay" validate:"min=0"`      // Wait after readyState=complete for grid rendering
}

// SessionConfig controls one report window's lifetime
type SessionConfig struct {
	Timeout           Duration `toml:"timeout" validate:"gt=0"`              // Wall-clock bound per window
	PollInterval      Duration `toml:"poll_interval" validate:"gt=0"`        // Closed/ready polling
	SettleDelay       Duration `toml:"settle_delay" validate:"min=0"`        // Wait after readyState=complete before scraping
	InterSessionDelay Duration `toml:"inter_session_delay" validate:"min=0"` // Pause between windows
	EmptyRetries      int      `toml:"empty_retries" validate:"min=0"`       // Extra extraction attempts while a loaded page yields no data
}

// ExtractorConfig holds the page-specific scraping heuristics.
// Field names, precedence terms and patterns are configuration so that
// target-page changes do not require code changes.
type ExtractorConfig struct {
	LabelSelector      string          `toml:"label_selector" validate:"required"`
	ValueSelector      string          `toml:"value_selector"`
	StageSelector      string          `toml:"stage_selector"`
	StageLabelSelector string          `toml:"stage_label_selector"`
	StageValueSelector string          `toml:"stage_value_selector"`
	TargetSelector     string          `toml:"target_selector"`
	OwnerLinkSelector  string          `toml:"owner_link_selector"` // Profile link inside the stage owner value
	HeadingSelector    string          `toml:"heading_selector"`    // Page heading carrying the report id
	PrimaryStage       string          `toml:"primary_stage"`
	FollowUpTerms      []string        `toml:"follow_up_terms"`
	PrimaryStatus      string          `toml:"primary_status"`
	FollowUpStatus     string          `toml:"follow_up_status"`
	CompleteMarker     string          `toml:"complete_marker"`
	StripTokens        []string        `toml:"strip_tokens"`
	DatePattern        string          `toml:"date_pattern" validate:"required"`
	NotFound           string          `toml:"not_found"`
	Labels             ExtractorLabels `toml:"labels"`
}

// ExtractorLabels lists the label texts searched for each field
type ExtractorLabels struct {
	RaisedDate    []string `toml:"raised_date" validate:"min=1"`
	StageOwner    []string `toml:"stage_owner" validate:"min=1"`
	TargetDate    []string `toml:"target_date" validate:"min=1"`
	CompletedDate []string `toml:"completed_date"`
	Status        []string `toml:"status" validate:"min=1"`
}

type ExportConfig struct {
	Dir            string `toml:"dir"`
	FilenamePrefix string `toml:"filename_prefix"`
	RemarksFormat  string `toml:"remarks_format"` // Go time layout applied to the extraction date
}

// ScheduleConfig drives unattended runs
type ScheduleConfig struct {
	Enabled      bool     `toml:"enabled"`
	Cron         string   `toml:"cron"` // 5-field cron expression
	ExportFormat string   `toml:"export_format" validate:"omitempty,oneof=csv xlsx pdf"`
	MailTo       []string `toml:"mail_to"`
}

// MailConfig holds SMTP delivery settings for scheduled exports
type MailConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"min=0,max=65535"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	UseTLS   bool   `toml:"use_tls"`
}

// WebSocketConfig contains configuration for the ribbon's live updates
type WebSocketConfig struct {
	ProgressThrottle Duration `toml:"progress_throttle"` // Minimum interval between progress broadcasts, 0 = unthrottled
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Output:        []string{"stdout", "file"},
			TimeFormat:    "15:04:05",
			MinEventLevel: "info",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Browser: BrowserConfig{
			Headless:       true,
			NoSandbox:      false,
			DisableGPU:     true,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			WindowWidth:    1200,
			WindowHeight:   800,
			StartupTimeout: Duration(30 * time.Second),
		},
		Listing: ListingConfig{
			ReportPattern:   `^CAR-\d+$`,
			DetailsFragment: "#!/details",
			LoadTimeout:     Duration(60 * time.Second),
			SettleDelay:     Duration(2 * time.Second),
		},
		Session: SessionConfig{
			Timeout:           Duration(20 * time.Second),
			PollInterval:      Duration(1 * time.Second),
			SettleDelay:       Duration(1 * time.Second),
			InterSessionDelay: Duration(2 * time.Second),
			EmptyRetries:      3,
		},
		Extractor: ExtractorConfig{
			LabelSelector:      "div.details-label, .g-label, label, td, th, span, div",
			ValueSelector:      ".staticText, .g-value",
			StageSelector:      "li.stage-li",
			StageLabelSelector: "div.details-label",
			StageValueSelector: ".staticText",
			TargetSelector:     ".staticTextContainer",
			OwnerLinkSelector:  `a[href*="UserProfile"]`,
			HeadingSelector:    ".g-subheading__title h1",
			PrimaryStage:       "investigation",
			FollowUpTerms:      []string{"qa", "follow"},
			PrimaryStatus:      "Investigation",
			FollowUpStatus:     "QA Follow-up",
			CompleteMarker:     "complete",
			StripTokens:        []string{"Cancel", "Save"},
			DatePattern:        `\b\d{1,2}/\d{1,2}/\d{4}\b`,
			Labels: ExtractorLabels{
				RaisedDate:    []string{"Raised Date"},
				StageOwner:    []string{"Stage Owner:", "Stage Owner"},
				TargetDate:    []string{"Target Date"},
				CompletedDate: []string{"Completed date"},
				Status:        []string{"Status:", "Status"},
			},
		},
		Export: ExportConfig{
			Dir:            "./exports",
			FilenamePrefix: "HAESL_CAR_Export_",
			RemarksFormat:  "02 Jan",
		},
		Schedule: ScheduleConfig{
			Enabled:      false,
			Cron:         "30 7 * * 1-5", // Weekday mornings before the meeting
			ExportFormat: "csv",
		},
		Mail: MailConfig{
			Port:   587,
			UseTLS: true,
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: Duration(250 * time.Millisecond),
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CAREXTRACT_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CAREXTRACT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CAREXTRACT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("CAREXTRACT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CAREXTRACT_LOG_OUTPUT"); output != "" {
		outputs := splitList(output)
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("CAREXTRACT_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Browser configuration
	if headless := os.Getenv("CAREXTRACT_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if execPath := os.Getenv("CAREXTRACT_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if userDataDir := os.Getenv("CAREXTRACT_BROWSER_USER_DATA_DIR"); userDataDir != "" {
		config.Browser.UserDataDir = userDataDir
	}
	if noSandbox := os.Getenv("CAREXTRACT_BROWSER_NO_SANDBOX"); noSandbox != "" {
		if ns, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = ns
		}
	}

	// Listing configuration
	if listingURL := os.Getenv("CAREXTRACT_LISTING_URL"); listingURL != "" {
		config.Listing.URL = listingURL
	}

	// Session configuration
	if timeout := os.Getenv("CAREXTRACT_SESSION_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Session.Timeout = Duration(t)
		}
	}
	if delay := os.Getenv("CAREXTRACT_SESSION_INTER_SESSION_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Session.InterSessionDelay = Duration(d)
		}
	}

	// Mail configuration
	if host := os.Getenv("CAREXTRACT_MAIL_HOST"); host != "" {
		config.Mail.Host = host
	}
	if username := os.Getenv("CAREXTRACT_MAIL_USERNAME"); username != "" {
		config.Mail.Username = username
	}
	if password := os.Getenv("CAREXTRACT_MAIL_PASSWORD"); password != "" {
		config.Mail.Password = password
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string, listingURL string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if listingURL != "" {
		config.Listing.URL = listingURL
	}
}

var validate = validator.New()

// Validate checks struct constraints plus the values the tags cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := regexp.Compile(c.Listing.ReportPattern); err != nil {
		return fmt.Errorf("invalid listing.report_pattern: %w", err)
	}
	if _, err := regexp.Compile(c.Extractor.DatePattern); err != nil {
		return fmt.Errorf("invalid extractor.date_pattern: %w", err)
	}

	if c.Schedule.Enabled {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule.cron: %w", err)
		}
	}

	return nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// MailConfigured returns true when SMTP delivery is possible
func (c *Config) MailConfigured() bool {
	return c.Mail.Host != "" && c.Mail.From != ""
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

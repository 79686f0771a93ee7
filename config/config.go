package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"mythicwp/hasher"
	"mythicwp/version"
)

const (
	ModeReport     = "report"
	ModeServe      = "serve"
	ModeActivate   = "activate"
	ModeDeactivate = "deactivate"
	ModeNotices    = "notices"
	ModeDrift      = "drift"

	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
)

type Config struct {
	Mode                  string            `json:"mode"`
	InventoryFile         string            `json:"inventory_file"`
	OutputFileName        string            `json:"output_file_name"`
	StateBackend          string            `json:"state_backend"`
	StatePath             string            `json:"state_path"`
	ListenAddr            string            `json:"listen_addr"`
	CORSOrigins           []string          `json:"cors_origins"`
	IncludeHashes         bool              `json:"include_hashes"`
	HashAlgorithm         string            `json:"hash_algorithm"`
	ExcludePatterns       []string          `json:"exclude_patterns"`
	MaxIOPerSecond        int               `json:"max_io_per_second"`
	CronInterval          time.Duration     `json:"cron_interval"`
	ReportTimeout         time.Duration     `json:"report_timeout"`
	DeepHashTimeout       time.Duration     `json:"deep_hash_timeout"`
	ServerAddr            string            `json:"server_addr"`
	DocumentRoot          string            `json:"document_root"`
	InstallPath           string            `json:"install_path"`
	NoticePage            string            `json:"notice_page"`
	LogLevel              string            `json:"log_level"`
	ConfigFile            string            `json:"config_file"`
	ShowProgress          bool              `json:"show_progress"`
	CheckUpdate           bool              `json:"check_update"`
	DiagSlowScanThreshold time.Duration     `json:"diag_slow_scan_threshold"`
	DiagDir               string            `json:"diag_dir"`
	OtelEndpoint          string            `json:"otel_endpoint"`
	OtelFromEnv           bool              `json:"otel_from_env"`
	OtelHeaders           map[string]string `json:"otel_headers"`
	OtelServiceName       string            `json:"otel_service_name"`
	OtelTimeout           time.Duration     `json:"otel_timeout"`
	OtelExportHashes      bool              `json:"otel_export_hashes"`
	Args                  []string          `json:"-"`
}

// Default returns the configuration used before any file or flag is applied.
func Default() *Config {
	return &Config{
		Mode:                  ModeReport,
		InventoryFile:         "inventory.json",
		OutputFileName:        "-",
		StateBackend:          StateBackendFile,
		StatePath:             ".mythic-wp-state.json",
		ListenAddr:            "127.0.0.1:8086",
		CORSOrigins:           []string{},
		IncludeHashes:         false,
		HashAlgorithm:         hasher.Default,
		ExcludePatterns:       []string{},
		MaxIOPerSecond:        0,
		CronInterval:          time.Hour,
		ReportTimeout:         30 * time.Second,
		DeepHashTimeout:       120 * time.Second,
		NoticePage:            "index.php",
		LogLevel:              "info",
		ShowProgress:          false,
		CheckUpdate:           false,
		DiagSlowScanThreshold: 0,
		DiagDir:               ".",
		OtelEndpoint:          "",
		OtelFromEnv:           false,
		OtelHeaders:           map[string]string{},
		OtelServiceName:       "mythicwp",
		OtelTimeout:           5 * time.Second,
		OtelExportHashes:      false,
	}
}

func LoadConfig() (*Config, error) {
	cfg := Default()

	mode := flag.String("mode", cfg.Mode, fmt.Sprintf("Mode: report, serve, activate, deactivate, notices, or drift (default: %s).", cfg.Mode))
	inventory := flag.String("inventory", cfg.InventoryFile, fmt.Sprintf("Host inventory document, JSON or YAML (default: %s).", cfg.InventoryFile))
	output := flag.String("output", cfg.OutputFileName, "Report output file, - for stdout (default: -).")
	stateBackend := flag.String("state-backend", cfg.StateBackend, fmt.Sprintf("Key state backend: file or sqlite (default: %s).", cfg.StateBackend))
	statePath := flag.String("state-path", cfg.StatePath, fmt.Sprintf("Key state location (default: %s).", cfg.StatePath))
	listen := flag.String("listen", cfg.ListenAddr, fmt.Sprintf("HTTP listen address in serve mode (default: %s).", cfg.ListenAddr))
	corsOrigins := flag.String("cors-origins", "", "Comma-separated origins allowed to read notices in serve mode (default: none).")
	includeHashes := flag.Bool("hashes", cfg.IncludeHashes, fmt.Sprintf("Include deep hashes of core, plugin and theme trees (default: %t).", cfg.IncludeHashes))
	hashAlgorithm := flag.String("hash-algorithm", cfg.HashAlgorithm, fmt.Sprintf("Hash algorithm: %s (default: %s).", strings.Join(hasher.Algorithms(), ", "), cfg.HashAlgorithm))
	excludes := flag.String("exclude", "", "Comma-separated list of path patterns excluded from hash scans (default: none).")
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum files hashed per second, 0 for unlimited (default: 0).")
	cronInterval := flag.Duration("cron-interval", cfg.CronInterval, "Interval of the liveness tick in serve mode (default: 1h).")
	reportTimeout := flag.Duration("report-timeout", cfg.ReportTimeout, "Write deadline for reports without deep hashes (default: 30s).")
	deepHashTimeout := flag.Duration("deep-hash-timeout", cfg.DeepHashTimeout, "Write deadline for reports with deep hashes (default: 2m0s).")
	serverAddr := flag.String("server-addr", "", "Override the server address reported by the inventory.")
	docRoot := flag.String("document-root", "", "Override the document root reported by the inventory.")
	installPath := flag.String("install-path", "", "Override the install path reported by the inventory.")
	noticePage := flag.String("page", cfg.NoticePage, fmt.Sprintf("Admin page used to select notices (default: %s).", cfg.NoticePage))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	showProgress := flag.Bool("progress", cfg.ShowProgress, "Show scan progress on stderr in report mode (default: false).")
	checkUpdate := flag.Bool("check-update", cfg.CheckUpdate, "Check for a newer release on startup (default: false).")
	diagSlowScanThreshold := flag.Duration(
		"diag-slow-scan-threshold",
		cfg.DiagSlowScanThreshold,
		"If positive, emit diagnostics when hash scan progress stalls for this duration (default: 0/off).",
	)
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Diagnostics output directory (default: current directory).")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: mythicwp).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportHashes := flag.Bool("otel-export-hashes", cfg.OtelExportHashes, "Include hash maps in OTEL payloads (default: false).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("mythicwp version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "inventory":
			cfg.InventoryFile = *inventory
		case "output":
			cfg.OutputFileName = *output
		case "state-backend":
			cfg.StateBackend = *stateBackend
		case "state-path":
			cfg.StatePath = *statePath
		case "listen":
			cfg.ListenAddr = *listen
		case "cors-origins":
			cfg.CORSOrigins = parseCommaSeparated(*corsOrigins)
		case "hashes":
			cfg.IncludeHashes = *includeHashes
		case "hash-algorithm":
			cfg.HashAlgorithm = *hashAlgorithm
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "cron-interval":
			cfg.CronInterval = *cronInterval
		case "report-timeout":
			cfg.ReportTimeout = *reportTimeout
		case "deep-hash-timeout":
			cfg.DeepHashTimeout = *deepHashTimeout
		case "server-addr":
			cfg.ServerAddr = *serverAddr
		case "document-root":
			cfg.DocumentRoot = *docRoot
		case "install-path":
			cfg.InstallPath = *installPath
		case "page":
			cfg.NoticePage = *noticePage
		case "log-level":
			cfg.LogLevel = *logLevel
		case "progress":
			cfg.ShowProgress = *showProgress
		case "check-update":
			cfg.CheckUpdate = *checkUpdate
		case "diag-slow-scan-threshold":
			cfg.DiagSlowScanThreshold = *diagSlowScanThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-hashes":
			cfg.OtelExportHashes = *otelExportHashes
		}
	})
	cfg.Args = flag.Args()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func displayHelp() {
	fmt.Println("mythicwp - site inventory and integrity snapshot agent")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mythicwp [options] [args]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  mythicwp --inventory site.yaml --hashes")
	fmt.Println("  mythicwp --mode activate --state-backend sqlite --state-path state.db")
	fmt.Println("  mythicwp --mode serve --inventory site.json --listen :8086")
	fmt.Println("  mythicwp --mode drift old.txt new.txt")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.StateBackend = strings.ToLower(strings.TrimSpace(cfg.StateBackend))
	cfg.HashAlgorithm = strings.ToLower(strings.TrimSpace(cfg.HashAlgorithm))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.Mode == "" {
		cfg.Mode = ModeReport
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = hasher.Default
	}
	if cfg.StateBackend == "" {
		cfg.StateBackend = StateBackendFile
	}
	if cfg.OutputFileName == "" {
		cfg.OutputFileName = "-"
	}
	if strings.TrimSpace(cfg.DiagDir) == "" {
		cfg.DiagDir = "."
	}
	if cfg.OtelServiceName == "" {
		cfg.OtelServiceName = "mythicwp"
	}
}

func (cfg *Config) validate() error {
	switch cfg.Mode {
	case ModeReport, ModeServe, ModeActivate, ModeDeactivate, ModeNotices, ModeDrift:
	default:
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.Mode == ModeDrift && len(cfg.Args) != 2 {
		return fmt.Errorf("drift mode requires exactly two report files")
	}
	if (cfg.Mode == ModeReport || cfg.Mode == ModeServe) && strings.TrimSpace(cfg.InventoryFile) == "" {
		return fmt.Errorf("an inventory file is required in %s mode", cfg.Mode)
	}
	if cfg.StateBackend != StateBackendFile && cfg.StateBackend != StateBackendSQLite {
		return fmt.Errorf("invalid state backend: %s", cfg.StateBackend)
	}
	if strings.TrimSpace(cfg.StatePath) == "" {
		return fmt.Errorf("state path must not be empty")
	}
	if !hasher.Supported(cfg.HashAlgorithm) {
		return fmt.Errorf("invalid hash algorithm: %s", cfg.HashAlgorithm)
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.CronInterval <= 0 {
		return fmt.Errorf("cron-interval must be positive")
	}
	if cfg.ReportTimeout < 0 || cfg.DeepHashTimeout < 0 {
		return fmt.Errorf("report timeouts must be zero or positive")
	}
	if cfg.DiagSlowScanThreshold < 0 {
		return fmt.Errorf("diag-slow-scan-threshold must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	items := strings.Split(input, ",")
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}

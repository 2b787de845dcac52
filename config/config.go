// Package config has the configuration for the drug data compiler, the lookup
// server, the backup service and the integration store
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment names
const (
	EnvDevelopment = "dev"
	EnvStaging     = "staging"
	EnvProduction  = "prod"
	EnvTest        = "test"
)

// Restriction match modes
const (
	MatchPrefix   = "prefix"
	MatchContains = "contains"
)

// DefaultEncryptionKey is the placeholder passphrase shipped in sample env files
const DefaultEncryptionKey = "default-nextscript-key-CHANGE-ME-IN-PRODUCTION"

// Config holds all application configuration
type Config struct {
	Env               string
	LogLevel          string
	LogDir            string
	LogRetentionWeeks int   // Number of weeks to keep log files
	MaxLogFileSize    int64 // Maximum log file size in bytes

	// Lookup server
	Port           string
	Address        string
	MaxRequestBody int64 // Maximum request body size in bytes
	MaxHeaderSize  int64 // Maximum header size in bytes

	// Drug data pipeline
	DrugAPIBaseURL    string
	DrugAPITimeout    time.Duration
	DrugAPIDelay      time.Duration
	DrugAPIUserAgent  string
	RestrictedFile    string
	OutputDir         string
	OutputFile        string
	CompressOutput    bool
	RestrictionMatch  string
	RestrictionStrict bool
	ExtraDenylist     []string
	CompileTimes      string // gocron At() syntax, e.g. "03:00;15:00"

	// Backups
	DBHost              string
	DBUser              string
	DBPassword          string
	DBName              string
	DumpCommand         string
	BackupDir           string
	DocumentDir         string
	BackupRetentionDays int
	BackupSchedule      string // cron expression
	S3Enabled           bool
	S3Endpoint          string
	S3Bucket            string
	S3AccessKey         string
	S3SecretKey         string
	S3Region            string
	S3UseSSL            bool

	// Integrations
	EncryptionKey     string
	IntegrationDriver string
	IntegrationDSN    string
}

// Load loads and validates configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env:               strings.ToLower(getEnvWithDefault("ENV", EnvDevelopment)),
		LogLevel:          strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),
		LogDir:            getEnvWithDefault("LOG_DIR", "logs"),
		LogRetentionWeeks: getIntEnvWithDefault("LOG_RETENTION_WEEKS", 4),         // 4 weeks default
		MaxLogFileSize:    getInt64EnvWithDefault("MAX_LOG_FILE_SIZE", 104857600), // 100MB default

		Port:           getEnvWithDefault("PORT", "8000"),
		Address:        getEnvWithDefault("ADDRESS", "127.0.0.1"),
		MaxRequestBody: getInt64EnvWithDefault("MAX_REQUEST_BODY", 1048576), // 1MB default
		MaxHeaderSize:  getInt64EnvWithDefault("MAX_HEADER_SIZE", 1048576),  // 1MB default

		DrugAPIBaseURL:    getEnvWithDefault("DRUG_API_BASE_URL", "https://health-products.canada.ca/api/drug"),
		DrugAPITimeout:    getDurationEnvWithDefault("DRUG_API_TIMEOUT", 60*time.Second),
		DrugAPIDelay:      getDurationEnvWithDefault("DRUG_API_DELAY", 200*time.Millisecond),
		DrugAPIUserAgent:  getEnvWithDefault("DRUG_API_USER_AGENT", "DrugDataCompiler/2.0 (emr-tools; +https://github.com/nextscript/emr-tools)"),
		RestrictedFile:    getEnvWithDefault("RESTRICTED_FILE", "restricted_drugs.json"),
		OutputDir:         getEnvWithDefault("OUTPUT_DIR", "."),
		OutputFile:        getEnvWithDefault("OUTPUT_FILE", "compiled_drug_data.json"),
		CompressOutput:    getBoolEnvWithDefault("COMPRESS_OUTPUT", true),
		RestrictionMatch:  strings.ToLower(getEnvWithDefault("RESTRICTION_MATCH", MatchPrefix)),
		RestrictionStrict: getBoolEnvWithDefault("RESTRICTION_STRICT", true),
		ExtraDenylist:     getListEnv("RESTRICTION_DENYLIST"),
		CompileTimes:      getEnvWithDefault("COMPILE_TIMES", "03:00"),

		DBHost:              getEnvWithDefault("MYSQL_HOST", "db"),
		DBUser:              getEnvWithDefault("MYSQL_USER", "oscar"),
		DBPassword:          os.Getenv("MYSQL_PASSWORD"),
		DBName:              getEnvWithDefault("MYSQL_DATABASE", "oscar_nextscript"),
		DumpCommand:         getEnvWithDefault("DUMP_COMMAND", "mysqldump"),
		BackupDir:           getEnvWithDefault("BACKUP_DIR", "/backups"),
		DocumentDir:         getEnvWithDefault("DOCUMENT_DIR", "/var/lib/OscarDocument"),
		BackupRetentionDays: getIntEnvWithDefault("BACKUP_RETENTION_DAYS", 30),
		BackupSchedule:      getEnvWithDefault("BACKUP_SCHEDULE", "0 2 * * *"),
		S3Enabled:           getBoolEnvWithDefault("S3_BACKUP_ENABLED", false),
		S3Endpoint:          getEnvWithDefault("S3_ENDPOINT", "s3.amazonaws.com"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3AccessKey:         os.Getenv("AWS_ACCESS_KEY_ID"),
		S3SecretKey:         os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3Region:            getEnvWithDefault("AWS_REGION", "us-west-2"),
		S3UseSSL:            getBoolEnvWithDefault("S3_USE_SSL", true),

		EncryptionKey:     getEnvWithDefault("ENCRYPTION_KEY", DefaultEncryptionKey),
		IntegrationDriver: strings.ToLower(getEnvWithDefault("INTEGRATION_DB_DRIVER", "sqlite")),
		IntegrationDSN:    getEnvWithDefault("INTEGRATION_DB_DSN", "data/integrations.db"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// OutputPath returns the path of the uncompressed compiled dataset
func (c *Config) OutputPath() string {
	return strings.TrimSuffix(c.OutputDir, "/") + "/" + c.OutputFile
}

// CompressedOutputPath returns the path of the gzip compiled dataset
func (c *Config) CompressedOutputPath() string {
	return c.OutputPath() + ".gz"
}

// UsesDefaultEncryptionKey reports whether the placeholder passphrase is in use
func (c *Config) UsesDefaultEncryptionKey() bool {
	return c.EncryptionKey == DefaultEncryptionKey
}

// validateConfig validates all configuration values
func validateConfig(cfg *Config) error {
	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}

	if err := validateAddress(cfg.Address); err != nil {
		return fmt.Errorf("invalid ADDRESS: %w", err)
	}

	if err := validateEnv(cfg.Env); err != nil {
		return fmt.Errorf("invalid ENV: %w", err)
	}

	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if err := validateSizeLimit(cfg.MaxRequestBody, "MAX_REQUEST_BODY"); err != nil {
		return fmt.Errorf("invalid MAX_REQUEST_BODY: %w", err)
	}

	if err := validateSizeLimit(cfg.MaxHeaderSize, "MAX_HEADER_SIZE"); err != nil {
		return fmt.Errorf("invalid MAX_HEADER_SIZE: %w", err)
	}

	if err := validateLogRetentionWeeks(cfg.LogRetentionWeeks); err != nil {
		return fmt.Errorf("invalid LOG_RETENTION_WEEKS: %w", err)
	}

	if err := validateMaxLogFileSize(cfg.MaxLogFileSize); err != nil {
		return fmt.Errorf("invalid MAX_LOG_FILE_SIZE: %w", err)
	}

	if err := validateBaseURL(cfg.DrugAPIBaseURL); err != nil {
		return fmt.Errorf("invalid DRUG_API_BASE_URL: %w", err)
	}

	if err := validateTimeout(cfg.DrugAPITimeout); err != nil {
		return fmt.Errorf("invalid DRUG_API_TIMEOUT: %w", err)
	}

	if cfg.DrugAPIDelay < 0 || cfg.DrugAPIDelay > 10*time.Second {
		return fmt.Errorf("invalid DRUG_API_DELAY: must be between 0 and 10s, got: %s", cfg.DrugAPIDelay)
	}

	if cfg.OutputFile == "" || strings.Contains(cfg.OutputFile, "/") {
		return fmt.Errorf("invalid OUTPUT_FILE: must be a bare file name, got: %q", cfg.OutputFile)
	}

	if cfg.RestrictionMatch != MatchPrefix && cfg.RestrictionMatch != MatchContains {
		return fmt.Errorf("invalid RESTRICTION_MATCH: must be one of [%s %s], got: %s", MatchPrefix, MatchContains, cfg.RestrictionMatch)
	}

	if err := validateRetentionDays(cfg.BackupRetentionDays); err != nil {
		return fmt.Errorf("invalid BACKUP_RETENTION_DAYS: %w", err)
	}

	if len(strings.Fields(cfg.BackupSchedule)) != 5 {
		return fmt.Errorf("invalid BACKUP_SCHEDULE: expected a 5 field cron expression, got: %q", cfg.BackupSchedule)
	}

	if cfg.IntegrationDriver != "sqlite" && cfg.IntegrationDriver != "pgx" {
		return fmt.Errorf("invalid INTEGRATION_DB_DRIVER: must be one of [sqlite pgx], got: %s", cfg.IntegrationDriver)
	}

	if cfg.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY cannot be empty")
	}

	return nil
}

// validatePort validates the PORT environment variable
func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid number: %w", err)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	if portNum < 1024 {
		return fmt.Errorf("PORT %d is privileged (less than 1024), use ports 1024-65535", portNum)
	}

	return nil
}

// validateAddress validates the ADDRESS environment variable
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("ADDRESS cannot be empty")
	}

	if address == "127.0.0.1" || address == "::1" || address == "localhost" || address == "0.0.0.0" {
		return nil
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return fmt.Errorf("ADDRESS must be a valid IP address or 'localhost', got: %s", address)
	}

	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("ADDRESS %s is a public IP, consider using private network ranges for security", address)
	}

	return nil
}

// validateEnv validates the ENV environment variable
func validateEnv(env string) error {
	if env == "" {
		return fmt.Errorf("ENV cannot be empty")
	}

	validEnvs := []string{EnvDevelopment, EnvStaging, EnvProduction, EnvTest}
	for _, validEnv := range validEnvs {
		if env == validEnv {
			return nil
		}
	}

	return fmt.Errorf("ENV must be one of: %v, got: %s", validEnvs, env)
}

// validateLogLevel validates the LOG_LEVEL environment variable
func validateLogLevel(logLevel string) error {
	if logLevel == "" {
		return fmt.Errorf("LOG_LEVEL cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		if logLevel == level {
			return nil
		}
	}

	return fmt.Errorf("LOG_LEVEL must be one of: %v, got: %s", validLevels, logLevel)
}

// validateSizeLimit validates size limit configuration values
func validateSizeLimit(size int64, configName string) error {
	if size <= 0 {
		return fmt.Errorf("%s must be positive, got: %d", configName, size)
	}

	if size > 100*1024*1024 { // 100MB
		return fmt.Errorf("%s is too large (max 100MB), got: %d bytes", configName, size)
	}

	return nil
}

// validateLogRetentionWeeks validates the LOG_RETENTION_WEEKS environment variable
func validateLogRetentionWeeks(weeks int) error {
	if weeks <= 0 {
		return fmt.Errorf("LOG_RETENTION_WEEKS must be positive, got: %d", weeks)
	}

	if weeks > 52 {
		return fmt.Errorf("LOG_RETENTION_WEEKS is too large (max 52 weeks), got: %d", weeks)
	}

	return nil
}

// validateMaxLogFileSize validates the MAX_LOG_FILE_SIZE environment variable
func validateMaxLogFileSize(size int64) error {
	if size <= 0 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE must be positive, got: %d", size)
	}

	// Minimum 1MB, maximum 1GB
	if size < 1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too small (min 1MB), got: %d bytes", size)
	}

	if size > 1024*1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too large (max 1GB), got: %d bytes", size)
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	return nil
}

// validateTimeout keeps the remote catalog timeout inside a sane window
func validateTimeout(timeout time.Duration) error {
	if timeout < time.Second {
		return fmt.Errorf("timeout is too small (min 1s), got: %s", timeout)
	}
	if timeout > 10*time.Minute {
		return fmt.Errorf("timeout is too large (max 10m), got: %s", timeout)
	}
	return nil
}

func validateRetentionDays(days int) error {
	if days <= 0 {
		return fmt.Errorf("must be positive, got: %d", days)
	}
	if days > 3650 {
		return fmt.Errorf("is too large (max 3650 days), got: %d", days)
	}
	return nil
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvWithDefault gets an environment variable as int with a default value
func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getInt64EnvWithDefault gets an environment variable as int64 with a default value
func getInt64EnvWithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getBoolEnvWithDefault accepts anything strconv.ParseBool does
func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnvWithDefault reads a Go duration ("30s") or a bare number of seconds
func getDurationEnvWithDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnvVars returns a list of all expected environment variables
func GetEnvVars() []string {
	return []string{
		"ENV",
		"LOG_LEVEL",
		"LOG_DIR",
		"LOG_RETENTION_WEEKS",
		"MAX_LOG_FILE_SIZE",
		"PORT",
		"ADDRESS",
		"MAX_REQUEST_BODY",
		"MAX_HEADER_SIZE",
		"DRUG_API_BASE_URL",
		"DRUG_API_TIMEOUT",
		"DRUG_API_DELAY",
		"DRUG_API_USER_AGENT",
		"RESTRICTED_FILE",
		"OUTPUT_DIR",
		"OUTPUT_FILE",
		"COMPRESS_OUTPUT",
		"RESTRICTION_MATCH",
		"RESTRICTION_STRICT",
		"RESTRICTION_DENYLIST",
		"COMPILE_TIMES",
		"MYSQL_HOST",
		"MYSQL_USER",
		"MYSQL_PASSWORD",
		"MYSQL_DATABASE",
		"DUMP_COMMAND",
		"BACKUP_DIR",
		"DOCUMENT_DIR",
		"BACKUP_RETENTION_DAYS",
		"BACKUP_SCHEDULE",
		"S3_BACKUP_ENABLED",
		"S3_ENDPOINT",
		"S3_BUCKET",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"AWS_REGION",
		"S3_USE_SSL",
		"ENCRYPTION_KEY",
		"INTEGRATION_DB_DRIVER",
		"INTEGRATION_DB_DSN",
	}
}

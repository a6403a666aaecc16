package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP webhook server
	Port string

	// Database
	SQLiteDBPath string

	// Receipt artifacts
	ReceiptsDir string

	// Category rules (optional override of the embedded table)
	CategoryRulesPath string

	// OpenAI
	OpenAIAPIKey    string
	AssistantModel  string
	ExtractionModel string
	OpenAITimeout   time.Duration

	// Conversation
	ContextMaxTurns int
	ToolRoundsMax   int

	// Duplicate detection: price tolerance in cents for treating a line
	// item as an already-recorded duplicate.
	DupToleranceCents int64

	// AMQP (mirror sync queue; empty URL disables mirroring)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets (export/chart sink and mirror target). An empty
	// credentials file falls back to the in-memory sheets stand-in.
	GoogleSpreadsheetID   string
	GoogleCredentialsFile string

	// Worker: how often the catch-up pass looks for unsynced records.
	SyncCatchUpInterval time.Duration
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8082"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/chequebot.db"),
		ReceiptsDir:  getEnv("RECEIPTS_DIR", "./data/receipts"),

		CategoryRulesPath: getEnv("CATEGORY_RULES_PATH", ""),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AssistantModel:  getEnv("ASSISTANT_MODEL", "gpt-4o-mini"),
		ExtractionModel: getEnv("EXTRACTION_MODEL", "gpt-4o-mini"),
		OpenAITimeout:   getEnvDuration("OPENAI_TIMEOUT", 90*time.Second),

		ContextMaxTurns: getEnvInt("CONTEXT_MAX_TURNS", 20),
		ToolRoundsMax:   getEnvInt("TOOL_ROUNDS_MAX", 4),

		DupToleranceCents: int64(getEnvInt("DUP_TOLERANCE_CENTS", 1)),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "chequebot"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_receipts"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),

		SyncCatchUpInterval: getEnvDuration("SYNC_CATCHUP_INTERVAL", 15*time.Minute),
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errs = append(errs, fmt.Sprintf("cannot create database directory '%s': %v", dir, err))
			}
		}
	}

	if c.ReceiptsDir == "" {
		errs = append(errs, "receipts directory cannot be empty")
	}

	if c.OpenAIAPIKey == "" {
		errs = append(errs, "OPENAI_API_KEY is required")
	}

	if c.ContextMaxTurns < 1 {
		errs = append(errs, fmt.Sprintf("invalid context bound %d: must be at least 1", c.ContextMaxTurns))
	}
	if c.ToolRoundsMax < 1 {
		errs = append(errs, fmt.Sprintf("invalid tool rounds %d: must be at least 1", c.ToolRoundsMax))
	}
	if c.DupToleranceCents < 0 {
		errs = append(errs, fmt.Sprintf("invalid duplicate tolerance %d: must be non-negative", c.DupToleranceCents))
	}
	if c.OpenAITimeout < time.Second {
		errs = append(errs, fmt.Sprintf("invalid OpenAI timeout %v: must be at least 1 second", c.OpenAITimeout))
	}

	if c.AMQPURL != "" {
		if parsed, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

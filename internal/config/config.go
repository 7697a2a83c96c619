// Package config provides functionality for managing configuration options
// for the application using command-line flags, a JSON file, a .env file
// and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Options holds the configuration values for the application. Durations
// in the JSON file are Go duration strings ("1h30m").
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"port"`

	// StoreBackend selects the document store ("mongo" or "memory").
	StoreBackend string   `json:"store_backend"`
	MongoURI     string   `json:"mongo_uri"`
	Database     string   `json:"database"`
	StoreTimeout Duration `json:"store_timeout"`

	// PostgresDSN, when set, backs the user directory with PostgreSQL
	// instead of the user model.
	PostgresDSN string `json:"postgres_dsn"`

	// RedisURL, when set, enables the session cache.
	RedisURL string `json:"redis_url"`

	SessionTTL      Duration `json:"session_ttl"`
	PublicEndpoints []string `json:"public_endpoints"`

	// DeleteRecordAfterDays is the soft-delete retention window.
	DeleteRecordAfterDays int      `json:"delete_record_after_days"`
	SweepInterval         Duration `json:"sweep_interval"`
	// SessionGrace keeps expired sessions around this long before the
	// sweeper removes them.
	SessionGrace Duration `json:"session_grace"`

	// PasswordHasher names the hasher used for new passwords.
	PasswordHasher string `json:"password_hasher"`

	// ModelsFile is an optional YAML file of model definitions loaded at
	// startup.
	ModelsFile string `json:"models_file"`

	LogLevel string `json:"log_level"`

	// TLSCertFile and TLSKeyFile, when both set, switch the server to HTTPS.
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`

	// Config is the path to the Config file.
	Config string `json:"-"`
}

// Duration decodes from a JSON duration string.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the options used when nothing overrides them.
func Defaults() *Options {
	return &Options{
		Port:                  "localhost:8080",
		StoreBackend:          "mongo",
		MongoURI:              "mongodb://localhost:27017",
		Database:              "ozon",
		StoreTimeout:          Duration{10 * time.Second},
		SessionTTL:            Duration{12 * time.Hour},
		PublicEndpoints:       []string{"/api/login", "/api/session"},
		DeleteRecordAfterDays: 30,
		SweepInterval:         Duration{time.Hour},
		SessionGrace:          Duration{24 * time.Hour},
		PasswordHasher:        "argon2id",
		LogLevel:              "info",
		Config:                "config.json",
	}
}

// Load builds Options from args and the environment. Precedence, lowest
// first: defaults, flags, the JSON config file, .env, environment.
func Load(args []string) (*Options, error) {
	options := Defaults()

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&options.Port, "a", options.Port, "run on ip:port server")
	fs.StringVar(&options.StoreBackend, "store", options.StoreBackend, "document store backend (mongo, memory)")
	fs.StringVar(&options.MongoURI, "mongo", options.MongoURI, "mongodb connection uri")
	fs.StringVar(&options.Database, "db", options.Database, "mongodb database name")
	fs.StringVar(&options.PostgresDSN, "d", options.PostgresDSN, "postgres user directory dsn")
	fs.StringVar(&options.RedisURL, "redis", options.RedisURL, "redis session cache url")
	fs.StringVar(&options.ModelsFile, "models", options.ModelsFile, "yaml model definitions")
	fs.StringVar(&options.LogLevel, "log-level", options.LogLevel, "log level")
	fs.StringVar(&options.Config, "config", options.Config, "path to config file")
	fs.StringVar(&options.Config, "c", options.Config, "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := options.fromEnv(); err != nil {
		return nil, err
	}
	return options, options.Validate()
}

// Parse loads the process configuration and exits on error.
func Parse() *Options {
	options, err := Load(os.Args[1:])
	if err != nil {
		log.Fatalf("error while loading config: %v", err)
	}
	return options
}

func (o *Options) fromEnv() error {
	str := map[string]*string{
		"SERVER_ADDRESS":  &o.Port,
		"STORE_BACKEND":   &o.StoreBackend,
		"MONGO_URI":       &o.MongoURI,
		"MONGO_DATABASE":  &o.Database,
		"DATABASE_DSN":    &o.PostgresDSN,
		"REDIS_URL":       &o.RedisURL,
		"PASSWORD_HASHER": &o.PasswordHasher,
		"MODELS_FILE":     &o.ModelsFile,
		"LOG_LEVEL":       &o.LogLevel,
		"TLS_CERT_FILE":   &o.TLSCertFile,
		"TLS_KEY_FILE":    &o.TLSKeyFile,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	dur := map[string]*Duration{
		"STORE_TIMEOUT":  &o.StoreTimeout,
		"SESSION_TTL":    &o.SessionTTL,
		"SWEEP_INTERVAL": &o.SweepInterval,
		"SESSION_GRACE":  &o.SessionGrace,
	}
	for key, dst := range dur {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			dst.Duration = d
		}
	}

	if v := os.Getenv("DELETE_RECORD_AFTER_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DELETE_RECORD_AFTER_DAYS: %w", err)
		}
		o.DeleteRecordAfterDays = n
	}
	if v := os.Getenv("PUBLIC_ENDPOINTS"); v != "" {
		o.PublicEndpoints = splitList(v)
	}
	return nil
}

// Validate rejects option values the server cannot start with.
func (o *Options) Validate() error {
	var errs []error
	if o.Port == "" {
		errs = append(errs, errors.New("port is empty"))
	}
	if o.SessionTTL.Duration <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if o.SweepInterval.Duration <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if o.DeleteRecordAfterDays < 0 {
		errs = append(errs, errors.New("delete_record_after_days must not be negative"))
	}
	if o.StoreBackend == "mongo" && o.MongoURI == "" {
		errs = append(errs, errors.New("mongo_uri is required for the mongo backend"))
	}
	if (o.TLSCertFile == "") != (o.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert_file and tls_key_file must be set together"))
	}
	return errors.Join(errs...)
}

// TLS reports whether the server should serve HTTPS.
func (o *Options) TLS() bool {
	return o.TLSCertFile != "" && o.TLSKeyFile != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

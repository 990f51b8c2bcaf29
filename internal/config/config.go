package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/roach88/vaultsync/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Prefix is prepended to every variable name.
const Prefix = "VAULTSYNC_"

// Environment variable names.
const (
	EnvRPCURL         = Prefix + "RPC_URL"
	EnvBookkeeping    = Prefix + "BOOKKEEPING_ADDRESS"
	EnvAssetLedger    = Prefix + "ASSET_LEDGER_ADDRESS"
	EnvOperatorKey    = Prefix + "OPERATOR_KEY"
	EnvScanStart      = Prefix + "SCAN_START_ID"
	EnvScanEnd        = Prefix + "SCAN_END_ID"
	EnvInterval       = Prefix + "INTERVAL"
	EnvReadTimeout    = Prefix + "READ_TIMEOUT"
	EnvConfirmTimeout = Prefix + "CONFIRM_TIMEOUT"
	EnvListenAddr     = Prefix + "LISTEN_ADDR"
	EnvTriggerSecret  = Prefix + "TRIGGER_SECRET"
	EnvJournalPath    = Prefix + "JOURNAL_PATH"
	EnvLogLevel       = Prefix + "LOG_LEVEL"
	EnvOTLPEndpoint   = Prefix + "OTLP_ENDPOINT"
)

// Defaults for optional variables.
const (
	DefaultInterval       = 60 * time.Second
	DefaultReadTimeout    = 10 * time.Second
	DefaultConfirmTimeout = 60 * time.Second
	DefaultListenAddr     = ":8080"
	DefaultLogLevel       = "info"
)

// schemaFields maps schema field names to the variables that feed them.
var schemaFields = map[string]string{
	"rpc_url":              EnvRPCURL,
	"bookkeeping_address":  EnvBookkeeping,
	"asset_ledger_address": EnvAssetLedger,
	"scan_start_id":        EnvScanStart,
	"scan_end_id":          EnvScanEnd,
	"interval_ms":          EnvInterval,
	"read_timeout_ms":      EnvReadTimeout,
	"confirm_timeout_ms":   EnvConfirmTimeout,
	"listen_addr":          EnvListenAddr,
	"log_level":            EnvLogLevel,
	"otlp_endpoint":        EnvOTLPEndpoint,
	"journal_path":         EnvJournalPath,
}

// Config is the worker configuration.
//
// OperatorKey may be empty: a missing credential is reported by each run as
// CredentialMissing rather than refusing to start.
type Config struct {
	RPCURL             string
	BookkeepingAddress string
	AssetLedgerAddress string
	OperatorKey        string
	Window             ir.ScanWindow
	Interval           time.Duration
	ReadTimeout        time.Duration
	ConfirmTimeout     time.Duration
	ListenAddr         string
	TriggerSecret      string
	JournalPath        string
	LogLevel           string
	OTLPEndpoint       string
}

// FieldError is one rejected variable.
type FieldError struct {
	Field   string `json:"field"`
	Env     string `json:"env"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Env, e.Message)
}

// ValidationError collects every rejected variable from one load.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// LoadDotEnv reads .env from the working directory if it exists. Variables
// already set in the environment are not overridden.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads .env, then the process environment, and validates the result.
func Load() (*Config, error) {
	LoadDotEnv()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup and validates it.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	p := &parser{lookup: lookup}

	cfg := &Config{
		RPCURL:             p.required(EnvRPCURL, "rpc_url"),
		BookkeepingAddress: p.required(EnvBookkeeping, "bookkeeping_address"),
		AssetLedgerAddress: p.required(EnvAssetLedger, "asset_ledger_address"),
		OperatorKey:        p.optional(EnvOperatorKey, ""),
		Window: ir.ScanWindow{
			Start: p.assetID(EnvScanStart, "scan_start_id"),
			End:   p.assetID(EnvScanEnd, "scan_end_id"),
		},
		Interval:       p.duration(EnvInterval, "interval_ms", DefaultInterval),
		ReadTimeout:    p.duration(EnvReadTimeout, "read_timeout_ms", DefaultReadTimeout),
		ConfirmTimeout: p.duration(EnvConfirmTimeout, "confirm_timeout_ms", DefaultConfirmTimeout),
		ListenAddr:     p.optional(EnvListenAddr, DefaultListenAddr),
		TriggerSecret:  p.optional(EnvTriggerSecret, ""),
		JournalPath:    p.optional(EnvJournalPath, ""),
		LogLevel:       strings.ToLower(p.optional(EnvLogLevel, DefaultLogLevel)),
		OTLPEndpoint:   p.optional(EnvOTLPEndpoint, ""),
	}

	if len(p.errs) > 0 {
		return nil, &ValidationError{Fields: p.errs}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema.
func (c *Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(cctx.Encode(c.schemaValues()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fromCUE(err)
	}
	return nil
}

// Bookkeeping returns the bookkeeping contract address.
func (c *Config) Bookkeeping() common.Address {
	return common.HexToAddress(c.BookkeepingAddress)
}

// AssetLedger returns the asset ledger contract address.
func (c *Config) AssetLedger() common.Address {
	return common.HexToAddress(c.AssetLedgerAddress)
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Redacted returns the configuration with secrets replaced by whether they
// are set.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"rpc_url":              c.RPCURL,
		"bookkeeping_address":  c.Bookkeeping().Hex(),
		"asset_ledger_address": c.AssetLedger().Hex(),
		"operator_key_set":     c.OperatorKey != "",
		"scan_window":          c.Window.String(),
		"interval":             c.Interval.String(),
		"read_timeout":         c.ReadTimeout.String(),
		"confirm_timeout":      c.ConfirmTimeout.String(),
		"listen_addr":          c.ListenAddr,
		"trigger_secret_set":   c.TriggerSecret != "",
		"journal_path":         c.JournalPath,
		"log_level":            c.LogLevel,
		"otlp_endpoint":        c.OTLPEndpoint,
	}
}

func (c *Config) schemaValues() map[string]any {
	m := map[string]any{
		"rpc_url":              c.RPCURL,
		"bookkeeping_address":  c.BookkeepingAddress,
		"asset_ledger_address": c.AssetLedgerAddress,
		"scan_start_id":        uint64(c.Window.Start),
		"scan_end_id":          uint64(c.Window.End),
		"interval_ms":          c.Interval.Milliseconds(),
		"read_timeout_ms":      c.ReadTimeout.Milliseconds(),
		"confirm_timeout_ms":   c.ConfirmTimeout.Milliseconds(),
		"listen_addr":          c.ListenAddr,
		"log_level":            c.LogLevel,
	}
	if c.OTLPEndpoint != "" {
		m["otlp_endpoint"] = c.OTLPEndpoint
	}
	if c.JournalPath != "" {
		m["journal_path"] = c.JournalPath
	}
	return m
}

// fromCUE converts schema failures into field errors keyed by variable.
func fromCUE(err error) error {
	out := &ValidationError{}
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		field := ""
		if path := e.Path(); len(path) > 0 {
			field = path[len(path)-1]
		}
		format, args := e.Msg()
		fe := FieldError{
			Field:   field,
			Env:     schemaFields[field],
			Message: fmt.Sprintf(format, args...),
		}
		if fe.Env == "" {
			fe.Env = "config"
		}
		key := fe.Field + "\x00" + fe.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Fields = append(out.Fields, fe)
	}
	if len(out.Fields) == 0 {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return out
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []FieldError
}

func (p *parser) get(env string) (string, bool) {
	v, ok := p.lookup(env)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(env, field, format string, args ...any) {
	p.errs = append(p.errs, FieldError{Field: field, Env: env, Message: fmt.Sprintf(format, args...)})
}

func (p *parser) required(env, field string) string {
	v, ok := p.get(env)
	if !ok {
		p.fail(env, field, "required")
	}
	return v
}

func (p *parser) optional(env, def string) string {
	if v, ok := p.get(env); ok {
		return v
	}
	return def
}

func (p *parser) assetID(env, field string) ir.AssetID {
	v, ok := p.get(env)
	if !ok {
		p.fail(env, field, "required")
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.fail(env, field, "not an unsigned integer: %q", v)
		return 0
	}
	return ir.AssetID(n)
}

func (p *parser) duration(env, field string, def time.Duration) time.Duration {
	v, ok := p.get(env)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(env, field, "not a duration: %q", v)
		return def
	}
	return d
}

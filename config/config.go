package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes environment overrides, e.g. VMSTATS_HEC_TOKEN.
const EnvPrefix = "VMSTATS"

// Config is the validated configuration of one run.
type Config struct {
	ServerNames  []string      `mapstructure:"server_names"`
	UserName     string        `mapstructure:"user_name"`
	Password     string        `mapstructure:"password"`
	Concurrency  int           `mapstructure:"concurrency"`
	Strict       bool          `mapstructure:"strict"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ReportPath   string        `mapstructure:"report_path"`
	StatusPrefix string        `mapstructure:"status_prefix"`
	HEC          HECConfig     `mapstructure:"hec"`
	Output       OutputConfig  `mapstructure:"output"`
	Logger       LoggerConfig  `mapstructure:"logger"`
	Storage      StorageConfig `mapstructure:"storage"`
	MQTT         MQTTConfig    `mapstructure:"mqtt"`
}

// HECConfig describes the ingestion endpoint.
type HECConfig struct {
	URI        string `mapstructure:"uri"`
	Token      string `mapstructure:"token"`
	AuthScheme string `mapstructure:"auth_scheme"`
	Gzip       bool   `mapstructure:"gzip"`
	Source     string `mapstructure:"source"`
	Sourcetype string `mapstructure:"sourcetype"`
	Metrics    bool   `mapstructure:"metrics"`
}

// OutputConfig describes local outputs and record rendering.
type OutputConfig struct {
	CSV             bool   `mapstructure:"csv"`
	CSVOnly         bool   `mapstructure:"csv_only"`
	CSVLocation     string `mapstructure:"csv_location"`
	RetainCSV       int    `mapstructure:"retain_csv"`
	JSONLocation    string `mapstructure:"json_location"`
	Precision       int    `mapstructure:"precision"`
	TransformScript string `mapstructure:"transform_script"`
}

// LoggerConfig describes the log file.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Location   string `mapstructure:"location"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	RetainDays int    `mapstructure:"retain_days"`
	Debug      bool   `mapstructure:"debug"`
}

// StorageConfig lists the optional archival sinks. Empty values disable them.
type StorageConfig struct {
	MySQLDSN     string `mapstructure:"mysql_dsn"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	RedisURL     string `mapstructure:"redis_url"`
	RedisKey     string `mapstructure:"redis_key"`
	AMQPURL      string `mapstructure:"amqp_url"`
	AMQPExchange string `mapstructure:"amqp_exchange"`
}

// MQTTConfig describes the optional MQTT publisher.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// option ties a command line flag to a configuration key.
type option struct {
	flag  string
	short string
	key   string
	def   interface{}
	usage string
}

var options = []option{
	{"server-names", "", "server_names", []string{}, "appliances to poll, comma separated or space separated"},
	{"user-name", "", "user_name", "", "appliance user name"},
	{"password", "", "password", "", "appliance password"},
	{"hec-uri", "", "hec.uri", "", "ingestion endpoint, e.g. https://splunk.example.com:8088"},
	{"hec-token", "", "hec.token", "", "ingestion token"},
	{"hec-auth-scheme", "", "hec.auth_scheme", "Splunk", "Authorization header scheme"},
	{"hec-gzip", "", "hec.gzip", false, "gzip the upload"},
	{"event-source", "", "hec.source", transformer.DefaultSource, "record source"},
	{"event-sourcetype", "", "hec.sourcetype", transformer.DefaultSourcetype, "record sourcetype"},
	{"metrics", "", "hec.metrics", false, "send metric records instead of events"},
	{"csv-output", "", "output.csv", false, "also append rows to the daily CSV file"},
	{"csv-only", "", "output.csv_only", false, "only write the CSV file, never upload"},
	{"csv-location", "", "output.csv_location", "./csv", "CSV directory"},
	{"retain-csv", "", "output.retain_csv", 0, "days to keep CSV files, 0 keeps all"},
	{"json-location", "", "output.json_location", "", "directory for per-device JSON documents, empty disables"},
	{"precision", "", "output.precision", transformer.DefaultPrecision, "decimals of rendered numbers, -1 for shortest"},
	{"transform-script", "", "output.transform_script", "", "JavaScript file defining transform(fields)"},
	{"log-level", "", "logger.level", "info", "debug, info, warn or error"},
	{"log-location", "", "logger.location", "./logs", "log directory"},
	{"log-max-size", "", "logger.max_size", 50, "log size in MB before rotation"},
	{"log-max-backups", "", "logger.max_backups", 5, "rotated log files to keep"},
	{"retain-logs", "", "logger.retain_days", 0, "days to keep log files, 0 keeps all"},
	{"debug", "d", "logger.debug", false, "mirror the log to the console at debug level"},
	{"concurrency", "", "concurrency", 1, "appliances polled at once"},
	{"strict", "", "strict", false, "abort the run on the first device failure"},
	{"timeout", "", "timeout", 30 * time.Second, "per request timeout"},
	{"report-path", "", "report_path", "", "write a YAML run report to this file"},
	{"status-prefix", "", "status_prefix", "tintri_ta", "prefix of the status lines printed to stdout"},
	{"mysql-dsn", "", "storage.mysql_dsn", "", "MySQL DSN for archiving stats"},
	{"postgres-dsn", "", "storage.postgres_dsn", "", "PostgreSQL DSN for archiving stats"},
	{"redis-url", "", "storage.redis_url", "", "Redis URL for archiving stats"},
	{"redis-key", "", "storage.redis_key", "vmstats", "Redis list key"},
	{"amqp-url", "", "storage.amqp_url", "", "RabbitMQ URL for publishing stats"},
	{"amqp-exchange", "", "storage.amqp_exchange", "vmstats", "RabbitMQ exchange"},
	{"mqtt-broker", "", "mqtt.broker", "", "MQTT broker for publishing stats"},
	{"mqtt-client-id", "", "mqtt.client_id", "", "MQTT client id"},
	{"mqtt-topic-prefix", "", "mqtt.topic_prefix", "vmstats", "MQTT topic prefix"},
	{"mqtt-username", "", "mqtt.username", "", "MQTT user name"},
	{"mqtt-password", "", "mqtt.password", "", "MQTT password"},
}

// flag names of older releases
var aliases = map[string]string{
	"splunk-uri":       "hec-uri",
	"splunk-hec-token": "hec-token",
}

// single dash short forms of older releases
var shortForms = map[string]string{
	"-sn":   "server-names",
	"-un":   "user-name",
	"-pw":   "password",
	"-suri": "hec-uri",
	"-hec":  "hec-token",
	"-es":   "event-source",
	"-est":  "event-sourcetype",
	"-met":  "metrics",
	"-csv":  "csv-output",
	"-csvo": "csv-only",
	"-rc":   "retain-csv",
	"-ll":   "log-location",
	"-csvl": "csv-location",
}

const fileFlag = "file"

// UsageError is returned for command lines that cannot be parsed.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func normalizeName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.ReplaceAll(name, "_", "-")
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	return pflag.NormalizedName(name)
}

// NewFlagSet returns the command line flags.
func NewFlagSet(name string, output io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.SetNormalizeFunc(normalizeName)
	fs.SortFlags = false

	for _, o := range options {
		switch def := o.def.(type) {
		case string:
			fs.StringP(o.flag, o.short, def, o.usage)
		case int:
			fs.IntP(o.flag, o.short, def, o.usage)
		case bool:
			b := flexBool(def)
			fs.VarPF(&b, o.flag, o.short, o.usage).NoOptDefVal = "true"
		case []string:
			fs.StringSliceP(o.flag, o.short, def, o.usage)
		case time.Duration:
			fs.DurationP(o.flag, o.short, def, o.usage)
		}
	}
	fs.String(fileFlag, "", "argument file, or a YAML/JSON/TOML configuration file")
	return fs
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}

// Load builds the configuration from args, the environment and an optional
// --file. Precedence is command line, environment, file, defaults.
// The result is validated.
func Load(args []string, output io.Writer) (*Config, error) {
	fs := NewFlagSet("vmstats-trans", output)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return nil, &UsageError{Err: err}
	}
	if fs.NArg() > 0 {
		return nil, &UsageError{Err: fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))}
	}

	v := viper.New()
	for _, o := range options {
		v.SetDefault(o.key, o.def)
		if err := v.BindPFlag(o.key, fs.Lookup(o.flag)); err != nil {
			return nil, err
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file, _ := fs.GetString(fileFlag); file != "" {
		if err := readFile(v, file, output); err != nil {
			return nil, err
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToBoolHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.ServerNames = cleanTargets(cfg.ServerNames)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readFile loads a configuration file, or applies an argument file at
// configuration file precedence.
func readFile(v *viper.Viper, path string, output io.Writer) error {
	if isConfigFile(path) {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read argument file %s: %w", path, err)
	}
	fileFlags := NewFlagSet(path, output)
	if err := fileFlags.Parse(normalizeArgs(fileFlags, strings.Fields(string(data)))); err != nil {
		return &UsageError{Err: fmt.Errorf("argument file %s: %w", path, err)}
	}
	if fileFlags.NArg() > 0 {
		return &UsageError{Err: fmt.Errorf("argument file %s: unexpected arguments: %s", path, strings.Join(fileFlags.Args(), " "))}
	}

	settings := map[string]interface{}{}
	for _, o := range options {
		f := fileFlags.Lookup(o.flag)
		if !f.Changed {
			continue
		}
		var value interface{} = f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			value = sv.GetSlice()
		}
		setNested(settings, o.key, value)
	}
	return v.MergeConfigMap(settings)
}

func setNested(m map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			m[p] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
}

// normalizeArgs lets bool flags take their value as the next argument
// (--csv-only no) and list flags take several arguments (--server-names a b).
func normalizeArgs(fs *pflag.FlagSet, args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := expandShortForm(args[i])
		f := lookupArg(fs, arg)
		if f == nil || strings.Contains(arg, "=") {
			out = append(out, arg)
			continue
		}

		switch f.Value.(type) {
		case *flexBool:
			if i+1 < len(args) {
				if _, err := ParseBool(args[i+1]); err == nil {
					out = append(out, arg+"="+args[i+1])
					i++
					continue
				}
			}
			out = append(out, arg)
		case pflag.SliceValue:
			var values []string
			for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				values = append(values, args[i+1])
				i++
			}
			if len(values) == 0 {
				out = append(out, arg)
				continue
			}
			out = append(out, arg+"="+strings.Join(values, ","))
		default:
			out = append(out, arg)
		}
	}
	return out
}

func expandShortForm(arg string) string {
	name, value, hasValue := strings.Cut(arg, "=")
	long, ok := shortForms[name]
	if !ok {
		return arg
	}
	if hasValue {
		return "--" + long + "=" + value
	}
	return "--" + long
}

func lookupArg(fs *pflag.FlagSet, arg string) *pflag.Flag {
	switch {
	case strings.HasPrefix(arg, "--") && len(arg) > 2:
		return fs.Lookup(strings.TrimPrefix(arg, "--"))
	case strings.HasPrefix(arg, "-") && len(arg) == 2:
		return fs.ShorthandLookup(arg[1:])
	}
	return nil
}

func cleanTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.Trim(strings.TrimSpace(t), `'"`)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// flexBool is a bool flag accepting yes/no style values.
type flexBool bool

func (b *flexBool) Set(s string) error {
	v, err := ParseBool(s)
	if err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

func (b *flexBool) String() string {
	if *b {
		return "true"
	}
	return "false"
}

func (b *flexBool) Type() string {
	return "bool"
}

// ParseBool accepts yes/no, y/n, true/false, t/f and 1/0 in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "t", "1":
		return true, nil
	case "no", "n", "false", "f", "0":
		return false, nil
	}
	return false, fmt.Errorf("boolean value expected, got %q", s)
}

func stringToBoolHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	return ParseBool(data.(string))
}

// ValidationError reports one invalid setting.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Msg
}

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Validate reports every invalid or conflicting setting.
func (c *Config) Validate() error {
	var errs error
	fail := func(field, format string, args ...interface{}) {
		errs = multierr.Append(errs, &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if len(c.ServerNames) == 0 {
		fail("server_names", "at least one appliance is required")
	}
	if c.UserName == "" || c.Password == "" {
		fail("user_name", "appliance user name and password are required")
	}

	if c.Output.CSVOnly {
		if sinks := c.NetworkSinks(); len(sinks) > 0 {
			fail("csv_only", "cannot be combined with %s", strings.Join(sinks, ", "))
		}
	} else {
		if c.HEC.URI == "" {
			fail("hec.uri", "required unless csv_only is set")
		} else if u, err := url.Parse(c.HEC.URI); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			fail("hec.uri", "%q is not an http(s) URL", c.HEC.URI)
		}
		if c.HEC.Token == "" {
			fail("hec.token", "required unless csv_only is set")
		}
	}

	if c.Concurrency < 1 {
		fail("concurrency", "must be at least 1, got %d", c.Concurrency)
	}
	if c.Timeout <= 0 {
		fail("timeout", "must be positive, got %s", c.Timeout)
	}
	if c.Output.RetainCSV < 0 {
		fail("retain_csv", "must not be negative, got %d", c.Output.RetainCSV)
	}
	if c.Logger.RetainDays < 0 {
		fail("retain_logs", "must not be negative, got %d", c.Logger.RetainDays)
	}
	if c.Logger.MaxSize < 0 || c.Logger.MaxBackups < 0 {
		fail("log_max_size", "log size and backups must not be negative")
	}
	if c.Output.Precision < -1 || c.Output.Precision > 10 {
		fail("precision", "must be between -1 and 10, got %d", c.Output.Precision)
	}
	if _, err := logger.ParseLogLevel(c.Logger.Level); err != nil {
		fail("log_level", "%v", err)
	}

	return errs
}

// Mode returns the record mode implied by the flags.
func (c *Config) Mode() transformer.Mode {
	switch {
	case c.Output.CSVOnly:
		return transformer.ModeCSVOnly
	case c.HEC.Metrics:
		return transformer.ModeMetric
	default:
		return transformer.ModeEvent
	}
}

// CSVEnabled reports whether rows are appended to the CSV file.
func (c *Config) CSVEnabled() bool {
	return c.Output.CSV || c.Output.CSVOnly
}

// NetworkSinks names the configured archival sinks that need the network.
func (c *Config) NetworkSinks() []string {
	var sinks []string
	if c.Storage.MySQLDSN != "" {
		sinks = append(sinks, "mysql")
	}
	if c.Storage.PostgresDSN != "" {
		sinks = append(sinks, "postgresql")
	}
	if c.Storage.RedisURL != "" {
		sinks = append(sinks, "redis")
	}
	if c.Storage.AMQPURL != "" {
		sinks = append(sinks, "amqp")
	}
	if c.MQTT.Broker != "" {
		sinks = append(sinks, "mqtt")
	}
	return sinks
}

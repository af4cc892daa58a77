// Package config loads composer.yml with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/conduit-lang/composer/internal/assets"
)

// keyDelim separates nested keys. Map keys such as host names in
// namespaces.hosts contain dots, so the delimiter cannot be ".".
const keyDelim = "::"

// EnvPrefix prefixes environment overrides: server.port is COMPOSER_SERVER_PORT.
const EnvPrefix = "COMPOSER"

// FileNames are searched, in order, in the working directory and its parents.
var FileNames = []string{"composer.yml", "composer.yaml"}

// Config is the application configuration.
type Config struct {
	Server     ServerConfig             `mapstructure:"server"`
	Paths      PathsConfig              `mapstructure:"paths"`
	Namespaces NamespacesConfig         `mapstructure:"namespaces"`
	Discovery  DiscoveryConfig          `mapstructure:"discovery"`
	Cache      CacheConfig              `mapstructure:"cache"`
	Redis      RedisConfig              `mapstructure:"redis"`
	Render     RenderConfig             `mapstructure:"render"`
	Features   FeaturesConfig           `mapstructure:"features"`
	Assets     AssetsConfig             `mapstructure:"assets"`
	Vendors    map[string]assets.Vendor `mapstructure:"vendors"`
	Analytics  AnalyticsConfig          `mapstructure:"analytics"`
	Auth       AuthConfig               `mapstructure:"auth"`
	Segments   SegmentsConfig           `mapstructure:"segments"`
	Log        LogConfig                `mapstructure:"log"`
	Dev        DevConfig                `mapstructure:"dev"`

	// File is the config file that was read, empty when defaults only.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=0,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`
	TLSCert      string        `mapstructure:"tls_cert"`
	TLSKey       string        `mapstructure:"tls_key"`
	// Pprof mounts the profiling endpoints on the page server.
	Pprof bool `mapstructure:"pprof"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type PathsConfig struct {
	ConfigRoot    string   `mapstructure:"config_root" validate:"required"`
	TemplateRoots []string `mapstructure:"template_roots" validate:"required,min=1,dive,required"`
}

type NamespacesConfig struct {
	// Known lists the site versions besides the default one.
	Known []string          `mapstructure:"known" validate:"dive,required"`
	Hosts map[string]string `mapstructure:"hosts"`
}

type DiscoveryConfig struct {
	Strict   bool `mapstructure:"strict"`
	Override bool `mapstructure:"override"`
}

type CacheConfig struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory redis"`
	Prefix     string        `mapstructure:"prefix"`
	DefaultTTL time.Duration `mapstructure:"default_ttl" validate:"min=0"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	Enabled  bool   `mapstructure:"-"`
}

type RenderConfig struct {
	Debug         bool     `mapstructure:"debug"`
	MaxDepth      int      `mapstructure:"max_depth" validate:"min=0"`
	RTLLangs      []string `mapstructure:"rtl_langs" validate:"dive,len=2"`
	RTLStylesheet string   `mapstructure:"rtl_stylesheet"`
	FeatureFlags  []string `mapstructure:"feature_flags"`
	DefaultLang   string   `mapstructure:"default_lang" validate:"len=2"`
	Languages     []string `mapstructure:"languages" validate:"dive,len=2"`
	// Layout is an optional html/template file for the page document.
	Layout string `mapstructure:"layout"`
}

type FeaturesConfig struct {
	Chatbot bool `mapstructure:"chatbot"`
}

type AssetsConfig struct {
	Disabled    bool     `mapstructure:"disabled"`
	DisabledFor []string `mapstructure:"disabled_for"`
}

type AnalyticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver" validate:"omitempty,oneof=pgx sqlite3"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Table   string `mapstructure:"table"`
	Buffer  int    `mapstructure:"buffer" validate:"min=0"`
	Workers int    `mapstructure:"workers" validate:"min=0"`
	// Migrate creates the table on start.
	Migrate bool `mapstructure:"migrate"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Cookie    string        `mapstructure:"cookie"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type SegmentsConfig struct {
	ConsentCookie  string   `mapstructure:"consent_cookie"`
	ABCookie       string   `mapstructure:"ab_cookie"`
	LangCookie     string   `mapstructure:"lang_cookie"`
	SourceCookie   string   `mapstructure:"source_cookie"`
	CampaignCookie string   `mapstructure:"campaign_cookie"`
	QAParam        string   `mapstructure:"qa_param"`
	ExtraFields    []string `mapstructure:"extra_fields"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

type DevConfig struct {
	Watch bool `mapstructure:"watch"`
}

func key(parts ...string) string { return strings.Join(parts, keyDelim) }

func setDefaults(v *viper.Viper) {
	v.SetDefault(key("server", "host"), "localhost")
	v.SetDefault(key("server", "port"), 8080)
	v.SetDefault(key("server", "read_timeout"), "15s")
	v.SetDefault(key("server", "write_timeout"), "15s")
	v.SetDefault(key("paths", "config_root"), "config")
	v.SetDefault(key("paths", "template_roots"), []string{"templates"})
	v.SetDefault(key("cache", "backend"), "memory")
	v.SetDefault(key("cache", "prefix"), "composer:frag:")
	v.SetDefault(key("cache", "default_ttl"), "5m")
	v.SetDefault(key("redis", "addr"), "localhost:6379")
	v.SetDefault(key("render", "max_depth"), 8)
	v.SetDefault(key("render", "default_lang"), "fr")
	v.SetDefault(key("analytics", "driver"), "pgx")
	v.SetDefault(key("analytics", "table"), "composer_impressions")
	v.SetDefault(key("analytics", "buffer"), 1024)
	v.SetDefault(key("analytics", "workers"), 2)
	v.SetDefault(key("auth", "cookie"), "composer_session")
	v.SetDefault(key("auth", "ttl"), "24h")
	v.SetDefault(key("segments", "consent_cookie"), "consent")
	v.SetDefault(key("segments", "ab_cookie"), "ab_id")
	v.SetDefault(key("segments", "lang_cookie"), "lang")
	v.SetDefault(key("segments", "source_cookie"), "mkt_source")
	v.SetDefault(key("segments", "campaign_cookie"), "mkt_campaign")
	v.SetDefault(key("segments", "qa_param"), "qa")
	v.SetDefault(key("log", "level"), "info")
}

// Load reads path, or the first of FileNames found from the working directory
// upwards when path is empty. No file at all yields the defaults. Relative
// paths in the file resolve against its directory.
func Load(path string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelim))
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelim, "_"))
	v.AutomaticEnv()

	if path == "" {
		path = find()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = path
	cfg.Redis.Enabled = cfg.Cache.Backend == "redis"
	if path != "" {
		cfg.resolve(filepath.Dir(path))
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// find walks up from the working directory looking for a config file.
func find() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Paths.ConfigRoot = abs(c.Paths.ConfigRoot)
	for i, root := range c.Paths.TemplateRoots {
		c.Paths.TemplateRoots[i] = abs(root)
	}
	c.Render.Layout = abs(c.Render.Layout)
}

var validate = validator.New()

// Validate checks struct tags, then the path format rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if s := cfg.Render.RTLStylesheet; s != "" && !strings.HasPrefix(s, "/") && !strings.Contains(s, "://") {
		return fmt.Errorf("render.rtl_stylesheet must be absolute or a URL, got: %s", s)
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	for host := range cfg.Namespaces.Hosts {
		if strings.Contains(host, "/") {
			return fmt.Errorf("namespaces.hosts key must be a host name, got: %s", host)
		}
	}
	return nil
}

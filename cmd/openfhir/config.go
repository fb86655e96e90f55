package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/engine"
	"github.com/vitagroupag/openFHIR-sub001/pkg/loader"
	"github.com/vitagroupag/openFHIR-sub001/pkg/logger"
	"github.com/vitagroupag/openFHIR-sub001/service"
	"github.com/vitagroupag/openFHIR-sub001/specs"
	"github.com/vitagroupag/openFHIR-sub001/template"
)

const envPrefix = "OPENFHIR"

// OutputFormat specifies the output format.
type OutputFormat string

// Output format constants.
const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// Config holds CLI configuration. Every key can be set as a flag or as an
// OPENFHIR_ prefixed environment variable, also from a .env file.
type Config struct {
	MappingsDir  string       `mapstructure:"MAPPINGS_DIR"`
	Sets         string       `mapstructure:"SETS"`
	TemplateURL  string       `mapstructure:"TEMPLATE_URL"`
	Language     string       `mapstructure:"LANGUAGE"`
	Territory    string       `mapstructure:"TERRITORY"`
	Composer     string       `mapstructure:"COMPOSER"`
	Workers      int          `mapstructure:"WORKERS"`
	StrictAppend bool         `mapstructure:"STRICT_APPEND"`
	LogLevel     string       `mapstructure:"LOG_LEVEL"`
	LogFormat    string       `mapstructure:"LOG_FORMAT"`
	Output       OutputFormat `mapstructure:"OUTPUT"`
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"mappings":      "MAPPINGS_DIR",
	"set":           "SETS",
	"template-url":  "TEMPLATE_URL",
	"language":      "LANGUAGE",
	"territory":     "TERRITORY",
	"composer":      "COMPOSER",
	"workers":       "WORKERS",
	"strict-append": "STRICT_APPEND",
	"log-level":     "LOG_LEVEL",
	"log-format":    "LOG_FORMAT",
	"output":        "OUTPUT",
}

func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("mappings", "", "Directory with context/model mappings and web templates")
	fs.String("set", "", "Embedded mapping set(s) to load (comma-separated: "+setNames()+")")
	fs.String("template-url", "", "Base URL of an openEHR server serving web templates")
	fs.String("language", "", "Default composition language")
	fs.String("territory", "", "Default composition territory")
	fs.String("composer", "", "Default composer name")
	fs.Int("workers", 0, "Number of batch workers (0 = number of CPUs)")
	fs.Bool("strict-append", false, "Fail when an APPEND extension finds no target")
	fs.String("log-level", "warn", "Log level: debug, info, warn, error, disabled")
	fs.String("log-format", "console", "Log format: console, json")
	fs.StringP("output", "o", "text", "Output format: text, json")
}

func setNames() string {
	names := make([]string, 0, len(specs.Sets()))
	for _, s := range specs.Sets() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

// loadConfig reads .env, the environment and fs into a Config.
func loadConfig(fs *pflag.FlagSet) (*Config, error) {
	// Try reading .env file, but don't fail if missing
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	defaults := openfhir.DefaultOptions()
	v.SetDefault("LANGUAGE", defaults.DefaultLanguage)
	v.SetDefault("TERRITORY", defaults.DefaultTerritory)
	v.SetDefault("COMPOSER", defaults.DefaultComposer)
	v.SetDefault("WORKERS", 0)
	v.SetDefault("LOG_LEVEL", "warn")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("OUTPUT", string(OutputText))

	for name, key := range flagKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	switch OutputFormat(strings.ToLower(string(cfg.Output))) {
	case OutputJSON:
		cfg.Output = OutputJSON
	default:
		cfg.Output = OutputText
	}
	if cfg.MappingsDir == "" && cfg.Sets == "" {
		return nil, fmt.Errorf("no mappings: set --mappings or --set (or %s_MAPPINGS_DIR)", envPrefix)
	}
	return cfg, nil
}

// setupLogger installs the default logger.
func (c *Config) setupLogger() {
	lvl := logger.ParseLevel(c.LogLevel)
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetDefault(logger.New(os.Stderr, lvl))
		return
	}
	logger.SetDefault(logger.NewConsole(os.Stderr, lvl))
}

// options returns the engine options of c.
func (c *Config) options() []openfhir.Option {
	opts := []openfhir.Option{
		openfhir.WithDefaultLanguage(c.Language),
		openfhir.WithDefaultTerritory(c.Territory),
		openfhir.WithDefaultComposer(c.Composer),
		openfhir.WithStrictAppend(c.StrictAppend),
	}
	if c.Workers > 0 {
		opts = append(opts, openfhir.WithWorkerCount(c.Workers))
	}
	return opts
}

// store loads the mapping directory and the embedded sets of c.
func (c *Config) store() (*loader.Store, error) {
	store := loader.NewStore()
	if c.MappingsDir != "" {
		var err error
		store, err = loader.LoadDir(c.MappingsDir)
		if err != nil {
			return nil, err
		}
	}
	for _, name := range strings.Split(c.Sets, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		fsys, err := specs.FS(specs.Set(name))
		if err != nil {
			return nil, err
		}
		if _, err := store.LoadFS(fsys); err != nil {
			return nil, fmt.Errorf("load set %s: %w", name, err)
		}
	}
	return store, nil
}

// templates returns the template store of c: the local store, falling back
// to the remote server when one is configured.
func (c *Config) templates(local *loader.Store) service.TemplateStore {
	if c.TemplateURL == "" {
		return local
	}
	return service.NewTemplateChain(local, template.NewRemoteStore(c.TemplateURL))
}

// engine builds the mapping engine of c.
func (c *Config) engine() (*engine.Engine, *loader.Store, error) {
	store, err := c.store()
	if err != nil {
		return nil, nil, err
	}
	return engine.New(store, c.templates(store), c.options()...), store, nil
}

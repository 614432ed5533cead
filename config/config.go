package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/millplan/core/metrics"
	"github.com/kilianp07/millplan/core/model"
	"github.com/kilianp07/millplan/core/runlog"
	"github.com/kilianp07/millplan/infra/mqtt"
)

type Config struct {
	// PlantFile points to the plant data document. It takes precedence over
	// an inline Plant section.
	PlantFile string         `json:"plant_file"`
	Plant     *PlantSpec     `json:"plant"`
	Solver    SolverConfig   `json:"solver"`
	Search    SearchConfig   `json:"search"`
	Metrics   metrics.Config `json:"metrics"`
	RunLog    runlog.Config  `json:"runlog"`
	MQTT      mqtt.Config    `json:"mqtt"`
	Sentry    SentryConfig   `json:"sentry"`
	Export    ExportConfig   `json:"export"`
	Logging   LoggingConfig  `json:"logging"`
}

// Load reads the service configuration at path, applies K_ environment
// overrides, defaults and validation.
func Load(path string) (*Config, error) {
	k, err := newKoanf(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if cfg.PlantFile != "" && !filepath.IsAbs(cfg.PlantFile) {
		cfg.PlantFile = filepath.Join(filepath.Dir(path), cfg.PlantFile)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is given.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Solver.SetDefaults()
	c.Search.SetDefaults()
	c.RunLog.SetDefaults()
	c.MQTT.SetDefaults()
	c.Export.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Solver.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.RunLog.Validate(); err != nil {
		return err
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := c.Export.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// LoadPlant resolves the plant data from PlantFile or the inline section.
func (c *Config) LoadPlant() (*model.Plant, error) {
	switch {
	case c.PlantFile != "":
		return LoadPlant(c.PlantFile)
	case c.Plant != nil:
		return c.Plant.Build()
	default:
		return nil, fmt.Errorf("%w: no plant_file or plant section configured", model.ErrInvalidPlant)
	}
}

func newKoanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	return k, nil
}

// Package config loads the bot configuration from YAML, validates it against
// the embedded JSON schema and keeps the live copy for hot reload.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"ctfbot.ai/internal/sense"
	"ctfbot.ai/internal/strategy"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Loop     Loop     `yaml:"loop"`
	Sensing  Sensing  `yaml:"sensing"`
	Strategy Strategy `yaml:"strategy"`
	Journal  Journal  `yaml:"journal"`
	Stats    Stats    `yaml:"stats"`
	Log      Log      `yaml:"log"`
}

type Server struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Greeting string `yaml:"greeting"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type Loop struct {
	// MinInterval is the shortest pause between the end of one iteration and
	// the start of the next.
	MinInterval   time.Duration `yaml:"min_interval"`
	ErrorCooldown time.Duration `yaml:"error_cooldown"`
	// MoveWait caps how long a single move waits for the platform.
	MoveWait time.Duration `yaml:"move_wait"`
}

type Sensing struct {
	MaxOpponents   int     `yaml:"max_opponents"`
	MaxTeammates   int     `yaml:"max_teammates"`
	OpponentRadius float64 `yaml:"opponent_radius"`
	TeammateRadius float64 `yaml:"teammate_radius"`
}

func (s Sensing) Bounds() sense.Bounds {
	return sense.Bounds{
		MaxOpponents:   s.MaxOpponents,
		MaxTeammates:   s.MaxTeammates,
		OpponentRadius: s.OpponentRadius,
		TeammateRadius: s.TeammateRadius,
	}
}

type Strategy struct {
	// Ladder is the handler order, highest priority first.
	Ladder []string        `yaml:"ladder"`
	Params strategy.Params `yaml:"params"`
}

type Journal struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

type Stats struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Defaults() Config {
	b := sense.DefaultBounds()
	return Config{
		Server: Server{
			URL:              "ws://127.0.0.1:8080/v1/bot/ws",
			Name:             "ctfbot",
			Greeting:         "gl hf",
			HandshakeTimeout: 5 * time.Second,
		},
		Loop: Loop{
			MinInterval:   50 * time.Millisecond,
			ErrorCooldown: time.Second,
			MoveWait:      10 * time.Second,
		},
		Sensing: Sensing{
			MaxOpponents:   b.MaxOpponents,
			MaxTeammates:   b.MaxTeammates,
			OpponentRadius: b.OpponentRadius,
			TeammateRadius: b.TeammateRadius,
		},
		Strategy: Strategy{
			Ladder: append([]string(nil), strategy.DefaultOrder...),
			Params: strategy.DefaultParams(),
		},
		Journal: Journal{Dir: "data/journal"},
		Stats:   Stats{Path: "data/stats.sqlite"},
		Log:     Log{Level: "info"},
	}
}

//go:embed config.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// Load reads path, validates it and overlays it on Defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	cfg := Defaults()
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	if err := validateSchema(raw); err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("ctfbot.yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("ctfbot.yaml: %w", err)
	}
	// The schema validator wants JSON-decoded values.
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ctfbot.yaml: %w", err)
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return fmt.Errorf("ctfbot.yaml: %w", err)
	}
	s, err := compiled()
	if err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("ctfbot.yaml: %w", err)
	}
	return nil
}

// Validate checks what the schema cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.Loop.MinInterval < 0 {
		errs = append(errs, errors.New("loop.min_interval must not be negative"))
	}
	if c.Loop.ErrorCooldown < 0 {
		errs = append(errs, errors.New("loop.error_cooldown must not be negative"))
	}
	if c.Loop.MoveWait <= 0 {
		errs = append(errs, errors.New("loop.move_wait must be positive"))
	}
	if _, err := strategy.Build(c.Strategy.Ladder, c.Strategy.Params); err != nil {
		errs = append(errs, fmt.Errorf("strategy.ladder: %w", err))
	}
	p := c.Strategy.Params
	if p.Health.Critical > p.Health.Warning {
		errs = append(errs, errors.New("strategy.params.health: critical above warning"))
	}
	for _, team := range []string{strategy.TeamBlue, strategy.TeamRed} {
		if _, ok := p.Objective.ScoreLocations[team]; !ok {
			errs = append(errs, fmt.Errorf("strategy.params.objective.score_locations: no entry for %s", team))
		}
	}
	return errors.Join(errs...)
}

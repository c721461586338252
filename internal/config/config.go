// Package config loads the node's configuration (§6): a TOML file with
// environment overrides, the same layering convention geth's own config
// loader applies via naoina/toml.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/naoina/toml"
)

// envPrefix and envSeparator implement the override rule of §6: "APP_"
// prefix, "__" as the nesting separator, e.g. APP_P2P__MY_ADDRESS.
const (
	envPrefix    = "APP_"
	envSeparator = "__"
)

// tomlSettings mirrors geth's own naoina/toml configuration: field names
// are matched case-insensitively against the snake_case keys the spec
// uses, and unknown keys are rejected rather than silently ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(typ reflect.Type, key string) string {
		return strings.ReplaceAll(strings.ToLower(key), "_", "")
	},
	FieldToKey: func(typ reflect.Type, field string) string {
		return strings.ToLower(field)
	},
	MissingField: func(typ reflect.Type, field string) error {
		return fmt.Errorf("config: field %q is not defined in %s", field, typ.String())
	},
}

// SrsApi is the inbound/outbound HTTP surface configuration (§4.G, §6).
type SrsApi struct {
	BaseURL       string `toml:"base_url"`
	ListenAddress string `toml:"listen_address"`
	ListenPort    uint16 `toml:"listen_port"`
}

// Database names the embedded store location (§4.C, §6).
type Database struct {
	Filename string `toml:"filename"`
}

// P2P is the peer networking configuration (§4.A–§4.F, §6).
type P2P struct {
	BootstrapPeers    []string `toml:"bootstrap_peers"`
	MyAddress         string   `toml:"my_address"`
	Platform          string   `toml:"platform"`
	ShareAddress      bool     `toml:"share_address"`
	NetworkName       string   `toml:"network_name"`
	SnrRewardAddress  string   `toml:"snr_reward_address"`
}

// Config is the full configuration surface of §6.
type Config struct {
	SrsApi   SrsApi   `toml:"srs_api"`
	Database Database `toml:"database"`
	P2P      P2P      `toml:"p2p"`
}

// Load reads path as TOML, applies APP_-prefixed environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	var cfg Config
	if err := tomlSettings.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config: applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants §6/§8 require before a node can
// start: the bootstrap list must be non-empty, since it is the only
// fallback when the registry starts out empty.
func (c *Config) Validate() error {
	if len(c.P2P.BootstrapPeers) == 0 {
		return fmt.Errorf("config: p2p.bootstrap_peers must be non-empty")
	}
	if c.Database.Filename == "" {
		return fmt.Errorf("config: database.filename must be set")
	}
	return nil
}

// applyEnvOverrides walks cfg's exported struct fields and, for each
// leaf, checks for an APP_SECTION__FIELD environment variable, applying
// it over whatever the TOML file set.
func applyEnvOverrides(cfg *Config) error {
	return walkStruct(reflect.ValueOf(cfg).Elem(), nil)
}

func walkStruct(v reflect.Value, path []string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		name := tomlFieldName(field)
		fieldPath := append(append([]string{}, path...), name)

		if fieldVal.Kind() == reflect.Struct {
			if err := walkStruct(fieldVal, fieldPath); err != nil {
				return err
			}
			continue
		}

		envVar := envPrefix + strings.ToUpper(strings.Join(fieldPath, envSeparator))
		raw, ok := os.LookupEnv(envVar)
		if !ok {
			continue
		}
		if err := setFromEnv(fieldVal, raw); err != nil {
			return fmt.Errorf("%s: %w", envVar, err)
		}
	}
	return nil
}

func tomlFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("toml")
	if tag != "" {
		return tag
	}
	return field.Name
}

func setFromEnv(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Uint16, reflect.Uint, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", v.Type().Elem())
		}
		parts := strings.Split(raw, ",")
		out := make([]string, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		v.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field kind %s", v.Kind())
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable Load reads the configuration path from.
const PathEnv = "BULKGC_CONFIG"

// Load reads the file named by BULKGC_CONFIG, or starts from Default when
// it is unset, then applies environment overrides and validates.
func Load() (*Config, error) {
	if path := os.Getenv(PathEnv); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML file over Default, applies environment
// overrides and validates.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default, applies environment overrides and
// validates. Sequences in data replace the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBinding ties an environment variable to the field it overrides.
type envBinding struct {
	name    string
	section string
	field   string
}

// envBindings lists the env-tagged fields of every Config section, keyed by
// their yaml names.
func envBindings() []envBinding {
	var out []envBinding
	root := reflect.TypeOf(Config{})
	for i := 0; i < root.NumField(); i++ {
		sec := root.Field(i)
		if sec.Type.Kind() != reflect.Struct {
			continue
		}
		for j := 0; j < sec.Type.NumField(); j++ {
			f := sec.Type.Field(j)
			if name := f.Tag.Get("env"); name != "" {
				out = append(out, envBinding{name: name, section: yamlName(sec), field: yamlName(f)})
			}
		}
	}
	return out
}

func yamlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	return name
}

// trimSliceHook trims the items a comma split leaves padded.
func trimSliceHook(from, to reflect.Type, data any) (any, error) {
	items, ok := data.([]string)
	if !ok || to.Kind() != reflect.Slice {
		return data, nil
	}
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// applyEnv overrides every field carrying an env tag whose variable is set.
// Values are decoded with weak typing, so "90m", "true" and "k1,k2" land in
// duration, bool and slice fields.
func applyEnv(cfg *Config) error {
	for _, b := range envBindings() {
		raw, ok := os.LookupEnv(b.name)
		if !ok {
			continue
		}
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				trimSliceHook,
			),
			WeaklyTypedInput: true,
			ZeroFields:       true,
			TagName:          "yaml",
			Result:           cfg,
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(map[string]any{b.section: map[string]any{b.field: raw}}); err != nil {
			return fmt.Errorf("config: %s: %w", b.name, err)
		}
	}
	return nil
}

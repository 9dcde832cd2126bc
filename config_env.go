package authcore

import (
	"fmt"
	"reflect"

	"github.com/caarlos0/env/v11"
)

// LoadConfigFromEnv starts from DefaultConfig and overrides every field
// whose AUTHCORE_* variable is set. Key fields ending in _FILE are read
// from the named file.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf([]byte(nil)): func(v string) (interface{}, error) {
				return []byte(v), nil
			},
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

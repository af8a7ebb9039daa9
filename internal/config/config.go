package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atmret/mielab/internal/lognormal"
)

const (
	DefaultN          = 1.0
	DefaultRm         = 0.5
	DefaultS          = 1.5
	DefaultWavenumber = 2.0
	DefaultRefReal    = 1.5
	DefaultRefImag    = 0.01
)

// Config is a yaml scenario: one size distribution, its optical
// setting, and how to evaluate it. Lengths are microns, wavenumber
// 1/microns.
type Config struct {
	N          float64 `yaml:"n"`
	Rm         float64 `yaml:"rm"`
	S          float64 `yaml:"s"`
	Wavenumber float64 `yaml:"wavenumber"`
	RefReal    float64 `yaml:"ref_real"`
	RefImag    float64 `yaml:"ref_imag"`

	// Angles is the number of scattering angles, spread evenly over
	// [0, 180] degrees; 0 skips intensity functions.
	Angles int `yaml:"angles"`
	// Npts overrides the quadrature point count; 0 selects
	// automatically.
	Npts int `yaml:"npts"`
}

func DefaultConfig() *Config {
	return &Config{
		N:          DefaultN,
		Rm:         DefaultRm,
		S:          DefaultS,
		Wavenumber: DefaultWavenumber,
		RefReal:    DefaultRefReal,
		RefImag:    DefaultRefImag,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Params assembles the engine parameters described by the config.
func (c *Config) Params() lognormal.Params {
	return lognormal.Params{
		N:          c.N,
		Rm:         c.Rm,
		S:          c.S,
		Wavenumber: c.Wavenumber,
		RefIndex:   complex(c.RefReal, c.RefImag),
	}
}

package config

import "sort"

// Presets are ready-made aerosol scenarios. Refractive indices are
// representative visible-band values.
var Presets = map[string]*Config{
	"fine": {
		N: 1.0, Rm: 0.1, S: 1.6, Wavenumber: 1.82,
		RefReal: 1.44, RefImag: 0.002,
	},
	"coarse": {
		N: 0.01, Rm: 1.2, S: 1.9, Wavenumber: 1.82,
		RefReal: 1.53, RefImag: 0.006,
	},
	"smoke": {
		N: 5.0, Rm: 0.07, S: 1.5, Wavenumber: 1.82,
		RefReal: 1.52, RefImag: 0.02,
	},
	"marine": {
		N: 0.1, Rm: 0.4, S: 2.0, Wavenumber: 1.82,
		RefReal: 1.38, RefImag: 0.0001,
	},
	"cloud": {
		N: 0.05, Rm: 8.0, S: 1.4, Wavenumber: 1.82,
		RefReal: 1.33, RefImag: 0.0,
	},
}

func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

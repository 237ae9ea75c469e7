package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
)

// FileReport is the result of checking one config file.
type FileReport struct {
	Name string
	Path string
	// Err is set when the file is missing, malformed or carries fields the
	// service does not know.
	Err error
}

// VerifyFiles strictly decodes every config file named by cfg.Main. Unlike
// LoadAllConfigs it never writes anything.
func VerifyFiles(cfg *AllConfig) ([]FileReport, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	files := []struct {
		name  string
		model interface{}
	}{
		{"config.json", &MainConfig{}},
		{cfg.Main.DiscordConfig, &DiscordConfig{}},
		{cfg.Main.RedisConfig, &RedisConfig{}},
		{cfg.Main.SynthesisConfig, &SynthesisConfig{}},
		{cfg.Main.RelayConfig, &RelayConfig{}},
	}

	reports := make([]FileReport, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		r := FileReport{Name: f.name, Path: path}
		data, err := os.ReadFile(path)
		if err != nil {
			r.Err = err
		} else {
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			r.Err = dec.Decode(f.model)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

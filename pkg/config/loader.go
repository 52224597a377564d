package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kkyr/fig"
)

const (
	EnvPrefix = "WORLDHOST"
	FileName  = "config.yaml"
)

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix WORLDHOST_.
// Params from the config should be in uppercase separated with _.
// It returns the path of the file that was used (empty if none).
func LoadConfig(config any, path string) (string, error) {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs", "../../configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.worldhost")
		}
	}
	if err := fig.Load(config, fig.File(FileName), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix)); err != nil {
		if !errors.Is(err, fig.ErrFileNotFound) {
			return "", err
		}
		// no file, defaults and env only
		return "", LoadConfigEnv(config)
	}
	for _, d := range dirs {
		f := filepath.Join(d, FileName)
		if _, err := os.Stat(f); err == nil {
			return f, nil
		}
	}
	return "", nil
}

func LoadConfigEnv(config any) error {
	return fig.Load(config, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
}

// LoadDotEnv seeds the process environment from .env files.
// Variables that are already set are not overridden, missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

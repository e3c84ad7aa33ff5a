// conf/utils.go

package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/polybot/yolo-service/internal/errors"
)

const (
	osWindows = "windows"
	appDir    = "yolo-service"
)

// GetDefaultConfigPaths returns a list of default configuration paths for the current operating system.
// It determines paths based on standard conventions for storing application configuration files.
func GetDefaultConfigPaths() ([]string, error) {
	// Fetch the directory of the executable.
	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		return []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", appDir),
		}, nil
	default:
		return []string{
			filepath.Join(homeDir, ".config", appDir),
			"/etc/" + appDir,
		}, nil
	}
}

// FindConfigFile returns the first config.yaml found in the default config paths.
func FindConfigFile() (string, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	for _, path := range paths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return configFile, nil
		}
	}
	return "", errors.Newf("config file not found in %v", paths).
		Component("conf").
		Category(errors.CategoryNotFound).
		Build()
}

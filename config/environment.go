package config

import (
	"os"
	"strings"
)

const appEnvVar = "APP_ENV"

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
)

// AppEnvironment returns APP_ENV lowercased with short aliases expanded.
// Unset means development; unknown names pass through.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	switch env {
	case "", "dev":
		return EnvironmentDevelopment
	case "prod":
		return EnvironmentProduction
	case "stag", "stage":
		return EnvironmentStaging
	}
	return env
}

// IsProductionLike is true for production and staging.
func IsProductionLike(env string) bool {
	return env == EnvironmentProduction || env == EnvironmentStaging
}

// resolveEnvSpecificPath picks the per-environment file over defaultPath
// when the caller passed no override and that file exists.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path != "" && path != defaultPath {
		return path
	}
	if candidate, ok := envPaths[AppEnvironment()]; ok {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return defaultPath
}

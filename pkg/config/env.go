package config

import (
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file from the working directory when present.
// Existing environment variables win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvVars replaces ${VAR} references in s with their environment
// values. Unset variables expand to the empty string.
func ExpandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// ExpandEnvVarsInData walks a decoded config tree and expands ${VAR}
// references in every string value.
func ExpandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		return ExpandEnvVars(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = ExpandEnvVarsInData(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = ExpandEnvVarsInData(val)
		}
		return out
	default:
		return data
	}
}

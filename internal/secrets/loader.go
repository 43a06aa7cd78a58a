package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes where a secret value can come from.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline secret value provided via configuration or flags.
	Value string
	// Env names an environment variable holding the secret.
	Env string
	// File points to a file containing the secret value.
	File string
}

// Load resolves the secret. Precedence is File, then Env, then Value.
// The returned secret is always trimmed.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	if env := strings.TrimSpace(src.Env); env != "" {
		if secret := strings.TrimSpace(os.Getenv(env)); secret != "" {
			return secret, nil
		}
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		return "", fmt.Errorf("%s is not configured", name)
	}

	return secret, nil
}

// Optional behaves like Load but reports an unconfigured secret as empty.
// Unreadable or empty files are still errors.
func Optional(src Source) (string, error) {
	fromEnv := ""
	if env := strings.TrimSpace(src.Env); env != "" {
		fromEnv = strings.TrimSpace(os.Getenv(env))
	}
	if strings.TrimSpace(src.File) == "" && fromEnv == "" && strings.TrimSpace(src.Value) == "" {
		return "", nil
	}
	return Load(src)
}

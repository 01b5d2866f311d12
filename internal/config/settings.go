package config

import (
	"os"

	"github.com/carbon-console/amee/internal/interfaces"
)

// Environment variables that override profile values.
const (
	EnvProjectKey      = "AMEE_PROJECT_KEY"
	EnvProjectPassword = "AMEE_PROJECT_PASSWORD"
	EnvHost            = "AMEE_HOST"
)

// ResolveSettings turns a profile into client settings, applying environment
// overrides. A nil profile yields settings taken from the environment alone.
func ResolveSettings(profile *interfaces.Profile) interfaces.Settings {
	return resolveSettings(profile, os.LookupEnv)
}

func resolveSettings(profile *interfaces.Profile, lookup func(string) (string, bool)) interfaces.Settings {
	var settings interfaces.Settings
	if profile != nil {
		settings = interfaces.Settings{
			ProjectKey:      profile.ProjectKey,
			ProjectPassword: profile.ProjectPassword,
			Host:            profile.Host,
			Port:            profile.Port,
			SSLPort:         profile.SSLPort,
			DisableTLS:      profile.DisableTLS,
			ReadTimeout:     profile.ReadTimeout,
		}
	}

	if v, ok := lookup(EnvProjectKey); ok && v != "" {
		settings.ProjectKey = v
	}
	if v, ok := lookup(EnvProjectPassword); ok && v != "" {
		settings.ProjectPassword = v
	}
	if v, ok := lookup(EnvHost); ok && v != "" {
		settings.Host = v
	}
	return settings
}

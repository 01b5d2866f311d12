// Package config manages named connection profiles for the AMEE client.
// Profiles live in a YAML file under the user's config directory; project
// passwords are stored encrypted.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/carbon-console/amee/internal/errors"
	"github.com/carbon-console/amee/internal/interfaces"
	"github.com/carbon-console/amee/internal/logging"
)

const (
	appDirName = "amee"

	// DefaultProfile is the profile used when none is named.
	DefaultProfile = "default"

	component = "config"
)

// Config represents the complete configuration file structure
type Config struct {
	Profiles map[string]interfaces.Profile `yaml:"profiles"`
	Themes   map[string]interfaces.Theme   `yaml:"themes"`
}

// Manager implements interfaces.ConfigManager
type Manager struct {
	configPath   string
	securityMgr  SecurityManager
	cachedConfig *Config
	logger       *logging.Logger
}

// NewManager creates a configuration manager with OS-appropriate paths
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to determine configuration path: %w", err)
	}

	securityMgr, err := NewSecurityManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security manager: %w", err)
	}

	return NewManagerWithPaths(configPath, securityMgr)
}

// NewManagerWithPaths creates a configuration manager for an explicit file.
func NewManagerWithPaths(configPath string, securityMgr SecurityManager) (*Manager, error) {
	manager := &Manager{
		configPath:  configPath,
		securityMgr: securityMgr,
		logger:      logging.GetConfigLogger(),
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	return manager, nil
}

// getConfigPath determines the OS-appropriate configuration file path
func getConfigPath() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appDirName, "profiles.yaml"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appDirName, "profiles.yaml"), nil
}

// loadConfig reads and parses the configuration file, creating defaults if necessary
func (m *Manager) loadConfig() (*Config, error) {
	if m.cachedConfig != nil {
		return m.cachedConfig, nil
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		config := createDefaultConfig()
		if err := m.saveConfig(config); err != nil {
			return nil, fmt.Errorf("failed to create default configuration: %w", err)
		}
		m.cachedConfig = config
		return config, nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		m.logger.LogConfigError("read", err)
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		m.logger.LogConfigError("parse", err)
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}
	if config.Profiles == nil {
		config.Profiles = make(map[string]interfaces.Profile)
	}

	for name, profile := range config.Profiles {
		if profile.ProjectPassword == "" {
			continue
		}
		password, err := m.securityMgr.DecryptCredential(profile.ProjectPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt password for profile %s: %w", name, err)
		}
		profile.ProjectPassword = password
		config.Profiles[name] = profile
	}

	m.cachedConfig = &config
	return &config, nil
}

// saveConfig writes the configuration to disk with passwords encrypted
func (m *Manager) saveConfig(config *Config) error {
	configCopy := *config
	configCopy.Profiles = make(map[string]interfaces.Profile, len(config.Profiles))

	for name, profile := range config.Profiles {
		if profile.ProjectPassword != "" {
			encrypted, err := m.securityMgr.EncryptCredential(profile.ProjectPassword)
			if err != nil {
				return fmt.Errorf("failed to encrypt password for profile %s: %w", name, err)
			}
			profile.ProjectPassword = encrypted
		}
		configCopy.Profiles[name] = profile
	}

	data, err := yaml.Marshal(&configCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		m.logger.LogConfigError("write", err)
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}

// createDefaultConfig points the default profile at a local amee-mock.
func createDefaultConfig() *Config {
	return &Config{
		Profiles: map[string]interfaces.Profile{
			DefaultProfile: {
				Name:       DefaultProfile,
				Host:       "localhost",
				Port:       8080,
				DisableTLS: true,
				ProjectKey: "demo",
				Theme:      "github",
			},
		},
		Themes: map[string]interfaces.Theme{
			"github": {
				Name:    "github",
				Success: "#28a745",
				Error:   "#dc3545",
				Warning: "#ffc107",
				Info:    "#17a2b8",
			},
			"monokai": {
				Name:    "monokai",
				Success: "#a6e22e",
				Error:   "#f92672",
				Warning: "#fd971f",
				Info:    "#66d9ef",
			},
		},
	}
}

// LoadProfile retrieves a profile by name with its password decrypted
func (m *Manager) LoadProfile(name string) (*interfaces.Profile, error) {
	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	profile, exists := config.Profiles[name]
	if !exists {
		return nil, apperrors.NewConfigurationError(component).
			WithOperation("load_profile").
			WithMessagef("profile '%s' not found", name).
			WithoutStackTrace().
			Build()
	}
	profile.Name = name

	if err := m.ValidateProfile(&profile); err != nil {
		return nil, err
	}

	m.logger.LogConfigLoad(m.configPath, name)
	return &profile, nil
}

// SaveProfile persists a profile, replacing any profile of the same name
func (m *Manager) SaveProfile(profile *interfaces.Profile) error {
	if err := m.ValidateProfile(profile); err != nil {
		return err
	}

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Profiles[profile.Name] = *profile

	if err := m.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	m.cachedConfig = config
	m.logger.Info("Profile saved", "profile", profile.Name, "path", m.configPath)
	return nil
}

// ListProfiles returns all profile names in sorted order
func (m *Manager) ListProfiles() ([]string, error) {
	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteProfile removes a profile. The default profile cannot be deleted.
func (m *Manager) DeleteProfile(name string) error {
	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, exists := config.Profiles[name]; !exists {
		return fmt.Errorf("profile '%s' does not exist", name)
	}
	if name == DefaultProfile {
		return fmt.Errorf("cannot delete the default profile")
	}

	delete(config.Profiles, name)

	if err := m.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	m.cachedConfig = config
	return nil
}

// LoadTheme retrieves theme configuration by name
func (m *Manager) LoadTheme(name string) (*interfaces.Theme, error) {
	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	theme, exists := config.Themes[name]
	if !exists {
		return nil, fmt.Errorf("theme '%s' not found", name)
	}
	theme.Name = name

	return &theme, nil
}

// ValidateProfile ensures a profile names a host and project and carries
// usable ports
func (m *Manager) ValidateProfile(profile *interfaces.Profile) error {
	if profile == nil {
		return invalidProfile("profile cannot be nil")
	}

	if strings.TrimSpace(profile.Name) == "" {
		return invalidProfile("profile name cannot be empty")
	}

	host := strings.TrimSpace(profile.Host)
	if host == "" {
		return invalidProfile("profile host cannot be empty")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return invalidProfile("host must not include a port; use the port and sslPort fields")
	}
	if strings.ContainsAny(host, "/ \t") {
		return invalidProfile(fmt.Sprintf("host %q is not a hostname", host))
	}

	if strings.TrimSpace(profile.ProjectKey) == "" {
		return invalidProfile("project key cannot be empty")
	}

	for field, port := range map[string]int{"port": profile.Port, "sslPort": profile.SSLPort} {
		if port < 0 || port > 65535 {
			return invalidProfile(fmt.Sprintf("%s must be between 1 and 65535, got %d", field, port))
		}
	}

	if profile.ReadTimeout < 0 {
		return invalidProfile("readTimeout cannot be negative")
	}

	return nil
}

func invalidProfile(msg string) error {
	return apperrors.NewConfigurationError(component).
		WithOperation("validate_profile").
		WithMessage(msg).
		WithoutStackTrace().
		Build()
}

// GetConfigPath returns the path to the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// InvalidateCache clears the cached configuration, forcing a reload on next access
func (m *Manager) InvalidateCache() {
	m.cachedConfig = nil
}

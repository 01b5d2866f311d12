// Package main implements the amee command-line client. It resolves a
// connection profile, sends one request to the AMEE API and prints the JSON
// payload.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/carbon-console/amee/internal/config"
	"github.com/carbon-console/amee/internal/content"
	apperrors "github.com/carbon-console/amee/internal/errors"
	"github.com/carbon-console/amee/internal/interfaces"
	"github.com/carbon-console/amee/internal/logging"
	"github.com/carbon-console/amee/internal/metrics"
	"github.com/carbon-console/amee/internal/protocol"
)

// Application metadata
const (
	Version     = "1.0.0"
	ProgramName = "amee"
)

// Exit codes
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// CommandLineArgs represents parsed command-line arguments
type CommandLineArgs struct {
	Profile     string
	Host        string
	Port        int
	SSLPort     int
	Key         string
	Password    string
	NoTLS       bool
	Raw         bool
	Stats       bool
	Theme       string
	LogLevel    string
	SaveProfile string
	NoColor     bool
	ShowHelp    bool
	ShowVersion bool

	// Request holds the positional VERB PATH [key=value ...] arguments
	Request []string
}

// Dependencies holds the components a request run needs
type Dependencies struct {
	ConfigManager interfaces.ConfigManager
	Client        *protocol.Client
	Renderer      *content.Renderer
	Registry      *prometheus.Registry
	Logger        *logging.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code
func run(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(ProgramName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	args, err := parseCommandLineArgs(fs, argv)
	if err != nil {
		return exitUsage
	}

	if args.ShowHelp {
		fs.Usage()
		return exitOK
	}
	if args.ShowVersion {
		fmt.Fprintf(stdout, "%s v%s\n", ProgramName, Version)
		fmt.Fprintf(stdout, "Protocol Version: %s\n", protocol.ProtocolVersion)
		return exitOK
	}

	logger, err := initializeLogging(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	if err := validateArguments(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		fs.Usage()
		return exitUsage
	}

	renderer, err := content.NewRenderer(args.NoColor)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	configManager, err := config.NewManager()
	if err != nil {
		return reportError(renderer, stderr, err)
	}

	profile, err := determineProfile(configManager, args)
	if err != nil {
		return reportError(renderer, stderr, err)
	}

	if args.SaveProfile != "" {
		profile.Name = args.SaveProfile
		if err := configManager.SaveProfile(profile); err != nil {
			return reportError(renderer, stderr, err)
		}
		fmt.Fprintf(stdout, "Saved profile %q to %s\n", profile.Name, configManager.GetConfigPath())
		if len(args.Request) == 0 {
			return exitOK
		}
	}

	if profile.Theme != "" {
		theme, err := configManager.LoadTheme(profile.Theme)
		if err != nil {
			logger.Warn("Theme not found, using defaults", "theme", profile.Theme)
		} else if err := renderer.SetTheme(theme); err != nil {
			logger.Debug("No syntax style for theme, keeping the default", "theme", profile.Theme)
		}
	}

	deps, err := initializeDependencies(configManager, renderer, logger, resolveSettings(profile, args))
	if err != nil {
		return reportError(renderer, stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code := executeRequest(ctx, deps, args, stdout, stderr)

	if args.Stats {
		fmt.Fprintln(stderr, deps.Renderer.RenderStatistics(deps.Client.Statistics()))
		if err := writeMetrics(stderr, deps.Registry); err != nil {
			logger.Warn("Failed to write metrics", "error", err)
		}
	}
	return code
}

// parseCommandLineArgs registers the flags on fs and parses argv
func parseCommandLineArgs(fs *flag.FlagSet, argv []string) (CommandLineArgs, error) {
	var args CommandLineArgs

	fs.StringVar(&args.Profile, "profile", "", "Profile name from the configuration file (default \"default\")")
	fs.StringVar(&args.Host, "host", "", "API host name; without -profile a temporary profile is used")
	fs.IntVar(&args.Port, "port", 0, "Plain port (default 80)")
	fs.IntVar(&args.SSLPort, "ssl-port", 0, "TLS port used for the authorization handshake (default 443)")
	fs.StringVar(&args.Key, "key", "", "Project key (overrides profile and AMEE_PROJECT_KEY)")
	fs.StringVar(&args.Password, "password", "", "Project password (overrides profile and AMEE_PROJECT_PASSWORD)")
	fs.BoolVar(&args.NoTLS, "no-tls", false, "Authorize over the plain port instead of TLS")
	fs.BoolVar(&args.Raw, "raw", false, "Print the full response including status line and headers")
	fs.BoolVar(&args.Stats, "stats", false, "Print request statistics and metrics to stderr")
	fs.StringVar(&args.Theme, "theme", "", "Color theme name from the configuration file")
	fs.StringVar(&args.LogLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	fs.StringVar(&args.SaveProfile, "save-profile", "", "Save the resolved connection settings under this profile name")
	fs.BoolVar(&args.NoColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&args.ShowHelp, "help", false, "Display usage information and exit")
	fs.BoolVar(&args.ShowVersion, "version", false, "Display version information and exit")

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: %s [options] VERB PATH [key=value ...]\n\n", ProgramName)
		fmt.Fprintf(out, "Sends one request to the AMEE API and prints the JSON payload.\n")
		fmt.Fprintf(out, "VERB is one of GET, POST, PUT or DELETE.\n\n")
		fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nExamples:\n")
		fmt.Fprintf(out, "  %s GET /profiles\n", ProgramName)
		fmt.Fprintf(out, "  %s -profile stage GET /data uid=123\n", ProgramName)
		fmt.Fprintf(out, "  %s PUT /profiles/ABCDEF012345/categories name=heating\n", ProgramName)
		fmt.Fprintf(out, "  %s -host stage.amee.com -key KEY -save-profile stage\n", ProgramName)
		fmt.Fprintf(out, "\nConfiguration file location: ~/.config/amee/profiles.yaml\n")
	}

	if err := fs.Parse(argv); err != nil {
		return args, err
	}
	args.Request = fs.Args()
	return args, nil
}

// initializeLogging sets up the global logger on stderr
func initializeLogging(args CommandLineArgs, stderr io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(args.LogLevel)
	if err != nil {
		return nil, err
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	logConfig.Writer = stderr
	if os.Getenv("AMEE_DEBUG") == "true" {
		logConfig.Level = logging.DebugLevel
		logConfig.Format = "json"
	}

	if err := logging.InitGlobalLogger(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	logger := logging.GetGlobalLogger()
	logger.Debug("amee starting", "version", Version, "profile", args.Profile, "host", args.Host)
	return logger, nil
}

// validateArguments checks the positional request arguments
func validateArguments(args CommandLineArgs) error {
	if len(args.Request) == 0 && args.SaveProfile != "" {
		return nil
	}
	if len(args.Request) < 2 {
		return fmt.Errorf("expected VERB PATH [key=value ...]")
	}
	if _, err := parseParams(args.Request[2:]); err != nil {
		return err
	}
	return nil
}

// parseParams turns key=value arguments into request parameters
func parseParams(pairs []string) (url.Values, error) {
	params := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q must have the form key=value", pair)
		}
		params.Add(key, value)
	}
	return params, nil
}

// determineProfile loads the named profile, or builds a temporary one when
// only -host is given, then applies flag overrides
func determineProfile(cm interfaces.ConfigManager, args CommandLineArgs) (*interfaces.Profile, error) {
	var profile *interfaces.Profile

	if args.Host != "" && args.Profile == "" {
		profile = &interfaces.Profile{Name: "temporary", Host: args.Host, Theme: "github"}
	} else {
		name := args.Profile
		if name == "" {
			name = config.DefaultProfile
		}
		loaded, err := cm.LoadProfile(name)
		if err != nil {
			return nil, err
		}
		profile = loaded
	}

	if args.Host != "" {
		profile.Host = args.Host
	}
	if args.Port != 0 {
		profile.Port = args.Port
	}
	if args.SSLPort != 0 {
		profile.SSLPort = args.SSLPort
	}
	if args.Key != "" {
		profile.ProjectKey = args.Key
	}
	if args.Password != "" {
		profile.ProjectPassword = args.Password
	}
	if args.NoTLS {
		profile.DisableTLS = true
	}
	if args.Theme != "" {
		profile.Theme = args.Theme
	}
	return profile, nil
}

// resolveSettings applies environment overrides, then lets explicit flags win
func resolveSettings(profile *interfaces.Profile, args CommandLineArgs) interfaces.Settings {
	settings := config.ResolveSettings(profile)
	if args.Key != "" {
		settings.ProjectKey = args.Key
	}
	if args.Password != "" {
		settings.ProjectPassword = args.Password
	}
	if args.Host != "" {
		settings.Host = args.Host
	}
	return settings
}

// initializeDependencies wires metrics and the protocol client
func initializeDependencies(cm interfaces.ConfigManager, renderer *content.Renderer, logger *logging.Logger, settings interfaces.Settings) (*Dependencies, error) {
	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	client, err := protocol.NewClient(settings,
		protocol.WithMetrics(m),
		protocol.WithLogger(logger.WithComponent("protocol")))
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		ConfigManager: cm,
		Client:        client,
		Renderer:      renderer,
		Registry:      registry,
		Logger:        logger,
	}, nil
}

// executeRequest sends the request and prints the rendered result
func executeRequest(ctx context.Context, deps *Dependencies, args CommandLineArgs, stdout, stderr io.Writer) int {
	params, err := parseParams(args.Request[2:])
	if err != nil {
		return reportError(deps.Renderer, stderr, err)
	}
	descriptor := args.Request[0] + " " + args.Request[1]

	if args.Raw {
		resp, err := deps.Client.DoRaw(ctx, descriptor, params)
		if err != nil {
			return reportError(deps.Renderer, stderr, err)
		}
		rendered, err := deps.Renderer.RenderRaw(resp)
		if err != nil {
			return reportError(deps.Renderer, stderr, err)
		}
		fmt.Fprintln(stdout, rendered)
		return exitOK
	}

	payload, err := deps.Client.Do(ctx, descriptor, params)
	if err != nil {
		return reportError(deps.Renderer, stderr, err)
	}
	rendered, err := deps.Renderer.RenderPayload(payload)
	if err != nil {
		deps.Logger.Debug("Highlighting failed", "error", err)
	}
	fmt.Fprintln(stdout, rendered)
	return exitOK
}

// reportError prints err with recovery hints and returns the error exit code
func reportError(renderer *content.Renderer, stderr io.Writer, err error) int {
	processed, perr := apperrors.NewHandler().Process(err)
	if perr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	rendered, rerr := renderer.RenderError(processed)
	if rerr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	fmt.Fprintln(stderr, rendered)
	return exitError
}

// writeMetrics prints the registry in the Prometheus text format
func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

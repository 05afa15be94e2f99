package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"subgate/internal/app/bootstrap"
	"subgate/internal/app/server"
	"subgate/internal/app/version"
	"subgate/internal/auth"
	"subgate/internal/config"
)

const defaultPort = 8082

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(resolveLogLevel(os.Getenv("LOG_LEVEL")))

	portFlag := flag.Int("port", defaultPort, "Port for the API server")
	settingsFlag := flag.String("settings", config.DefaultSettingsPath, "Path of the settings file")
	issueTokenFlag := flag.String("issue-token", "", "Print an API token for the given subject and exit")
	tokenTTLFlag := flag.Duration("token-ttl", auth.DefaultTokenTTL, "Lifetime of a token printed by -issue-token")
	flag.Parse()

	if subject := strings.TrimSpace(*issueTokenFlag); subject != "" {
		return printToken(subject, *tokenTTLFlag)
	}

	settingsPath := *settingsFlag
	if v := strings.TrimSpace(os.Getenv("SETTINGS_PATH")); v != "" {
		settingsPath = v
	}
	config.SetSettingsPath(settingsPath)

	port := resolvePort("PORT", "BACKEND_PORT", *portFlag)

	build := config.ResolveBuildInfo(version.ApplicationID(), version.Distribution())
	log.Info("Starting subgate",
		"version", version.Get().BuildVersion,
		"application", build.ApplicationID,
		"channel", build.Channel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, build)
	if err != nil {
		return fmt.Errorf("failed to set up: %w", err)
	}
	defer components.Close()

	components.StartRoutines(ctx)

	return server.OpenRoutes(ctx, port, server.Deps{
		Fetcher:   components.Fetcher,
		Routes:    components.Routes,
		GeoLite:   components.GeoLite,
		BuildInfo: build,
	})
}

func printToken(subject string, ttl time.Duration) error {
	token, err := auth.IssueToken(subject, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func resolveLogLevel(raw string) log.Level {
	if strings.TrimSpace(raw) == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		log.Warn("invalid log level", "value", raw)
		return log.InfoLevel
	}
	return level
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}

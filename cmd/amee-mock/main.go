// Package main runs a local mock of the AMEE API for trying the amee client
// without credentials for a real project.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/carbon-console/amee/internal/logging"
	"github.com/carbon-console/amee/internal/mockserver"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Listen address")
	key := flag.String("key", "demo", "Project key accepted by POST /auth")
	password := flag.String("password", "demo", "Project password accepted by POST /auth")
	profiles := flag.String("profiles", "ABCDEF012345,0123456789AB", "Comma-separated profile UIDs served by GET /profiles")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	logConfig.Component = "amee-mock"
	if err := logging.InitGlobalLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logger := logging.GetGlobalLogger()

	server := mockserver.New(*key, *password,
		mockserver.WithLogger(logger.WithComponent("mockserver")),
		mockserver.WithProfiles(strings.Split(*profiles, ",")...))
	if err := server.Start(*addr); err != nil {
		logger.Error("Server failed to start", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Mock AMEE server listening on %s\n", server.Addr())
	fmt.Println("Endpoints:")
	fmt.Println("  POST   /auth                       - issues an authToken header")
	fmt.Println("  GET    /profiles                   - lists profiles")
	fmt.Println("  GET    /data[?k=v]                 - echoes path and query")
	fmt.Println("  PUT    /profiles/<uid>/<path>      - echoes the form body")
	fmt.Println("  DELETE /profiles/<uid>/<path>      - acknowledges deletion")
	fmt.Println()
	fmt.Printf("Try: AMEE_PROJECT_PASSWORD=%s amee -host 127.0.0.1 -port %d -no-tls -key %s GET /profiles\n",
		*password, server.Port(), *key)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	logger.Info("Shutting down")
	if err := server.Close(); err != nil {
		logger.Warn("Close failed", "error", err)
	}
}

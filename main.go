// Package main is the entry point for the dealgate service.
package main

import (
	"context"
	"log"
	"os"

	"github.com/garimpeirogeek/dealgate/internal/app"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		runServer()
	case "version":
		log.Printf("dealgate version %s\n", version)
		os.Exit(0)
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	default:
		log.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	configPath := os.Getenv("DEALGATE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			log.Printf("Cleanup error: %v", closeErr)
		}
	}()

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}

func printUsage() {
	log.Println("dealgate - offer admission service")
	log.Println()
	log.Println("Usage:")
	log.Println("  dealgate [command]")
	log.Println()
	log.Println("Commands:")
	log.Println("  serve      Start the HTTP API server (default)")
	log.Println("  version    Print version information")
	log.Println("  help       Show this help message")
	log.Println()
	log.Println("Environment Variables:")
	log.Println("  DEALGATE_CONFIG    - Config file path (default: config.yaml)")
	log.Println("  DEALGATE_PORT      - HTTP port override")
	log.Println("  REDIS_ADDR         - Redis address (enables Redis when set)")
	log.Println("  REDIS_PASSWORD     - Redis password (optional)")
	log.Println("  AMAZON_TAG         - Amazon associate tag override")
	log.Println("  AWIN_AFFILIATE_ID  - Awin affiliate id override")
	log.Println("  APP_DEBUG          - Debug logging: true|false")
}

// Package cmd provides the tidegraph CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE chat streaming
//   - migrate: apply database migrations and exit
//   - ingest: fetch a URL into the retrieval corpus
//
// The serve command handles SIGINT/SIGTERM with graceful shutdown.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the tidegraph CLI.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
	case "ingest":
		return runIngest(os.Args[2:])
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("tidegraph - knowledge graph chat service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tidegraph serve          Start the HTTP API server")
	fmt.Println("  tidegraph migrate        Apply database migrations and exit")
	fmt.Println("  tidegraph ingest <url>   Fetch a web page into the corpus")
	fmt.Println("  tidegraph version        Show version information")
	fmt.Println("  tidegraph help           Show this help")
	fmt.Println()
	fmt.Println("Configuration is read from config.yaml (./ or /etc/tidegraph)")
	fmt.Println("and TIDEGRAPH_* environment variables.")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY           Required for the gemini provider")
	fmt.Println("  TIDEGRAPH_POSTGRES_HOST  Database host")
	fmt.Println("  TIDEGRAPH_LOG_LEVEL      debug, info, warn, error")
}

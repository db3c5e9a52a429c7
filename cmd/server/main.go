package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aeolun/craftlink/pkg/app"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "~/.craftlink/config.toml", "Path to config file")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	httpPort := flag.Int("http-port", 0, "HTTP port for /ws, /health and /metrics (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Craftlink Server %s\n", Version)
		os.Exit(0)
	}

	app.New(app.Params{
		ConfigPath: *configPath,
		Version:    Version,
		TCPPort:    *port,
		HTTPPort:   *httpPort,
		DBPath:     *dbPath,
		Debug:      *debug,
	}).Run()
}

package main

import "flag"

type cliFlags struct {
	configPath  string
	natsURL     string
	logLevel    string
	validate    bool
	showVersion bool
}

func parseFlags() *cliFlags {
	f := &cliFlags{}
	flag.StringVar(&f.configPath, "config", "", "Path to YAML configuration file (defaults apply when empty)")
	flag.StringVar(&f.natsURL, "nats", "", "NATS server URL (overrides configuration)")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides configuration)")
	flag.BoolVar(&f.validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	flag.Parse()
	return f
}

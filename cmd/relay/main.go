// Relay connects a Signal account to a local Ollama model.
//
// Each one-to-one Signal message is answered by the active model with a
// short per-user conversation history. Messages starting with "!" or
// "/" are commands (help, ping, reset, status, model). Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	relay serve                Run the relay
//	relay link [device-name]   Link signal-cli to a phone as a secondary device
//	relay models               List installed Ollama models
//	relay usage [days]         Summarize recorded chat turns
//	relay init [dir]           Write an example config.yaml
//	relay version              Print version and build information
//	relay -o json version      Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nugget/signal-relay/internal/buildinfo"
	"github.com/nugget/signal-relay/internal/config"
)

// main builds the OS-level environment and hands off to [run], keeping
// os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout and fatal
// errors are returned to main. Arguments are parsed by hand so that
// tests can call run concurrently without the flag package's globals.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "link":
		deviceName := "signal-relay"
		if len(cmdArgs) > 0 {
			deviceName = cmdArgs[0]
		}
		return runLink(ctx, stdout, configPath, deviceName)
	case "models":
		return runModels(ctx, stdout, configPath, outputFmt)
	case "usage":
		return runUsage(stdout, configPath, outputFmt, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "signal-relay - Signal to Ollama chat relay")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: relay [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                Run the relay")
	fmt.Fprintln(w, "  link [device-name]   Link signal-cli to your phone (shows a QR code)")
	fmt.Fprintln(w, "  models               List installed Ollama models")
	fmt.Fprintln(w, "  usage [days]         Summarize chat turns and tokens (default: 1 day)")
	fmt.Fprintln(w, "  init [dir]           Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version              Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// loadConfigOrDefault is loadConfig for subcommands that can run
// without a config file. An explicit path must still load.
func loadConfigOrDefault(explicit string) (*config.Config, error) {
	if explicit == "" {
		if _, err := config.FindConfig(""); err != nil {
			return config.Default(), nil
		}
	}
	cfg, _, err := loadConfig(explicit)
	return cfg, err
}

// cdm builds and releases the contracts of a workspace in dependency order.
//
//	cdm layers              print the execution plan
//	cdm build               compile every contract, layer by layer
//	cdm deploy --local      build, deploy, publish metadata and register
//	cdm report              show the latest release or build report
//	cdm target <name>       set the default release target
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

// exitCode ends the process with a status and no message.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func (e exitCode) ExitCode() int { return int(e) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	root       string
	manifest   string
	contracts  []string
	target     string
	registry   string
	statusAddr string
	plain      bool
	local      bool
	runID      string
	list       bool
	buildOnly  bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return exitCode(2)
	}
	command, rest := args[0], args[1:]
	switch command {
	case "-h", "--help", "help":
		printUsage(stdout)
		return nil
	case "layers", "build", "deploy", "report", "target":
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", command)
	}

	opts, positional, err := parseFlags(command, rest, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	switch command {
	case "layers":
		return runLayers(opts, stdout)
	case "build":
		return runPipeline(ctx, opts, false, stdout, stderr)
	case "deploy":
		return runPipeline(ctx, opts, true, stdout, stderr)
	case "report":
		return runReport(opts, stdout)
	default:
		if len(positional) != 1 {
			return fmt.Errorf("usage: cdm target <name>")
		}
		return runSetTarget(opts, positional[0], stdout)
	}
}

func parseFlags(command string, args []string, stderr io.Writer) (options, []string, error) {
	var opts options
	flags := pflag.NewFlagSet("cdm "+command, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.root, "root", ".", "workspace root")
	switch command {
	case "layers", "build", "deploy":
		flags.StringVar(&opts.manifest, "manifest", "", "contracts manifest (default from .cdm/config.yaml)")
		flags.StringSliceVar(&opts.contracts, "contracts", nil, "only process the named contracts")
	}
	switch command {
	case "build", "deploy":
		flags.StringVar(&opts.registry, "registry", "", "registry address passed to builds (default from the target)")
		flags.BoolVar(&opts.plain, "plain", false, "log lines instead of the interactive table")
		flags.StringVar(&opts.statusAddr, "status-addr", "", "serve live status on host:port")
	}
	switch command {
	case "build", "deploy", "report":
		flags.StringVar(&opts.target, "target", "", "release target (default from .cdm/config.yaml)")
	}
	if command == "deploy" {
		flags.BoolVar(&opts.local, "local", false, "release against the in-process ledger")
	}
	if command == "report" {
		flags.StringVar(&opts.runID, "run", "", "show a specific run instead of the latest")
		flags.BoolVar(&opts.list, "list", false, "list stored run ids")
		flags.BoolVar(&opts.buildOnly, "build", false, "read reports saved by cdm build")
	}
	if err := flags.Parse(args); err != nil {
		return options{}, nil, err
	}
	if command != "target" && flags.NArg() > 0 {
		return options{}, nil, fmt.Errorf("unexpected argument: %s", flags.Arg(0))
	}
	return opts, flags.Args(), nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `cdm builds and releases contracts in dependency order.

Usage:
  cdm layers [--root dir] [--manifest file] [--contracts a,b]
  cdm build  [--target name] [--registry addr] [--contracts a,b] [--plain] [--status-addr host:port]
  cdm deploy --local [--target name] [--registry addr] [--contracts a,b] [--plain] [--status-addr host:port]
  cdm report [--target name | --build] [--run id | --list]
  cdm target <name>
`)
}

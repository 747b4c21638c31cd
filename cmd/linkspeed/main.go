package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpcmd "github.com/saveenergy/linkspeed/cmd/mcp"
	"github.com/saveenergy/linkspeed/cmd/measure"
	"github.com/saveenergy/linkspeed/cmd/server"
)

var version = "dev"

var (
	runServer  = server.Run
	runMeasure = measure.Run
	runMCP     = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

// passthrough builds a subcommand whose flags are parsed by the
// subcommand package itself.
func passthrough(use, short string, exit *int, fn func(args []string) int) *cobra.Command {
	return &cobra.Command{
		Use:                use,
		Short:              short,
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			*exit = fn(args)
		},
	}
}

func newRootCommand(version string, exit *int) *cobra.Command {
	root := &cobra.Command{
		Use:   "linkspeed",
		Short: "Measure link round-trip time and throughput over HTTP",
		Long: `linkspeed times a near-empty ping, a blob download and a blob upload
against the public service or a self-hosted linkspeed server.`,
		Example: `  linkspeed measure
  linkspeed measure --server https://speed.example.com --samples 3 --json
  linkspeed serve --port 8080 --data-dir /var/lib/linkspeed
  linkspeed mcp`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		passthrough("serve", "Run the endpoint server measurements are taken against", exit,
			func(args []string) int { return runServer(args, version) }),
		passthrough("measure", "Measure the link to a server", exit,
			func(args []string) int { return runMeasure(args, version) }),
		passthrough("mcp", "Run as an MCP server on stdio, for AI agents", exit,
			func([]string) int { return runMCP(version) }),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "linkspeed %s\n", version)
			},
		},
	)
	return root
}

func run(args []string, version string) int {
	exit := 0
	root := newRootCommand(version, &exit)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "linkspeed: %v\n\n", err)
		_ = root.Usage()
		return 2
	}
	return exit
}

// Command cyclone runs the cyclone server with a small notes API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/searchktools/cyclone/app"
	"github.com/searchktools/cyclone/core"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cyclone:", err)
	}
	return app.ExitCode(err)
}

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cyclone",
		Short:         "Asynchronous HTTP/1.1 server",
		Version:       core.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	cmd.AddCommand(newServeCmd(opts), newConfigCmd(opts))
	return cmd
}

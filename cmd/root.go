package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dDoc/cmd/doc"
	"github.com/ValentinKolb/dDoc/cmd/serve"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/cmd/web"
	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ddoc",
		Short: "cached document store",
		Long: fmt.Sprintf(`dDoc (v%s)

A document store adapter for MongoDB written in Go. Every call goes through a
result cache (in process or redis), collections can be served to remote
clients over http and explored with a small demo web app.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dDoc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dDoc v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(doc.DocumentCommands)
	RootCmd.AddCommand(web.WebCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer of the rpc api ("+strings.Join(serializer.Names(), ", ")+")"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))

	cobra.OnInitialize(initLogging)
}

// initLogging applies --log-level (or DDOC_LOG_LEVEL) to all loggers
func initLogging() {
	if err := logging.InitLoggers(viper.GetString("log-level")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	err := RootCmd.ExecuteContext(context.Background())
	logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// Storytime kiosk: runs one timed conversation against the proxy.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "kiosk",
	Short: "Talk with Sparkle about a storybook picture",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}
		level := slog.LevelWarn
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	RunE: runConversation,
}

func init() {
	viper.SetDefault("server", "http://localhost:3001")
	viper.SetDefault("request-timeout", 20*time.Second)

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:3001", "conversation proxy base URL")
	flags.Duration("request-timeout", 20*time.Second, "timeout for each proxy request")
	flags.String("health-addr", "", "gRPC health address of the proxy, checked before starting")
	flags.Bool("verbose", false, "debug logging on stderr")
	for _, name := range []string{"server", "request-timeout", "health-addr", "verbose"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("kiosk")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd, imagesCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

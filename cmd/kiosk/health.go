package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/storytime/internal/convclient"
	"github.com/ashureev/storytime/internal/probe"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the proxy can reach its provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		client := convclient.New(viper.GetString("server"), viper.GetDuration("request-timeout"))
		h, err := client.Health(ctx)
		if err != nil {
			return err
		}
		if h.Status != "ok" {
			return fmt.Errorf("%s: %s", h.Message, h.Error)
		}
		fmt.Fprintf(out, "%s (%d models available)\n", h.Message, h.ModelsAvailable)

		addr := viper.GetString("health-addr")
		if addr == "" {
			return nil
		}
		hc, err := probe.Dial(addr, 5*time.Second, slog.Default())
		if err != nil {
			return err
		}
		defer hc.Close()

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := hc.Check(checkCtx); err != nil {
			return err
		}
		fmt.Fprintf(out, "gRPC health: %s SERVING\n", probe.ServiceName)
		return nil
	},
}

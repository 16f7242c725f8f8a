package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/mockapi"
)

func newMockCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a local inventory API to test against",
		Long: `Serve GET /api/ListarProductos and GET /api/stores/{id}/inventory with
generated data, optional latency and injected failures.

  invload mock --addr :3000 --latency 20ms --error-rate 0.01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			latency, _ := cmd.Flags().GetDuration("latency")
			errorRate, _ := cmd.Flags().GetFloat64("error-rate")
			products, _ := cmd.Flags().GetInt("products")
			seed, _ := cmd.Flags().GetInt64("seed")

			// The mock logs at info unless a level is given.
			logger := a.logger
			if _, set := os.LookupEnv(config.EnvLogLevel); !set && !cmd.Flags().Changed("log-level") {
				logger = logger.Level(zerolog.InfoLevel)
			}

			server := mockapi.New(mockapi.Options{
				Latency:   latency,
				ErrorRate: errorRate,
				Products:  products,
				Seed:      seed,
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().String("addr", ":3000", "Listen address")
	cmd.Flags().Duration("latency", 0, "Delay added to every response")
	cmd.Flags().Float64("error-rate", 0, "Fraction of requests answered with 500 (0-1)")
	cmd.Flags().Int("products", mockapi.DefaultProducts, "Number of generated products")
	cmd.Flags().Int64("seed", 1, "Seed for failure injection")

	return cmd
}

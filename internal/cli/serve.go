package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	upiswitch "github.com/vitwit/upiswitch"
	"github.com/vitwit/upiswitch/config"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/metrics"
	"github.com/vitwit/upiswitch/server"
	"github.com/vitwit/upiswitch/simulator"
	"github.com/vitwit/upiswitch/types"
)

var serveSimulate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the switch",
	Long: `Run the switch HTTP server.

With --simulate the demo banks, directory and payer PSP run in-process as the
switch's collaborators, and the payer PSP is served on simulator.payer_addr.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "use in-process simulated collaborators")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	opts := []upiswitch.Option{upiswitch.WithLogger(log)}
	srvOpts := []server.Option{server.WithLogger(log), server.WithMaxInFlight(cfg.MaxInFlight)}
	if cfg.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, upiswitch.WithMetrics(metrics.NewPrometheusRecorder(reg)))
		srvOpts = append(srvOpts, server.WithGatherer(reg))
	}

	var network *simulator.Network
	if serveSimulate {
		network, err = buildNetwork(ctx, cfg, log)
		if err != nil {
			return err
		}
		opts = append(opts,
			upiswitch.WithDebitCollaborator(network.Remitter),
			upiswitch.WithCreditCollaborator(network.Beneficiary),
			upiswitch.WithDirectory(network.Directory),
			upiswitch.WithOriginator(network.Payer),
		)
	}

	sw, err := upiswitch.New(&cfg.SwitchConfig, opts...)
	if err != nil {
		return err
	}
	defer sw.Close()
	sw.Start(ctx)

	srv := server.NewServer(sw, srvOpts...)
	g.Go(func() error {
		return srv.Run(ctx, cfg.ListenAddr)
	})

	if network != nil {
		submit := simulator.SubmitFunc(func(ctx context.Context, req *types.PayRequest) error {
			_, err := sw.SubmitPayment(ctx, req, "")
			return err
		})
		g.Go(func() error {
			log.Info("payer psp listening", map[string]any{"addr": cfg.Simulator.PayerAddr})
			return server.ListenAndServe(ctx, cfg.Simulator.PayerAddr, simulator.NewPayerRouter(network.Payer, submit))
		})
	}

	return g.Wait()
}

// buildNetwork creates the simulated collaborators over the configured
// account store.
func buildNetwork(ctx context.Context, cfg *config.Config, log logger.Logger) (*simulator.Network, error) {
	seed := simulator.DefaultSeed()
	if cfg.Simulator.SeedPath != "" {
		var err error
		if seed, err = simulator.LoadSeed(cfg.Simulator.SeedPath); err != nil {
			return nil, err
		}
	}

	if cfg.Simulator.AccountStore != "dynamodb" {
		return simulator.NewNetwork(ctx, seed, simulator.NewMemoryAccountStore(), simulator.NewMemoryAccountStore(), log)
	}

	client, err := simulator.NewDynamoClient(ctx, cfg.Simulator.Dynamo)
	if err != nil {
		return nil, err
	}
	stores := make([]simulator.AccountStore, 0, 2)
	for _, bank := range []string{simulator.RemitterBankCode, simulator.BeneficiaryBankCode} {
		table := cfg.Simulator.Dynamo.Table + "_" + bank
		if err := simulator.CreateAccountTable(ctx, client, table); err != nil {
			return nil, err
		}
		stores = append(stores, simulator.NewDynamoAccountStore(client, table))
	}
	return simulator.NewNetwork(ctx, seed, stores[0], stores[1], log)
}

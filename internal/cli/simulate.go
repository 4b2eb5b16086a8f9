package cli

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/server"
	"github.com/vitwit/upiswitch/simulator"
	"github.com/vitwit/upiswitch/types"
)

var (
	simSwitchURL     string
	simPayerCallback string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the demo banks, directory and payer PSP",
	Long: `Run the simulated collaborators as separate HTTP services:

  remitter bank      simulator.remitter_addr     POST /api/reqpay
  beneficiary bank   simulator.beneficiary_addr  POST /api/reqpay
  payee PSP          simulator.directory_addr    POST /api/reqvaladd
  payer PSP          simulator.payer_addr        POST /api/reqpay, /api/resppay

Point the switch's collaborators at these addresses to run a payment end to end.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simSwitchURL, "switch-url", "http://localhost:5000/api/reqpay", "switch endpoint the payer PSP submits to")
	simulateCmd.Flags().StringVar(&simPayerCallback, "payer-callback", "http://localhost:5004/api/resppay", "where the switch delivers final responses")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	network, err := buildNetwork(ctx, cfg, log)
	if err != nil {
		return err
	}

	var callback clients.Originator
	if cfg.Simulator.Async {
		cb, err := clients.NewHTTPCollaborator(types.RolePayerPSP,
			types.CollaboratorConfig{URL: cfg.Simulator.CallbackURL}, clients.WithLogger(log))
		if err != nil {
			return err
		}
		defer cb.Close()
		callback = cb
	}

	submit, sc, err := simulator.NewSwitchSubmitter(simSwitchURL, simPayerCallback, clients.WithLogger(log))
	if err != nil {
		return err
	}
	defer sc.Close()

	services := []struct {
		name string
		addr string
		h    http.Handler
	}{
		{"remitter bank", cfg.Simulator.RemitterAddr, simulator.NewBankRouter(network.Remitter, callback)},
		{"beneficiary bank", cfg.Simulator.BeneficiaryAddr, simulator.NewBankRouter(network.Beneficiary, callback)},
		{"payee psp", cfg.Simulator.DirectoryAddr, simulator.NewDirectoryRouter(network.Directory)},
		{"payer psp", cfg.Simulator.PayerAddr, simulator.NewPayerRouter(network.Payer, submit)},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			log.Info("simulator listening", map[string]any{"service": svc.name, "addr": svc.addr})
			return server.ListenAndServe(ctx, svc.addr, svc.h)
		})
	}
	return g.Wait()
}

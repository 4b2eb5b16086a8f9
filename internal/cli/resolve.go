package cli

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/simulator"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/utils"
)

var (
	resolveSwitchURL string
	resolveAddr      string
	resolvePayer     string
)

var resolveCmd = &cobra.Command{
	Use:     "resolve",
	Short:   "Look up a payment address through the switch",
	Example: `  upiswitch resolve --addr merchant@payeepsp`,
	RunE:    runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveSwitchURL, "switch", "http://localhost:5000/api/reqvaladd", "switch ReqValAdd endpoint")
	resolveCmd.Flags().StringVar(&resolveAddr, "addr", "", "address to resolve")
	resolveCmd.Flags().StringVar(&resolvePayer, "payer", "", "optional payer address sent along")
	_ = resolveCmd.MarkFlagRequired("addr")
}

func runResolve(cmd *cobra.Command, _ []string) error {
	req, err := buildValAddRequest(resolveAddr, resolvePayer)
	if err != nil {
		return err
	}

	c, err := clients.NewHTTPCollaborator(types.RolePayeePSP, types.CollaboratorConfig{URL: resolveSwitchURL})
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Resolve(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp.Resp)
}

func buildValAddRequest(addr, payer string) (*types.ValAddRequest, error) {
	if err := utils.ValidateAddress(addr); err != nil {
		return nil, err
	}
	req := &types.ValAddRequest{
		Head:  types.NewHead(simulator.PayerPSPOrgID, utils.NewMsgID("VAL"), "", ""),
		Txn:   types.Txn{ID: utils.NewTxnID(), Type: types.TxnValAdd, Ts: types.Timestamp(time.Now())},
		Payee: types.Party{Addr: addr},
	}
	if payer != "" {
		if err := utils.ValidateAddress(payer); err != nil {
			return nil, err
		}
		req.Payer = &types.Party{Addr: payer}
	}
	return req, nil
}

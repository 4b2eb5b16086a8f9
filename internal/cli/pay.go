package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitwit/upiswitch/simulator"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/utils"
	"github.com/vitwit/upiswitch/validation"
)

type payFlags struct {
	switchURL string
	from      string
	to        string
	amount    string
	pin       string
	payeeCode string
	purpose   string
	replyTo   string
	note      string
}

var pay payFlags

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Submit a payment to the switch",
	Long: `Build a ReqPay from the flags and submit it to the switch as the payer PSP.

The switch acknowledges the payment; the final RespPay is delivered to
--reply-to, or to the configured payer PSP when it is empty.`,
	Example: `  upiswitch pay --from abhishek@paytm --to aman@phonepe --amount 100 --pin 1234`,
	RunE:    runPay,
}

func init() {
	f := payCmd.Flags()
	f.StringVar(&pay.switchURL, "switch", "http://localhost:5000/api/reqpay", "switch ReqPay endpoint")
	f.StringVar(&pay.from, "from", "", "payer address")
	f.StringVar(&pay.to, "to", "", "payee address")
	f.StringVar(&pay.amount, "amount", "", "amount in rupees, at most two decimals")
	f.StringVar(&pay.pin, "pin", "", "payer UPI PIN")
	f.StringVar(&pay.payeeCode, "payee-code", "0000", "payee merchant category code")
	f.StringVar(&pay.purpose, "purpose", "", "purpose code")
	f.StringVar(&pay.replyTo, "reply-to", "", "URL the final response is delivered to")
	f.StringVar(&pay.note, "note", "", "transaction note")
	_ = payCmd.MarkFlagRequired("from")
	_ = payCmd.MarkFlagRequired("to")
	_ = payCmd.MarkFlagRequired("amount")
}

func runPay(cmd *cobra.Command, _ []string) error {
	req, err := buildPayRequest(pay)
	if err != nil {
		return err
	}

	submit, c, err := simulator.NewSwitchSubmitter(pay.switchURL, pay.replyTo)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := submit.Submit(cmd.Context(), req); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "accepted msgId=%s txnId=%s\n", req.Head.MsgID, req.Txn.ID)
	return nil
}

// buildPayRequest turns the pay flags into a schema-valid ReqPay.
func buildPayRequest(f payFlags) (*types.PayRequest, error) {
	for _, addr := range []string{f.from, f.to} {
		if err := utils.ValidateAddress(addr); err != nil {
			return nil, err
		}
	}
	amount, err := utils.ValidateAmount(f.amount)
	if err != nil {
		return nil, err
	}

	payer := types.Party{
		Addr:   f.from,
		Type:   "PERSON",
		Amount: &types.Amount{Value: amount, Curr: types.DefaultCurrency},
	}
	if f.pin != "" {
		if err := utils.ValidatePIN(f.pin); err != nil {
			return nil, err
		}
		payer.Creds = &types.Creds{Cred: []types.Cred{{Type: "PIN", SubType: "MPIN", Data: f.pin}}}
	}

	req := &types.PayRequest{
		Head: types.NewHead(simulator.PayerPSPOrgID, utils.NewMsgID("PAY"), "", ""),
		Txn: types.Txn{
			ID:      utils.NewTxnID(),
			Type:    types.TxnPay,
			Purpose: f.purpose,
			Note:    f.note,
			Ts:      types.Timestamp(time.Now()),
		},
		Payer: payer,
		Payees: types.Payees{Payee: []types.Party{{
			Addr:   f.to,
			Code:   f.payeeCode,
			Amount: &types.Amount{Value: amount, Curr: types.DefaultCurrency},
		}}},
	}

	if err := validation.ValidateMessage(req).Err(); err != nil {
		return nil, err
	}
	return req, nil
}

package simulator

import (
	"context"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/types"
)

// ReplyToHeader carries the address the switch delivers the final response to.
const ReplyToHeader = "X-Reply-To"

// NewSwitchSubmitter forwards payments to the switch's /api/reqpay endpoint
// and asks for the final response at replyTo. The switch answers a ReqPay the
// way a bank answers a leg: 202 when accepted, a JSON rejection otherwise.
func NewSwitchSubmitter(url, replyTo string, opts ...clients.HTTPOption) (Submitter, *clients.HTTPCollaborator, error) {
	cfg := types.CollaboratorConfig{URL: url}
	if replyTo != "" {
		cfg.Headers = map[string]string{ReplyToHeader: replyTo}
	}
	c, err := clients.NewHTTPCollaborator(types.RolePayerPSP, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	submit := SubmitFunc(func(ctx context.Context, req *types.PayRequest) error {
		resp, err := c.Debit(ctx, req)
		if err != nil {
			return err
		}
		if resp != nil && !resp.Succeeded() {
			return types.NewError(resp.Resp.ErrCode, "rejected by the switch")
		}
		return nil
	})
	return submit, c, nil
}

package clients

import (
	"fmt"

	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/utils"
)

// Unreachable reports a collaborator that could not be reached, timed out or
// failed on its side.
func Unreachable(role types.CollaboratorRole, err error) *types.SwitchError {
	return types.WrapError(types.ErrUpstreamUnreachable, fmt.Sprintf("%s unreachable", role), err)
}

// IsUnreachable reports whether err is an unreachable collaborator.
func IsUnreachable(err error) bool {
	return types.IsCode(err, types.ErrUpstreamUnreachable)
}

// ProtocolError reports a collaborator answer that breaks the message contract.
func ProtocolError(role types.CollaboratorRole, msg string, err error) *types.SwitchError {
	return types.WrapError(types.ErrProtocolError, fmt.Sprintf("%s: %s", role, msg), err)
}

// FailureResponse builds the RespPay a collaborator would have sent when it
// declines req with code.
func FailureResponse(orgID string, req *types.PayRequest, code string) *types.PayResponse {
	txn := req.Txn
	txn.Tagged = nil
	return &types.PayResponse{
		Head: types.NewHead(orgID, utils.NewMsgID("RESP"), req.Head.Ver, req.Head.ProdType),
		Txn:  txn,
		Resp: types.Resp{
			ReqMsgID: req.Head.MsgID,
			Result:   types.ResultFailure,
			ErrCode:  code,
		},
	}
}

// ValAddFailure builds a FAILURE RespValAdd for req.
func ValAddFailure(orgID string, req *types.ValAddRequest, code, msg string) *types.ValAddResponse {
	txn := req.Txn
	txn.Tagged = nil
	return &types.ValAddResponse{
		Head: types.NewHead(orgID, utils.NewMsgID("RESP"), req.Head.Ver, req.Head.ProdType),
		Txn:  txn,
		Resp: types.ValAddResp{
			ReqMsgID: req.Head.MsgID,
			Result:   types.ResultFailure,
			ErrCode:  code,
			FailMsg:  msg,
		},
	}
}

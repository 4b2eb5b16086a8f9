package simulator

import (
	"context"
	"sync"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/utils"
)

// MerchantProfile is the merchant identity of an address.
type MerchantProfile struct {
	MID       string `yaml:"mid"`
	SID       string `yaml:"sid"`
	TID       string `yaml:"tid"`
	Type      string `yaml:"type"`
	Genre     string `yaml:"genre"`
	PinCode   string `yaml:"pin_code"`
	Brand     string `yaml:"brand"`
	Legal     string `yaml:"legal"`
	Franchise string `yaml:"franchise"`
	Ownership string `yaml:"ownership"`
}

func (m *MerchantProfile) toMerchant() *types.Merchant {
	if m == nil {
		return nil
	}
	out := &types.Merchant{
		Identifier: &types.MerchantIdentifier{
			MID:           m.MID,
			SID:           m.SID,
			TID:           m.TID,
			MerchantType:  m.Type,
			MerchantGenre: m.Genre,
			PinCode:       m.PinCode,
		},
		Name: &types.MerchantName{Brand: m.Brand, Legal: m.Legal, Franchise: m.Franchise},
	}
	if m.Ownership != "" {
		out.Ownership = &types.MerchantOwnership{Type: m.Ownership}
	}
	return out
}

// Profile is what the payee PSP knows about one of its addresses.
type Profile struct {
	Addr     string           `yaml:"addr"`
	Name     string           `yaml:"name"`
	MaskName string           `yaml:"mask_name"`
	Code     string           `yaml:"code"`
	Type     string           `yaml:"type"`
	IFSC     string           `yaml:"ifsc"`
	AccType  string           `yaml:"acc_type"`
	IIN      string           `yaml:"iin"`
	PType    string           `yaml:"p_type"`
	Feature  string           `yaml:"feature_supported"`
	Merchant *MerchantProfile `yaml:"merchant"`
}

func (p Profile) maskedName() string {
	if p.MaskName != "" {
		return p.MaskName
	}
	return utils.MaskName(p.Name)
}

// Directory answers address validation for the payee PSP.
type Directory struct {
	orgID   string
	blocked map[string]bool
	logger  logger.Logger

	mu       sync.RWMutex
	profiles map[string]Profile
}

var _ clients.AddressDirectory = (*Directory)(nil)

func NewDirectory(profiles []Profile, opts ...Option) *Directory {
	s := newSettings(PayeePSPOrgID, opts)
	d := &Directory{
		orgID:    s.orgID,
		blocked:  s.blocked,
		logger:   s.logger,
		profiles: make(map[string]Profile, len(profiles)),
	}
	for _, p := range profiles {
		d.profiles[p.Addr] = p
	}
	return d
}

// Add registers or replaces a profile.
func (d *Directory) Add(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.Addr] = p
}

func (d *Directory) Resolve(_ context.Context, req *types.ValAddRequest) (*types.ValAddResponse, error) {
	d.mu.RLock()
	p, ok := d.profiles[req.Payee.Addr]
	d.mu.RUnlock()

	fields := map[string]any{"msg_id": req.Head.MsgID, "txn_id": req.Txn.ID, "addr": req.Payee.Addr}
	switch {
	case !ok:
		d.logger.Info("address not found", fields)
		return d.failure(req, types.ErrAddressNotFound, "address not found"), nil
	case d.blocked[req.Payee.Code] || d.blocked[p.Code]:
		d.logger.Info("address blocked", fields)
		return d.failure(req, types.ErrCodeBlocked, "Code Blocked for Demo"), nil
	}

	d.logger.Info("address resolved", fields)
	txn := req.Txn
	txn.Tagged = nil
	resp := &types.ValAddResponse{
		Head: types.NewHead(d.orgID, responseMsgID(req.Head.MsgID), req.Head.Ver, req.Head.ProdType),
		Txn:  txn,
		Resp: types.ValAddResp{
			ReqMsgID: req.Head.MsgID,
			Result:   types.ResultSuccess,
			MaskName: p.maskedName(),
			Code:     p.Code,
			Type:     p.Type,
			IFSC:     p.IFSC,
			AccType:  p.AccType,
			IIN:      p.IIN,
			PType:    p.PType,
			Merchant: p.Merchant.toMerchant(),
		},
	}
	if p.Feature != "" {
		resp.Resp.FeatureSupported = &types.Feature{Value: p.Feature}
	}
	return resp, nil
}

func (d *Directory) failure(req *types.ValAddRequest, code, msg string) *types.ValAddResponse {
	resp := clients.ValAddFailure(d.orgID, req, code, msg)
	resp.Head.MsgID = responseMsgID(req.Head.MsgID)
	return resp
}

func responseMsgID(reqMsgID string) string {
	return "resp-" + reqMsgID
}

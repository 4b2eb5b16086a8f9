package types

import (
	"time"
)

// Namespace is the XML namespace every UPI message is qualified with.
const Namespace = "http://npci.org/upi/schema/"

// Protocol defaults applied when an inbound Head leaves them blank.
const (
	DefaultVersion  = "2.0"
	DefaultProdType = "UPI"
	DefaultCurrency = "INR"
)

// TimestampLayout is the layout of Head.ts and Txn.ts.
const TimestampLayout = "2006-01-02T15:04:05Z"

// MessageType names one of the four message contracts the switch understands.
type MessageType string

const (
	MessageReqPay     MessageType = "ReqPay"
	MessageRespPay    MessageType = "RespPay"
	MessageReqValAdd  MessageType = "ReqValAdd"
	MessageRespValAdd MessageType = "RespValAdd"
)

// AllMessageTypes lists the contracts in a stable order.
var AllMessageTypes = []MessageType{MessageReqPay, MessageRespPay, MessageReqValAdd, MessageRespValAdd}

func (m MessageType) String() string {
	return string(m)
}

// IsKnown reports whether m is one of the four contracts.
func (m MessageType) IsKnown() bool {
	switch m {
	case MessageReqPay, MessageRespPay, MessageReqValAdd, MessageRespValAdd:
		return true
	}
	return false
}

// TxnType is the Txn.type tag. A payment is re-typed for each leg while its
// Txn.id stays the same.
type TxnType string

const (
	// TxnPay marks the INITIATE request from the originator and the final
	// response sent back to it.
	TxnPay    TxnType = "PAY"
	TxnDebit  TxnType = "DEBIT"
	TxnCredit TxnType = "CREDIT"
	TxnValAdd TxnType = "VALADD"
)

func (t TxnType) String() string {
	return string(t)
}

// ResultCode is Resp.result.
type ResultCode string

const (
	ResultSuccess ResultCode = "SUCCESS"
	ResultFailure ResultCode = "FAILURE"
)

func (r ResultCode) String() string {
	return string(r)
}

// Message is implemented by the four wire messages.
type Message interface {
	MessageType() MessageType
	Header() *Head
	Transaction() *Txn
}

// Head is the envelope shared by every message.
type Head struct {
	Ver      string `xml:"ver,attr" validate:"required"`
	Ts       string `xml:"ts,attr" validate:"required"`
	OrgID    string `xml:"orgId,attr" validate:"required"`
	MsgID    string `xml:"msgId,attr" validate:"required"`
	ProdType string `xml:"prodType,attr" validate:"required"`
}

// Purpose is the optional <Purpose code=".."/> child of Txn.
type Purpose struct {
	Code string `xml:"code,attr" validate:"required"`
}

// Txn identifies one payment attempt. ID is stable across legs.
type Txn struct {
	ID      string   `xml:"id,attr" validate:"required"`
	Type    TxnType  `xml:"type,attr" validate:"required"`
	Purpose string   `xml:"purpose,attr,omitempty"`
	Note    string   `xml:"note,attr,omitempty"`
	Ts      string   `xml:"ts,attr,omitempty"`
	CustRef string   `xml:"custRef,attr,omitempty"`
	RefID   string   `xml:"refId,attr,omitempty"`
	RefURL  string   `xml:"refUrl,attr,omitempty"`
	Tagged  *Purpose `xml:"Purpose,omitempty"`
}

// PurposeCode returns the purpose attribute, falling back to the Purpose child.
func (t *Txn) PurposeCode() string {
	if t.Purpose != "" {
		return t.Purpose
	}
	if t.Tagged != nil {
		return t.Tagged.Code
	}
	return ""
}

// Amount is the money attached to a party's leg.
type Amount struct {
	Value Money  `xml:"value,attr" validate:"money"`
	Curr  string `xml:"curr,attr" validate:"required,len=3"`
}

// Cred is a single credential (PIN, OTP, ...) of the payer.
type Cred struct {
	Type    string `xml:"type,attr" validate:"required"`
	SubType string `xml:"subType,attr,omitempty"`
	Data    string `xml:"Data" validate:"required"`
}

// Creds is the payer credential block. It is only meaningful on the
// initiating request and is never forwarded into leg messages.
type Creds struct {
	Cred []Cred `xml:"Cred" validate:"min=1,dive"`
}

// Party is a payer or payee.
type Party struct {
	Addr   string  `xml:"addr,attr" validate:"required"`
	Name   string  `xml:"name,attr,omitempty"`
	SeqNum string  `xml:"seqNum,attr,omitempty" validate:"omitempty,numeric"`
	Type   string  `xml:"type,attr,omitempty" validate:"omitempty,oneof=PERSON ENTITY"`
	Code   string  `xml:"code,attr,omitempty"`
	Creds  *Creds  `xml:"Creds,omitempty"`
	Amount *Amount `xml:"Amount,omitempty"`
}

// WithoutCreds returns a copy of p with the credential block removed.
func (p Party) WithoutCreds() Party {
	p.Creds = nil
	if p.Amount != nil {
		amt := *p.Amount
		p.Amount = &amt
	}
	return p
}

// Payees is the 1..n payee list of a ReqPay.
type Payees struct {
	Payee []Party `xml:"Payee" validate:"dive"`
}

// PayRequest is ReqPay: envelope, transaction, one payer and one or more payees.
type PayRequest struct {
	Head   Head   `xml:"Head"`
	Txn    Txn    `xml:"Txn"`
	Payer  Party  `xml:"Payer"`
	Payees Payees `xml:"Payees"`
}

func (r *PayRequest) MessageType() MessageType { return MessageReqPay }
func (r *PayRequest) Header() *Head            { return &r.Head }
func (r *PayRequest) Transaction() *Txn        { return &r.Txn }

// FirstPayee returns the primary payee, or nil when the list is empty.
func (r *PayRequest) FirstPayee() *Party {
	if len(r.Payees.Payee) == 0 {
		return nil
	}
	return &r.Payees.Payee[0]
}

// PayerAmount returns the amount attached to the payer, or nil.
func (r *PayRequest) PayerAmount() *Amount {
	return r.Payer.Amount
}

// Ref carries post-transaction balance and settlement details.
type Ref struct {
	Type         string `xml:"type,attr,omitempty"`
	SeqNum       string `xml:"seqNum,attr,omitempty"`
	Addr         string `xml:"addr,attr,omitempty"`
	RegName      string `xml:"regName,attr,omitempty"`
	SettAmount   *Money `xml:"settAmount,attr,omitempty" validate:"omitempty,money"`
	OrgAmount    *Money `xml:"orgAmount,attr,omitempty" validate:"omitempty,money"`
	SettCurrency string `xml:"settCurrency,attr,omitempty"`
	BalAmt       *Money `xml:"balAmt,attr,omitempty"`
	ApprovalNum  string `xml:"approvalNum,attr,omitempty"`
	RespCode     string `xml:"respCode,attr,omitempty"`
}

// Resp is the result block of a RespPay.
type Resp struct {
	ReqMsgID string     `xml:"reqMsgId,attr,omitempty"`
	Result   ResultCode `xml:"result,attr" validate:"required,oneof=SUCCESS FAILURE"`
	ErrCode  string     `xml:"errCode,attr,omitempty"`
	Refs     []Ref      `xml:"Ref" validate:"dive"`
}

// PayResponse is RespPay.
type PayResponse struct {
	Head Head `xml:"Head"`
	Txn  Txn  `xml:"Txn"`
	Resp Resp `xml:"Resp"`
}

func (r *PayResponse) MessageType() MessageType { return MessageRespPay }
func (r *PayResponse) Header() *Head            { return &r.Head }
func (r *PayResponse) Transaction() *Txn        { return &r.Txn }

// Succeeded reports whether the response carries result=SUCCESS.
func (r *PayResponse) Succeeded() bool {
	return r.Resp.Result == ResultSuccess
}

// ValAddRequest is ReqValAdd: the payee is required, the payer optional.
type ValAddRequest struct {
	Head  Head   `xml:"Head"`
	Txn   Txn    `xml:"Txn"`
	Payer *Party `xml:"Payer,omitempty"`
	Payee Party  `xml:"Payee"`
}

func (r *ValAddRequest) MessageType() MessageType { return MessageReqValAdd }
func (r *ValAddRequest) Header() *Head            { return &r.Head }
func (r *ValAddRequest) Transaction() *Txn        { return &r.Txn }

// MerchantIdentifier is the Merchant/Identifier element.
type MerchantIdentifier struct {
	MID            string `xml:"mid,attr,omitempty"`
	SID            string `xml:"sid,attr,omitempty"`
	TID            string `xml:"tid,attr,omitempty"`
	MerchantType   string `xml:"merchantType,attr,omitempty"`
	MerchantGenre  string `xml:"merchantGenre,attr,omitempty"`
	PinCode        string `xml:"pinCode,attr,omitempty"`
	RegIDNo        string `xml:"regIdNo,attr,omitempty"`
	Tier           string `xml:"tier,attr,omitempty"`
	OnBoardingType string `xml:"onBoardingType,attr,omitempty"`
}

// MerchantName is the Merchant/Name element.
type MerchantName struct {
	Brand     string `xml:"brand,attr,omitempty"`
	Legal     string `xml:"legal,attr,omitempty"`
	Franchise string `xml:"franchise,attr,omitempty"`
}

// MerchantOwnership is the Merchant/Ownership element.
type MerchantOwnership struct {
	Type string `xml:"type,attr,omitempty"`
}

// Merchant is the optional merchant identity block of a RespValAdd.
type Merchant struct {
	Identifier *MerchantIdentifier `xml:"Identifier,omitempty"`
	Name       *MerchantName       `xml:"Name,omitempty"`
	Ownership  *MerchantOwnership  `xml:"Ownership,omitempty"`
}

// Feature is the FeatureSupported element.
type Feature struct {
	Value string `xml:"value,attr"`
}

// ValAddResp is the result block of a RespValAdd.
type ValAddResp struct {
	ReqMsgID         string     `xml:"reqMsgId,attr,omitempty"`
	Result           ResultCode `xml:"result,attr" validate:"required,oneof=SUCCESS FAILURE"`
	ErrCode          string     `xml:"errCode,attr,omitempty"`
	FailMsg          string     `xml:"failMsg,attr,omitempty"`
	MaskName         string     `xml:"maskName,attr,omitempty"`
	Code             string     `xml:"code,attr,omitempty"`
	Type             string     `xml:"type,attr,omitempty"`
	IFSC             string     `xml:"IFSC,attr,omitempty"`
	AccType          string     `xml:"accType,attr,omitempty"`
	IIN              string     `xml:"IIN,attr,omitempty"`
	PType            string     `xml:"pType,attr,omitempty"`
	Merchant         *Merchant  `xml:"Merchant,omitempty"`
	FeatureSupported *Feature   `xml:"FeatureSupported,omitempty"`
}

// ValAddResponse is RespValAdd.
type ValAddResponse struct {
	Head Head       `xml:"Head"`
	Txn  Txn        `xml:"Txn"`
	Resp ValAddResp `xml:"Resp"`
}

func (r *ValAddResponse) MessageType() MessageType { return MessageRespValAdd }
func (r *ValAddResponse) Header() *Head            { return &r.Head }
func (r *ValAddResponse) Transaction() *Txn        { return &r.Txn }

// NewHead builds an envelope stamped with the current UTC time.
func NewHead(orgID, msgID, ver, prodType string) Head {
	if ver == "" {
		ver = DefaultVersion
	}
	if prodType == "" {
		prodType = DefaultProdType
	}
	return Head{
		Ver:      ver,
		Ts:       Timestamp(time.Now()),
		OrgID:    orgID,
		MsgID:    msgID,
		ProdType: prodType,
	}
}

// Timestamp formats t the way Head.ts is written on the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/codec"
	"github.com/vitwit/upiswitch/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func post(t *testing.T, h http.Handler, path string, msg types.Message) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(codec.MustEncode(msg)))
	req.Header.Set("Content-Type", contentTypeXML)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type recordingOriginator struct {
	mu        sync.Mutex
	delivered []*types.PayResponse
}

func (r *recordingOriginator) Deliver(_ context.Context, _ string, resp *types.PayResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, resp)
	return nil
}

func (r *recordingOriginator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

func TestBankRouterSynchronous(t *testing.T) {
	h := NewBankRouter(remitter(t), nil)

	w := post(t, h, "/api/reqpay", legRequest("pay-1", types.TxnDebit, "100.00"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "xml")

	resp, err := codec.DecodePayResponse(w.Body.Bytes())
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, "900.00", resp.Resp.Refs[0].BalAmt.String())
}

func TestBankRouterDeclineIsJSON(t *testing.T) {
	h := NewBankRouter(remitter(t), nil)

	w := post(t, h, "/api/reqpay", legRequest("pay-1", types.TxnDebit, "5000.00"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.ErrInsufficientBalance, body["error"])
	assert.Equal(t, "rejected", body["status"])
}

func TestBankRouterAsynchronous(t *testing.T) {
	cb := &recordingOriginator{}
	h := NewBankRouter(beneficiary(t), cb)

	w := post(t, h, "/api/reqpay", legRequest("cr-1", types.TxnCredit, "10.00"))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())

	assert.Eventually(t, func() bool { return cb.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "cr-1", cb.delivered[0].Resp.ReqMsgID)
}

func TestBankRouterIgnoresUnexpectedLeg(t *testing.T) {
	h := NewBankRouter(beneficiary(t), nil)

	w := post(t, h, "/api/reqpay", legRequest("d-1", types.TxnDebit, "10.00"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
}

func TestBankRouterRoutesReversal(t *testing.T) {
	bank := remitter(t)
	h := NewBankRouter(bank, nil)
	req := legRequest("rev-1", types.TxnCredit, "3.00")
	req.Payees.Payee = []types.Party{{Addr: "a@x"}}

	w := post(t, h, "/api/reqpay", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1003.00", balance(t, bank, "a@x"))

	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/accounts/a@x", nil))
	require.Equal(t, http.StatusOK, get.Code)
	assert.Contains(t, get.Body.String(), `"balance":"1003.00"`)

	missing := httptest.NewRecorder()
	h.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/api/accounts/z@x", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestBankRouterRejectsBadInput(t *testing.T) {
	h := NewBankRouter(remitter(t), nil)

	empty := httptest.NewRecorder()
	h.ServeHTTP(empty, httptest.NewRequest(http.MethodPost, "/api/reqpay", nil))
	assert.Equal(t, http.StatusBadRequest, empty.Code)

	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, httptest.NewRequest(http.MethodPost, "/api/reqpay", bytes.NewReader([]byte("<ReqPay"))))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Contains(t, bad.Body.String(), types.ErrMalformedMessage)
}

// The HTTP collaborator of the switch turns both answer styles of the bank
// router into the same RespPay.
func TestBankRouterWithHTTPCollaborator(t *testing.T) {
	srv := httptest.NewServer(NewBankRouter(remitter(t), nil))
	defer srv.Close()

	c, err := clients.NewHTTPCollaborator(types.RoleRemitterBank, types.CollaboratorConfig{URL: srv.URL + "/api/reqpay"})
	require.NoError(t, err)

	ok, err := c.Debit(context.Background(), legRequest("pay-1", types.TxnDebit, "100.00"))
	require.NoError(t, err)
	assert.True(t, ok.Succeeded())

	declined, err := c.Debit(context.Background(), legRequest("pay-2", types.TxnDebit, "0.10"))
	require.NoError(t, err)
	assert.Equal(t, types.ErrMinAmountViolation, declined.Resp.ErrCode)
	assert.Equal(t, "pay-2", declined.Resp.ReqMsgID)
}

func TestDirectoryRouter(t *testing.T) {
	srv := httptest.NewServer(NewDirectoryRouter(NewDirectory(DefaultSeed().Profiles)))
	defer srv.Close()

	c, err := clients.NewHTTPCollaborator(types.RolePayeePSP, types.CollaboratorConfig{URL: srv.URL + "/api/reqvaladd"})
	require.NoError(t, err)

	resp, err := c.Resolve(context.Background(), valAdd("aman@phonepe", ""))
	require.NoError(t, err)
	assert.Equal(t, types.ResultSuccess, resp.Resp.Result)
	assert.Equal(t, "Aman", resp.Resp.MaskName)

	resp, err = c.Resolve(context.Background(), valAdd("ghost@phonepe", ""))
	require.NoError(t, err)
	assert.Equal(t, types.ErrAddressNotFound, resp.Resp.ErrCode)
}

func TestPayerRouter(t *testing.T) {
	p := NewPayerPSP([]User{{Addr: "a@x", PIN: "4321"}})
	var forwarded []string
	h := NewPayerRouter(p, SubmitFunc(func(_ context.Context, req *types.PayRequest) error {
		forwarded = append(forwarded, req.Head.MsgID)
		return nil
	}))

	w := post(t, h, "/api/reqpay", customerPayment("pay-1", "4321"))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"pay-1"}, forwarded)

	w = post(t, h, "/api/reqpay", customerPayment("pay-2", ""))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), types.ErrMissingPIN)

	pending := httptest.NewRecorder()
	h.ServeHTTP(pending, httptest.NewRequest(http.MethodGet, "/api/result/pay-1", nil))
	assert.Equal(t, http.StatusNotFound, pending.Code)

	final := &types.PayResponse{
		Head: types.NewHead("NPCI", "RESPpay-1", "", ""),
		Txn:  types.Txn{ID: "txn-pay-1", Type: types.TxnPay},
		Resp: types.Resp{ReqMsgID: "pay-1", Result: types.ResultFailure, ErrCode: types.ErrPayeeNotFound},
	}
	w = post(t, h, "/api/resppay", final)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received","result":"FAILURE"}`, w.Body.String())

	done := httptest.NewRecorder()
	h.ServeHTTP(done, httptest.NewRequest(http.MethodGet, "/api/result/pay-1", nil))
	require.Equal(t, http.StatusOK, done.Code)
	assert.Contains(t, done.Body.String(), types.ErrPayeeNotFound)
}

func TestSwitchSubmitter(t *testing.T) {
	var replyTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		replyTo = r.Header.Get(ReplyToHeader)
		if r.URL.Query().Get("reject") != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"DUPLICATE_MESSAGE"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	submit, c, err := NewSwitchSubmitter(srv.URL+"/api/reqpay", "http://psp/api/resppay")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, submit.Submit(context.Background(), customerPayment("pay-1", "4321")))
	assert.Equal(t, "http://psp/api/resppay", replyTo)

	reject, _, err := NewSwitchSubmitter(srv.URL+"/api/reqpay?reject=1", "")
	require.NoError(t, err)
	err = reject.Submit(context.Background(), customerPayment("pay-1", "4321"))
	assert.True(t, types.IsCode(err, types.ErrDuplicateMessage))
}

package simulator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitwit/upiswitch/clients"
	"github.com/vitwit/upiswitch/codec"
	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/validation"
)

const (
	contentTypeXML = "application/xml"
	maxBodySize    = 1 << 20
)

func newEngine(l logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("http request", map[string]any{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing body", "status": "rejected"})
		return nil, false
	}
	return body, true
}

func reject(c *gin.Context, err error) {
	code := types.ErrInternal
	if se, ok := types.AsSwitchError(err); ok {
		code = se.Code
	} else if codec.IsDecodeError(err) {
		code = types.ErrMalformedMessage
	}
	status := http.StatusBadRequest
	if types.CategoryOf(err) == types.CategoryUpstream {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error(), "status": "rejected"})
}

// NewBankRouter serves bank at POST /api/reqpay. Without a callback the
// RespPay is returned in the HTTP response. With one, accepted legs are
// answered 202 and the RespPay is delivered to the callback afterwards.
// Declines are always answered 400 with the error code.
func NewBankRouter(bank *Bank, callback clients.Originator) *gin.Engine {
	r := newEngine(bank.logger)

	r.POST("/api/reqpay", func(c *gin.Context) {
		body, ok := readBody(c)
		if !ok {
			return
		}
		if res := validation.ValidateDocument(types.MessageReqPay, body); !res.Valid {
			reject(c, res.Err())
			return
		}
		req, err := codec.DecodePayRequest(body)
		if err != nil {
			reject(c, err)
			return
		}

		resp, err := bank.settle(c.Request.Context(), req)
		switch {
		case types.IsCode(err, types.ErrUnsupportedMessage):
			c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
			return
		case err != nil:
			reject(c, err)
			return
		case !resp.Succeeded():
			c.JSON(http.StatusBadRequest, gin.H{"error": resp.Resp.ErrCode, "status": "rejected"})
			return
		}

		if callback == nil {
			writeXML(c, http.StatusOK, resp)
			return
		}
		go func(ctx context.Context) {
			if err := callback.Deliver(ctx, "", resp); err != nil {
				bank.logger.Warn("callback delivery failed", map[string]any{
					"msg_id": resp.Resp.ReqMsgID,
					"txn_id": resp.Txn.ID,
					"error":  err.Error(),
				})
			}
		}(context.WithoutCancel(c.Request.Context()))
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	})

	r.GET("/api/accounts/:addr", func(c *gin.Context) {
		acc, err := bank.accounts.Get(c.Request.Context(), c.Param("addr"))
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, acc)
	})
	return r
}

// settle routes a leg by its type. A CREDIT reaching the remitter bank is a
// reversal.
func (b *Bank) settle(ctx context.Context, req *types.PayRequest) (*types.PayResponse, error) {
	switch {
	case req.Txn.Type == types.TxnDebit && b.role == types.RoleRemitterBank:
		return b.Debit(ctx, req)
	case req.Txn.Type == types.TxnCredit && b.role == types.RoleRemitterBank:
		return b.Reverse(ctx, req)
	case req.Txn.Type == types.TxnCredit:
		return b.Credit(ctx, req)
	default:
		return nil, types.NewError(types.ErrUnsupportedMessage, "unexpected "+string(req.Txn.Type)+" leg for "+string(b.role))
	}
}

// NewDirectoryRouter serves address validation at POST /api/reqvaladd.
func NewDirectoryRouter(d *Directory) *gin.Engine {
	r := newEngine(d.logger)

	r.POST("/api/reqvaladd", func(c *gin.Context) {
		body, ok := readBody(c)
		if !ok {
			return
		}
		if res := validation.ValidateDocument(types.MessageReqValAdd, body); !res.Valid {
			reject(c, res.Err())
			return
		}
		req, err := codec.DecodeValAddRequest(body)
		if err != nil {
			reject(c, err)
			return
		}
		resp, err := d.Resolve(c.Request.Context(), req)
		if err != nil {
			reject(c, err)
			return
		}
		writeXML(c, http.StatusOK, resp)
	})
	return r
}

// NewPayerRouter serves the payer PSP. POST /api/reqpay authorizes and
// forwards a customer payment, POST /api/resppay receives final responses.
func NewPayerRouter(p *PayerPSP, sw Submitter) *gin.Engine {
	r := newEngine(p.logger)

	r.POST("/api/reqpay", func(c *gin.Context) {
		body, ok := readBody(c)
		if !ok {
			return
		}
		req, err := codec.DecodePayRequest(body)
		if err != nil {
			reject(c, err)
			return
		}
		if err := p.Pay(c.Request.Context(), req, sw); err != nil {
			reject(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "msgId": req.Head.MsgID, "txnId": req.Txn.ID})
	})

	r.POST("/api/resppay", func(c *gin.Context) {
		body, ok := readBody(c)
		if !ok {
			return
		}
		resp, err := codec.DecodePayResponse(body)
		if err != nil {
			reject(c, err)
			return
		}
		_ = p.Deliver(c.Request.Context(), "", resp)
		c.JSON(http.StatusOK, gin.H{"status": "received", "result": resp.Resp.Result})
	})

	r.GET("/api/result/:msgId", func(c *gin.Context) {
		resp, ok := p.Result(c.Param("msgId"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"status": "pending"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "done",
			"result":  resp.Resp.Result,
			"errCode": resp.Resp.ErrCode,
			"txnId":   resp.Txn.ID,
		})
	})
	return r
}

func writeXML(c *gin.Context, status int, msg types.Message) {
	data, err := codec.Encode(msg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": types.ErrInternal, "message": err.Error()})
		return
	}
	c.Data(status, contentTypeXML, data)
}

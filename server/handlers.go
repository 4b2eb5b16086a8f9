package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vitwit/upiswitch/types"
	"github.com/vitwit/upiswitch/utils"
)

const bodyKey = "xml_body"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// limit rejects the request when the in-flight bound is reached.
func (s *Server) limit(c *gin.Context) {
	if !s.inFlight.TryAcquire(1) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, utils.ErrorBody{
			Error:   "BUSY",
			Message: "too many requests in flight",
		})
		return
	}
	defer s.inFlight.Release(1)
	c.Next()
}

// xmlBody enforces an XML content type and a non-empty body.
func (s *Server) xmlBody(c *gin.Context) {
	ct := c.ContentType()
	if !strings.Contains(ct, "xml") && ct != "application/octet-stream" {
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, utils.ErrorBody{
			Error:   types.ErrUnsupportedMessage,
			Message: "Content-Type must be application/xml or text/xml",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, utils.ErrorBody{Error: types.ErrMalformedMessage, Message: "body too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, utils.ErrorBody{Error: types.ErrMalformedMessage, Message: err.Error()})
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, utils.ErrorBody{Error: types.ErrMalformedMessage, Message: "missing body"})
		return
	}
	c.Set(bodyKey, body)
	c.Next()
}

func (s *Server) handleReqPay(c *gin.Context) {
	ack, err := s.backend.SubmitPaymentXML(c.Request.Context(), c.MustGet(bodyKey).([]byte), c.GetHeader(ReplyToHeader))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
		"msgId":  ack.MsgID,
		"txnId":  ack.TxnID,
		"state":  ack.State,
	})
}

func (s *Server) handleRespPay(c *gin.Context) {
	err := s.backend.HandleResponseXML(c.Request.Context(), c.MustGet(bodyKey).([]byte))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "received"})
	case types.IsCode(err, types.ErrCorrelationMiss):
		// Stale and duplicate responses are acknowledged so the bank stops retrying.
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": types.ErrCorrelationMiss})
	case types.CategoryOf(err) == types.CategoryProtocol:
		c.JSON(http.StatusBadRequest, utils.ErrorBodyFor(err))
	default:
		s.fail(c, err)
	}
}

func (s *Server) handleReqValAdd(c *gin.Context) {
	out, err := s.backend.ResolveAddress(c.Request.Context(), c.MustGet(bodyKey).([]byte))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml", out)
}

func (s *Server) handleReconciliation(c *gin.Context) {
	recs := s.backend.Reconciliations()
	c.JSON(http.StatusOK, gin.H{"count": len(recs), "items": recs})
}

func (s *Server) handlePending(c *gin.Context) {
	keys := s.backend.Pending()
	c.JSON(http.StatusOK, gin.H{"count": len(keys), "keys": keys})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	fields := map[string]any{"path": c.FullPath(), "status": status, "error": err}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields)
	} else {
		s.logger.Info("request rejected", fields)
	}
	c.JSON(status, utils.ErrorBodyFor(err))
}

// StatusFor maps a switch error to its HTTP status.
func StatusFor(err error) int {
	se, ok := types.AsSwitchError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch se.Code {
	case types.ErrDuplicateMessage:
		return http.StatusConflict
	case types.ErrConfigError:
		return http.StatusNotImplemented
	}
	switch se.Category {
	case types.CategoryStructural, types.CategoryBusiness:
		return http.StatusBadRequest
	case types.CategoryUpstream, types.CategoryProtocol:
		return http.StatusBadGateway
	case types.CategoryCorrelation:
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

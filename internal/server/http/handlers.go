package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) health(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) seal(c *gin.Context) {
	var req sealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	route, err := s.svc.Seal(c.Request.Context(), req.DeviceToken)
	if err != nil {
		fail(c, err, sealFailed)
		return
	}
	c.JSON(http.StatusOK, sealResponse{SealedRoute: route})
}

func (s *Server) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	res, err := s.svc.Send(c.Request.Context(), req.toModel())
	if err != nil {
		fail(c, err, sendFailed)
		return
	}
	c.JSON(http.StatusAccepted, sendResponse{
		MessageID:  res.MessageID,
		Notified:   res.Notified,
		APNsStatus: res.APNsStatus,
		APNsError:  res.APNsError,
	})
}

func (s *Server) sync(c *gin.Context) {
	var q syncQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abort(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	msgs, err := s.svc.Sync(c.Request.Context(), q.Pubkey, q.Sig)
	if err != nil {
		fail(c, err, syncFailed)
		return
	}
	c.JSON(http.StatusOK, syncResponse{Messages: toMessageDTOs(msgs)})
}

func (s *Server) ack(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	n, err := s.svc.Ack(c.Request.Context(), req.Pubkey, req.Sig, req.MessageIDs)
	if err != nil {
		fail(c, err, ackFailed)
		return
	}
	c.JSON(http.StatusOK, ackResponse{Deleted: n})
}

func (s *Server) ownerSync(c *gin.Context) {
	msgs, err := s.svc.SyncOwned(c.Request.Context(), ownerFrom(c))
	if err != nil {
		fail(c, err, syncFailed)
		return
	}
	c.JSON(http.StatusOK, syncResponse{Messages: toMessageDTOs(msgs)})
}

func (s *Server) ownerAck(c *gin.Context) {
	var req ownerAckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	n, err := s.svc.AckOwned(c.Request.Context(), ownerFrom(c), req.MessageIDs)
	if err != nil {
		fail(c, err, ackFailed)
		return
	}
	c.JSON(http.StatusOK, ackResponse{Deleted: n})
}

package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"moff.io/mint-widget/pkg/log"
)

const (
	eventWriteTimeout = 10 * time.Second
	pingPeriod        = 30 * time.Second
)

// serveBridge hands the page connection to the hub for the lifetime of the page.
func (s *Server) serveBridge(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warnf("http - upgrade bridge:%v", err)
		return
	}
	if err := s.svc.Hub.Serve(ctx.Request.Context(), conn); err != nil {
		log.Warnf("http - bridge:%v", err)
	}
}

// serveEvents streams bus events as JSON text frames until the page goes away.
func (s *Server) serveEvents(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warnf("http - upgrade events:%v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.svc.Bus.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debugf("http - write event:%v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Request.Context().Done():
			return
		}
	}
}

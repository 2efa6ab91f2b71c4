package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bbu-fleet/bbu-server/internal/eventbus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// HandleWebsocket 把一个总线主题推送给 websocket 客户端，直到客户端断开
func (s *RESTServer) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	topic := eventbus.Topic(chi.URLParam(r, "topic"))
	if !topic.Valid() {
		s.respondError(w, http.StatusNotFound, "unknown topic")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := &wsSubscriber{conn: conn}
	id := s.bus.Subscribe(topic, sub.deliver)
	defer s.bus.Unsubscribe(topic, id)

	s.logger.Info().Str("topic", string(topic)).Str("remote", r.RemoteAddr).Msg("websocket 订阅建立")

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			// 客户端只需保持连接，收到的内容丢弃
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			s.logger.Info().Str("topic", string(topic)).Str("remote", r.RemoteAddr).Msg("websocket 订阅断开")
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// wsSubscriber 总线对每个订阅只用一个投递协程，这里的写操作不会并发
type wsSubscriber struct {
	conn *websocket.Conn
}

func (c *wsSubscriber) deliver(_ eventbus.Topic, payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := c.conn.WriteMessage(websocket.TextMessage, payload)
	if err == nil {
		return nil
	}
	if errors.Is(err, websocket.ErrCloseSent) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return eventbus.ErrSubscriberGone
	}
	// gorilla 的连接写失败后不可再用
	return fmt.Errorf("%w: %v", eventbus.ErrSubscriberGone, err)
}

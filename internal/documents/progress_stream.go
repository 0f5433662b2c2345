package documents

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
)

// ProgressStreamer pushes batch progress snapshots over a websocket until the
// batch is done or the client goes away.
type ProgressStreamer struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewProgressStreamer(logger *zap.Logger) *ProgressStreamer {
	return &ProgressStreamer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (s *ProgressStreamer) Stream(w http.ResponseWriter, r *http.Request, progress *Progress) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	updates, cancel := progress.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go s.readPump(conn, gone)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch finished"))
				return nil
			}
			if err := conn.WriteJSON(snap); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-gone:
			return nil
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (s *ProgressStreamer) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("progress stream closed", zap.Error(err))
			}
			return
		}
	}
}

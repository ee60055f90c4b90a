package session

import (
	"log/slog"
	"net/http"

	"golang.org/x/net/websocket"
)

// Handler はWebSocketエンドポイントのハンドラー。
// クライアントはSUBSCRIBE制御フレームでrequestIdまたはphoneを購読し、
// 以後プッシュフレームを受信する。
type Handler struct {
	registry Registry
	logger   *slog.Logger
}

// NewHandler はHandlerを生成する。
func NewHandler(registry Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// ServeHTTP はWebSocketハンドシェイクを行い接続ループを開始する。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(h.serve).ServeHTTP(w, r)
}

// serve は1接続分の受信ループ。切断時に購読を解除する。
func (h *Handler) serve(ws *websocket.Conn) {
	conn := NewConn(ws)
	defer func() {
		h.registry.Unsubscribe(conn)
		conn.Close()
	}()

	for {
		var frame Frame
		if err := websocket.JSON.Receive(ws, &frame); err != nil {
			// io.EOFを含む受信エラーは切断として扱う
			h.logger.Debug("WebSocket受信終了", "error", err)
			return
		}

		switch frame.Type {
		case FrameSubscribe:
			if frame.RequestID == "" && frame.Phone == "" {
				conn.Send(Frame{
					Type:    FrameError,
					Message: "requestId or phone is required",
				})
				continue
			}
			h.registry.Subscribe(frame.RequestID, frame.Phone, conn)
			conn.Send(Frame{
				Type:      FrameSubscribed,
				RequestID: frame.RequestID,
				Phone:     frame.Phone,
			})
		default:
			conn.Send(Frame{
				Type:    FrameError,
				Message: "unsupported frame type: " + string(frame.Type),
			})
		}
	}
}

// Package session はWebSocketクライアントのセッション管理機能を提供する。
// 購読はリクエストIDまたは電話番号をキーとし、プロセスローカルで永続化しない。
package session

import (
	"log/slog"
	"sync"
)

// FrameType はWebSocketフレームの種別。
type FrameType string

const (
	FrameSubscribe   FrameType = "SUBSCRIBE"
	FrameSubscribed  FrameType = "SUBSCRIBED"
	FrameBindStatus  FrameType = "BIND_STATUS"
	FrameNewReceipts FrameType = "NEW_RECEIPTS"
	FrameUnbind      FrameType = "UNBIND"
	FrameError       FrameType = "ERROR"
)

// Frame はWebSocket上で交換されるメッセージ。
type Frame struct {
	Type      FrameType      `json:"type"`
	RequestID string         `json:"requestId,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Registry はライブ接続への宛先指定プッシュのインターフェース。
type Registry interface {
	// Subscribe は接続をリクエストIDおよび電話番号で登録する。
	// どちらのキーも空文字列の場合は登録しない。
	Subscribe(requestID, phone string, conn *Conn)

	// Unsubscribe は接続の全ての登録を解除する。
	Unsubscribe(conn *Conn)

	// PushToRequest はリクエストIDの購読者にフレームを送信する。
	// 購読者が存在しない、または接続が閉じている場合は何もしない。
	PushToRequest(requestID string, frame Frame)

	// PushToPhone は電話番号の購読者にフレームを送信する。
	PushToPhone(phone string, frame Frame)
}

// InMemoryRegistry はプロセスローカルなRegistry実装。
type InMemoryRegistry struct {
	mu        sync.RWMutex
	byRequest map[string]*Conn
	byPhone   map[string]*Conn
	logger    *slog.Logger
}

// NewInMemoryRegistry はInMemoryRegistryを生成する。
func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		byRequest: make(map[string]*Conn),
		byPhone:   make(map[string]*Conn),
		logger:    logger,
	}
}

// Subscribe は接続を登録する。同一キーへの再購読は古い登録を上書きする。
func (r *InMemoryRegistry) Subscribe(requestID, phone string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if requestID != "" {
		r.byRequest[requestID] = conn
	}
	if phone != "" {
		r.byPhone[phone] = conn
	}
	r.logger.Info("セッション購読",
		"request_id", requestID,
		"phone", phone,
		"live_sessions", len(r.byRequest)+len(r.byPhone),
	)
}

// Unsubscribe は接続の全ての登録を解除する。
func (r *InMemoryRegistry) Unsubscribe(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range r.byRequest {
		if c == conn {
			delete(r.byRequest, key)
		}
	}
	for key, c := range r.byPhone {
		if c == conn {
			delete(r.byPhone, key)
		}
	}
}

// PushToRequest はリクエストIDの購読者にフレームを送信する。
func (r *InMemoryRegistry) PushToRequest(requestID string, frame Frame) {
	r.mu.RLock()
	conn := r.byRequest[requestID]
	r.mu.RUnlock()
	r.push(conn, frame, "request_id", requestID)
}

// PushToPhone は電話番号の購読者にフレームを送信する。
func (r *InMemoryRegistry) PushToPhone(phone string, frame Frame) {
	r.mu.RLock()
	conn := r.byPhone[phone]
	r.mu.RUnlock()
	r.push(conn, frame, "phone", phone)
}

// push は接続へフレームを書き込む。購読者不在や切断済みは黙って破棄する。
func (r *InMemoryRegistry) push(conn *Conn, frame Frame, keyName, keyValue string) {
	if conn == nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		r.logger.Debug("フレーム送信をスキップ",
			keyName, keyValue,
			"frame_type", frame.Type,
			"error", err,
		)
	}
}

// LiveSessions は現在の購読数を返す。メトリクス用。
func (r *InMemoryRegistry) LiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRequest) + len(r.byPhone)
}

package session

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// WSTransport adapts a *websocket.Conn to the Transport interface, the
// concrete wire implementation of §4.6's symmetric protocol. Framing is
// one JSON text message per Envelope.
type WSTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex // one writer at a time on conn
}

// NewWSTransport wraps an already-upgraded websocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

func (w *WSTransport) Send(env Envelope) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.WriteJSON(env)
}

func (w *WSTransport) Receive() (Envelope, error) {
	var env Envelope
	_, raw, err := w.conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (w *WSTransport) Close() error {
	return w.conn.Close()
}

package webeditor

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// wsConn is the part of *websocket.Conn the pool writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool holds the websocket connections attached to one editor
// session. All writes go through the pool so a connection never sees two
// concurrent writers.
type ConnectionPool struct {
	sessionID string
	mu        sync.Mutex
	conns     map[wsConn]struct{}
}

func NewConnectionPool(sessionID string) *ConnectionPool {
	return &ConnectionPool{
		sessionID: sessionID,
		conns:     map[wsConn]struct{}{},
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	cp.conns[conn] = struct{}{}
	cp.mu.Unlock()
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		_ = closeConn(conn)
		return
	}
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = closeConn(conn)
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		if err := writeText(conn, data); err != nil {
			log.Warn().Err(err).Str("component", "webeditor").Str("session_id", cp.sessionID).Msg("ws broadcast failed, dropping connection")
			delete(cp.conns, conn)
			_ = closeConn(conn)
		}
	}
}

func (cp *ConnectionPool) SendToOne(conn wsConn, data []byte) {
	if cp == nil || conn == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.conns[conn]; !ok {
		return
	}
	if err := writeText(conn, data); err != nil {
		log.Warn().Err(err).Str("component", "webeditor").Str("session_id", cp.sessionID).Msg("ws send failed, dropping connection")
		delete(cp.conns, conn)
		_ = closeConn(conn)
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) IsEmpty() bool {
	return cp.Count() == 0
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn := range cp.conns {
		_ = closeConn(conn)
		delete(cp.conns, conn)
	}
	cp.mu.Unlock()
}

func writeText(conn wsConn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeConn(conn wsConn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

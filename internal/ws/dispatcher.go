package ws

import (
	"log"
	"time"

	"github.com/strangertalk/relay/internal/protocol"
)

// MessageHandler handles one parsed client message; msg is the value
// protocol.ParseClientMessage produced for its type.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes client messages by type. It answers ping itself
// and refuses everything but identify on an anonymous connection.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register sets the handler for msgType, replacing any earlier one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's message callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		sendError(conn, protocol.CodeInvalidMessage, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		sendPong(conn)
		return
	}

	if msgType != protocol.TypeIdentify && conn.UserID() == "" {
		sendError(conn, protocol.CodeNotIdentified, "send identify first")
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q conn=%s", msgType, conn.ID)
		sendError(conn, protocol.CodeInvalidMessage, "unsupported message type")
		return
	}

	handler(conn, msg)
}

func sendError(conn *Connection, code string, message string) {
	if err := conn.WriteMessage(protocol.ErrorMessage(code, message)); err != nil {
		log.Printf("ws: error frame conn=%s: %v", conn.ID, err)
	}
}

// sendPong answers an application-level ping. It also counts as activity.
func sendPong(conn *Connection) {
	conn.Touch(time.Now())
	if err := conn.WriteMessage(protocol.MustServerMessage(protocol.TypePong, protocol.PongMsg{})); err != nil {
		log.Printf("ws: pong conn=%s: %v", conn.ID, err)
	}
}

package relay

import (
	"github.com/fzft/go-text-relay/log"
	"go.uber.org/zap"
)

// EventSink receives connection lifecycle and payload events from the event
// loop. Formatting and output are entirely the sink's concern; the loop only
// reports. Calls arrive from the loop goroutine, never concurrently.
type EventSink interface {
	// Connected is called once per accepted connection.
	Connected(addr string)

	// Data is called with each chunk drained from a connection. Chunks carry
	// no framing: a logical message may span or share chunks.
	Data(addr string, payload []byte)

	// Disconnected is called once per torn-down connection.
	Disconnected(addr string)
}

type zapSink struct{}

func (zapSink) Connected(addr string) {
	log.Logger.Info("client connected", zap.String("addr", addr))
}

func (zapSink) Data(addr string, payload []byte) {
	log.Logger.Info("client data", zap.String("addr", addr), zap.ByteString("payload", payload))
}

func (zapSink) Disconnected(addr string) {
	log.Logger.Info("client disconnected", zap.String("addr", addr))
}

package realtime

import (
	"bytes"

	"github.com/go-stomp/stomp/v3/frame"
)

// Broker destinations.
const (
	DestinationInbound = "/user/queue/messages"
	DestinationSend    = "/app/chat.send"
)

// STOMP header names used by the session.
const (
	headerAcceptVersion = "accept-version"
	headerHost          = "host"
	headerHeartBeat     = "heart-beat"
	headerAuthorization = "Authorization"
	headerID            = "id"
	headerDestination   = "destination"
	headerAck           = "ack"
	headerContentType   = "content-type"
	headerContentLength = "content-length"
	headerMessage       = "message"
)

// Each websocket text message carries exactly one STOMP frame.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrame returns a nil frame for heart-beats.
func decodeFrame(data []byte) (*frame.Frame, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return frame.NewReader(bytes.NewReader(data)).Read()
}

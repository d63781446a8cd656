// Package connection wraps a client websocket with optional permessage-deflate
// compression, exposing whole-message reads and writes.
package connection

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/piggypost/piggypost/pkg/context"
	log2 "github.com/piggypost/piggypost/pkg/log"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"
)

var log = log2.GetStd()

type C struct {
	Conn           net.Conn
	compressed     bool
	controlHandler wsutil.FrameHandlerFunc
	flateReader    *wsflate.Reader
	reader         *wsutil.Reader
	flateWriter    *wsflate.Writer
	writer         *wsutil.Writer
	msgStateR      *wsflate.MessageState
	msgStateW      *wsflate.MessageState
}

// New dials the relay URL and negotiates permessage-deflate; compression is
// used only when the server accepts the extension.
func New(c context.T, url string, requestHeader http.Header) (*C, error) {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(requestHeader),
		Extensions: []httphead.Option{
			wsflate.DefaultParameters.Option(),
		},
	}
	conn, _, hs, err := dialer.Dial(c, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	compressed := negotiatedCompression(hs)
	state := ws.StateClientSide
	if compressed {
		state |= ws.StateExtended
	}

	cc := &C{
		Conn:           conn,
		compressed:     compressed,
		controlHandler: wsutil.ControlFrameHandler(conn, ws.StateClientSide),
	}
	cc.setupReader(state)
	cc.setupWriter(state)
	return cc, nil
}

func negotiatedCompression(hs ws.Handshake) bool {
	for _, extension := range hs.Extensions {
		if string(extension.Name) == wsflate.ExtensionName {
			return true
		}
	}
	return false
}

func (c *C) setupReader(state ws.State) {
	var msgState wsflate.MessageState
	if c.compressed {
		msgState.SetCompressed(true)
		c.flateReader = wsflate.NewReader(nil,
			func(r io.Reader) wsflate.Decompressor {
				return flate.NewReader(r)
			})
	}
	c.msgStateR = &msgState
	c.reader = &wsutil.Reader{
		Source:         c.Conn,
		State:          state,
		OnIntermediate: c.controlHandler,
		CheckUTF8:      false,
		Extensions: []wsutil.RecvExtension{
			&msgState,
		},
	}
}

func (c *C) setupWriter(state ws.State) {
	var msgState wsflate.MessageState
	if c.compressed {
		msgState.SetCompressed(true)
		c.flateWriter = wsflate.NewWriter(nil,
			func(w io.Writer) wsflate.Compressor {
				fw, err := flate.NewWriter(w, 4)
				if err != nil {
					log.E.F("failed to create flate writer: %v", err)
				}
				return fw
			})
	}
	c.msgStateW = &msgState
	c.writer = wsutil.NewWriter(c.Conn, state, ws.OpText)
	c.writer.SetExtensions(&msgState)
}

func (c *C) WriteMessage(data []byte) error {
	if c.compressed && c.msgStateW.IsCompressed() {
		c.flateWriter.Reset(c.writer)
		if _, err := io.Copy(c.flateWriter, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		if err := c.flateWriter.Close(); err != nil {
			return fmt.Errorf("failed to close flate writer: %w", err)
		}
	} else {
		if _, err := io.Copy(c.writer, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}

	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	return nil
}

// ReadMessage copies the next text or binary message into buf, handling
// control frames along the way.
func (c *C) ReadMessage(cx context.T, buf io.Writer) error {
	for {
		if err := cx.Err(); err != nil {
			return err
		}

		h, err := c.reader.NextFrame()
		if err != nil {
			c.Conn.Close()
			return fmt.Errorf("failed to advance frame: %w", err)
		}

		if h.OpCode.IsControl() {
			if err := c.controlHandler(h, c.reader); err != nil {
				return fmt.Errorf("failed to handle control frame: %w", err)
			}
		} else if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}

		if err := c.reader.Discard(); err != nil {
			return fmt.Errorf("failed to discard: %w", err)
		}
	}

	if c.compressed && c.msgStateR.IsCompressed() {
		c.flateReader.Reset(c.reader)
		if _, err := io.Copy(buf, c.flateReader); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
	} else {
		if _, err := io.Copy(buf, c.reader); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
	}

	return nil
}

// Ping sends a websocket ping control frame.
func (c *C) Ping() error {
	return wsutil.WriteClientMessage(c.Conn, ws.OpPing, nil)
}

func (c *C) Close() error {
	return c.Conn.Close()
}

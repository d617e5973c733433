package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/rcarmo/go-dib/internal/codec"
	"github.com/rcarmo/go-dib/internal/config"
	"github.com/rcarmo/go-dib/internal/dib"
	"github.com/rcarmo/go-dib/internal/logging"
)

const (
	webSocketReadBufferSize  = 8192
	webSocketWriteBufferSize = 8192 * 2
)

var (
	ErrFrameTooLarge   = errors.New("handler: frame exceeds configured limits")
	ErrUnexpectedFrame = errors.New("handler: unexpected message type")
)

// FrameHeader describes the pixel payload that follows it on the socket.
type FrameHeader struct {
	Width       int32  `json:"width"`
	Height      int32  `json:"height"`
	Depth       uint16 `json:"depth"`
	Compression string `json:"compression,omitempty"`
	RedMask     uint32 `json:"redMask,omitempty"`
	GreenMask   uint32 `json:"greenMask,omitempty"`
	BlueMask    uint32 `json:"blueMask,omitempty"`
	AlphaMask   uint32 `json:"alphaMask,omitempty"`
	Stride      int    `json:"stride,omitempty"`
	Order       string `json:"order,omitempty"`
}

// FrameReply precedes every decoded frame, or reports why a frame failed.
type FrameReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Order  string `json:"order,omitempty"`
}

// Decoder serves the /decode WebSocket endpoint.
type Decoder struct {
	limits         config.DecoderConfig
	allowedOrigins []string
	defaultOrder   dib.Order
	sessions       chan struct{}
	log            *logging.Logger
}

// NewDecoder builds the endpoint from cfg.
func NewDecoder(cfg *config.Config) (*Decoder, error) {
	order, err := dib.ParseOrder(cfg.Decoder.DefaultOrder)
	if err != nil {
		return nil, err
	}

	return &Decoder{
		limits:         cfg.Decoder,
		allowedOrigins: cfg.Security.AllowedOrigins,
		defaultOrder:   order,
		sessions:       make(chan struct{}, cfg.Security.MaxConnections),
		log:            logging.Default(),
	}, nil
}

func (d *Decoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case d.sessions <- struct{}{}:
		defer func() { <-d.sessions }()
	default:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isAllowedOrigin(r.Header.Get("Origin"), d.allowedOrigins)
		},
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("upgrade websocket: %v", err)
		return
	}

	defer func() {
		if err = wsConn.Close(); err != nil {
			d.log.Debug("error closing websocket: %v", err)
		}
	}()

	wsConn.SetReadLimit(d.limits.MaxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	d.serve(ctx, wsConn)
}

func (d *Decoder) serve(ctx context.Context, wsConn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default: // pass
		}

		header, payload, err := readFrame(wsConn)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if errors.Is(err, ErrUnexpectedFrame) || isMalformedHeader(err) {
				_ = writeReply(wsConn, FrameReply{Error: err.Error()})
			}
			d.log.Debug("read frame: %v", err)
			return
		}

		reply, pixels, err := d.decodeFrame(header, payload)
		if err != nil {
			d.log.Info("reject frame %dx%d@%d: %v", header.Width, header.Height, header.Depth, err)
			if err = writeReply(wsConn, FrameReply{Error: err.Error()}); err != nil {
				return
			}
			continue
		}

		if err = writeReply(wsConn, reply); err != nil {
			d.log.Debug("write reply: %v", err)
			return
		}

		if err = wsConn.WriteMessage(websocket.BinaryMessage, pixels); err != nil {
			if err != websocket.ErrCloseSent {
				d.log.Warn("failed sending frame to ws: %v", err)
			}
			return
		}

		d.log.Debug("decoded frame %dx%d order=%s", reply.Width, reply.Height, reply.Order)
	}
}

type headerError struct{ err error }

func (e headerError) Error() string { return "malformed frame header: " + e.err.Error() }
func (e headerError) Unwrap() error { return e.err }

func isMalformedHeader(err error) bool {
	var he headerError
	return errors.As(err, &he)
}

// readFrame reads one text header message and the binary payload after it.
func readFrame(wsConn *websocket.Conn) (FrameHeader, []byte, error) {
	var header FrameHeader

	msgType, data, err := wsConn.ReadMessage()
	if err != nil {
		return header, nil, err
	}
	if msgType != websocket.TextMessage {
		return header, nil, fmt.Errorf("%w: want text header", ErrUnexpectedFrame)
	}
	if err = json.Unmarshal(data, &header); err != nil {
		return header, nil, headerError{err}
	}

	msgType, payload, err := wsConn.ReadMessage()
	if err != nil {
		return header, nil, err
	}
	if msgType != websocket.BinaryMessage {
		return header, nil, fmt.Errorf("%w: want binary payload", ErrUnexpectedFrame)
	}

	return header, payload, nil
}

func writeReply(wsConn *websocket.Conn, reply FrameReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return wsConn.WriteMessage(websocket.TextMessage, data)
}

// decodeFrame validates header against the configured limits and converts
// payload into top-down 32-bit pixels.
func (d *Decoder) decodeFrame(header FrameHeader, payload []byte) (FrameReply, []byte, error) {
	order := d.defaultOrder
	if header.Order != "" {
		var err error
		if order, err = dib.ParseOrder(header.Order); err != nil {
			return FrameReply{}, nil, err
		}
	}

	compression, err := dib.ParseCompression(header.Compression)
	if err != nil {
		return FrameReply{}, nil, err
	}

	width, height := int(header.Width), int(header.Height)
	if height < 0 {
		height = -height
	}
	if width > d.limits.MaxWidth || height > d.limits.MaxHeight {
		return FrameReply{}, nil, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, width, height)
	}
	if int64(width)*int64(height)*4 > d.limits.MaxFrameBytes {
		return FrameReply{}, nil, fmt.Errorf("%w: %d output bytes", ErrFrameTooLarge, int64(width)*int64(height)*4)
	}

	data, err := codec.Decompress(payload, uint64(d.limits.MaxFrameBytes))
	if err != nil {
		return FrameReply{}, nil, err
	}

	bmp := &dib.Bitmap{
		Info: dib.Info{
			Width:       header.Width,
			Height:      header.Height,
			BitCount:    header.Depth,
			Compression: compression,
			RedMask:     header.RedMask,
			GreenMask:   header.GreenMask,
			BlueMask:    header.BlueMask,
			AlphaMask:   header.AlphaMask,
			RowStride:   header.Stride,
		},
		Pix: data,
	}

	pixels, err := dib.DecodeLimit(bmp, order, d.limits.MaxFrameBytes)
	if err != nil {
		return FrameReply{}, nil, err
	}

	reply := FrameReply{OK: true, Width: width, Height: height, Order: order.String()}
	return reply, pixels, nil
}

func isAllowedOrigin(origin string, allowed []string) bool {
	if origin == "" {
		// non-browser clients
		return true
	}

	normalized := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	normalized = strings.TrimSuffix(normalized, "/")

	if isLoopbackHost(normalized) {
		return true
	}

	for _, entry := range allowed {
		candidate := strings.TrimSpace(entry)
		if candidate == "" {
			continue
		}

		// Support allow-list entries with or without scheme
		if candidate == origin || candidate == normalized {
			return true
		}

		if strings.TrimPrefix(candidate, "http://") == normalized || strings.TrimPrefix(candidate, "https://") == normalized {
			return true
		}
	}

	return false
}

// isLoopbackHost reports whether hostport names localhost or a loopback
// address, with or without a port.
func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

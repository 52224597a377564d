package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 64 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 30 * time.Second
	writeWait      = 10 * time.Second

	DefaultQueueSize = 256
)

var ErrClosed = errors.New("websocket closed")

type frame struct {
	data   []byte
	binary bool
}

// WS is a websocket connection with a bounded outbound queue.
// All reads happen in one reader goroutine, all writes in one writer goroutine.
type WS struct {
	conn *websocket.Conn
	send chan frame

	// OnMessage is called sequentially from the reader goroutine.
	OnMessage MessageHandler
	// OnError is called once with the error that stopped the reader (nil on a normal close).
	OnError func(err error)

	pingPong bool
	once     sync.Once
	quit     chan struct{}
	shutdown sync.WaitGroup

	Done chan struct{}
}

type MessageHandler func(data []byte, binary bool)

type Options struct {
	QueueSize int
	PingPong  bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewServer upgrades an HTTP request into a websocket.
// The pumps are not started until Listen is called.
func NewServer(w http.ResponseWriter, r *http.Request, opts Options) (*WS, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, opts), nil
}

func New(conn *websocket.Conn, opts Options) *WS {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &WS{
		conn:     conn,
		send:     make(chan frame, opts.QueueSize),
		pingPong: opts.PingPong,
		quit:     make(chan struct{}),
		Done:     make(chan struct{}),
	}
}

// Listen starts the reader and writer pumps.
func (ws *WS) Listen() {
	ws.shutdown.Add(2)
	go ws.writer()
	go ws.reader()
	go func() {
		ws.shutdown.Wait()
		_ = ws.conn.Close()
		close(ws.Done)
	}()
}

// reader pumps messages from the websocket connection to the OnMessage callback.
func (ws *WS) reader() {
	var rerr error
	defer func() {
		ws.Close()
		if ws.OnError != nil {
			ws.OnError(rerr)
		}
		ws.shutdown.Done()
	}()
	ws.conn.SetReadLimit(maxMessageSize)
	if ws.pingPong {
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongTime))
		ws.conn.SetPongHandler(func(string) error {
			if ws.IsClosed() {
				return nil
			}
			return ws.conn.SetReadDeadline(time.Now().Add(pongTime))
		})
	}
	for {
		kind, message, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rerr = err
			}
			return
		}
		// a closed connection only waits for the peer to go
		if ws.IsClosed() {
			continue
		}
		if ws.pingPong {
			_ = ws.conn.SetReadDeadline(time.Now().Add(pongTime))
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, kind == websocket.BinaryMessage)
		}
	}
}

// writer pumps messages from the send queue to the websocket connection.
func (ws *WS) writer() {
	var tick <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		ws.Close()
		ws.shutdown.Done()
	}()
	for {
		select {
		case f := <-ws.send:
			if err := ws.write(f); err != nil {
				return
			}
		case <-tick:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ws.quit:
			ws.drain()
			_ = ws.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes whatever was queued before the close.
func (ws *WS) drain() {
	for {
		select {
		case f := <-ws.send:
			if ws.write(f) != nil {
				return
			}
		default:
			return
		}
	}
}

func (ws *WS) write(f frame) error {
	_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	kind := websocket.TextMessage
	if f.binary {
		kind = websocket.BinaryMessage
	}
	return ws.conn.WriteMessage(kind, f.data)
}

// TrySend enqueues a frame without blocking.
// It returns false when the queue is full or the connection is closed.
func (ws *WS) TrySend(data []byte, binary bool) bool {
	select {
	case <-ws.quit:
		return false
	default:
	}
	select {
	case ws.send <- frame{data: data, binary: binary}:
		return true
	default:
		return false
	}
}

// Close stops both pumps. Safe to call many times from any goroutine.
func (ws *WS) Close() {
	ws.once.Do(func() {
		close(ws.quit)
		// unblock the reader
		_ = ws.conn.SetReadDeadline(time.Now().Add(writeWait))
	})
}

func (ws *WS) IsClosed() bool {
	select {
	case <-ws.quit:
		return true
	default:
		return false
	}
}

func (ws *WS) RemoteAddr() string { return ws.conn.RemoteAddr().String() }

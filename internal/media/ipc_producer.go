package media

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWriteTimeout bounds a single frame write to the downstream reader.
const DefaultWriteTimeout = 2 * time.Second

// ErrNoReader is returned by Enqueue when no downstream client is connected.
var ErrNoReader = errors.New("no downstream reader connected")

// IPCProducer serves transformed frames to one downstream reader over a Unix
// socket, using the same wire format as IPCConsumer.
type IPCProducer struct {
	socketPath   string
	writeTimeout time.Duration
	listener     net.Listener
	log          zerolog.Logger

	mu       sync.Mutex
	conn     net.Conn
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	written  uint64
	dropped  uint64
}

// NewIPCProducer creates a new IPC producer
func NewIPCProducer(socketPath string, log zerolog.Logger) *IPCProducer {
	return &IPCProducer{
		socketPath:   socketPath,
		writeTimeout: DefaultWriteTimeout,
		log:          log.With().Str("component", "ipc_producer").Str("socket", socketPath).Logger(),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins accepting downstream readers
func (p *IPCProducer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("already running")
	}

	os.Remove(p.socketPath)

	listener, err := net.Listen("unix", p.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.socketPath, err)
	}
	p.listener = listener
	p.running = true

	p.log.Info().Msg("IPC output listening")

	go p.acceptLoop(listener)
	return nil
}

func (p *IPCProducer) acceptLoop(listener net.Listener) {
	defer close(p.done)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-p.stopChan:
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				p.log.Warn().Err(err).Msg("IPC output accept error")
				continue
			}
		}

		p.mu.Lock()
		if !p.running {
			p.mu.Unlock()
			conn.Close()
			return
		}
		// Newest reader wins
		if p.conn != nil {
			p.conn.Close()
		}
		p.conn = conn
		p.mu.Unlock()

		p.log.Info().Msg("IPC downstream reader connected")
	}
}

// Enqueue writes frame to the connected reader and releases it. When no
// reader is connected the frame is dropped and ErrNoReader is returned. A
// failed write disconnects the reader.
func (p *IPCProducer) Enqueue(frame *Frame) error {
	defer frame.Release()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		p.dropped++
		return ErrNoReader
	}

	if p.writeTimeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	if err := WriteFrame(p.conn, frame); err != nil {
		p.dropped++
		p.conn.Close()
		p.conn = nil
		p.log.Warn().Err(err).Int64("pts", frame.Timestamp).Msg("IPC downstream write failed, reader disconnected")
		return fmt.Errorf("write frame %d: %w", frame.Timestamp, err)
	}
	p.written++
	return nil
}

// Counts returns the number of frames written and dropped so far.
func (p *IPCProducer) Counts() (written, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written, p.dropped
}

// Stop closes the listener and the current reader
func (p *IPCProducer) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	if p.listener != nil {
		p.listener.Close()
		p.listener = nil
	}
	p.mu.Unlock()

	<-p.done
	os.Remove(p.socketPath)

	p.log.Info().Msg("IPC producer stopped")
	return nil
}

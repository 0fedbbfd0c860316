package media

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultFrameBuffer is the inbound channel size, ~2 seconds at 60fps.
const DefaultFrameBuffer = 120

// IPCConsumer listens for raw frames from the capture service
type IPCConsumer struct {
	socketPath string
	listener   net.Listener
	conn       net.Conn
	log        zerolog.Logger

	Frames chan *Frame

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewIPCConsumer creates a new IPC consumer. A buffer <= 0 selects
// DefaultFrameBuffer.
func NewIPCConsumer(socketPath string, buffer int, log zerolog.Logger) *IPCConsumer {
	if buffer <= 0 {
		buffer = DefaultFrameBuffer
	}
	return &IPCConsumer{
		socketPath: socketPath,
		log:        log.With().Str("component", "ipc_consumer").Str("socket", socketPath).Logger(),
		Frames:     make(chan *Frame, buffer),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for connections and reading frames
func (c *IPCConsumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("already running")
	}

	// Remove existing socket file if present
	os.Remove(c.socketPath)

	listener, err := net.Listen("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.socketPath, err)
	}
	c.listener = listener
	c.running = true

	c.log.Info().Msg("IPC listening")

	go c.acceptLoop(listener)

	return nil
}

func (c *IPCConsumer) acceptLoop(listener net.Listener) {
	defer close(c.done)

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-c.stopChan:
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				c.log.Warn().Err(err).Msg("IPC accept error")
				continue
			}
		}

		c.log.Info().Msg("IPC client connected from capture service")

		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			conn.Close()
			return
		}
		// Close previous connection if any
		if c.conn != nil {
			c.conn.Close()
		}
		c.conn = conn
		c.mu.Unlock()

		c.handleConnection(conn)
	}
}

func (c *IPCConsumer) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		c.log.Info().Msg("IPC client disconnected")
	}()

	header := make([]byte, HeaderSize)
	frameCount := 0
	dropCount := 0

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		frame, err := ReadFrame(conn, header)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Warn().Err(err).Msg("IPC frame read error")
			}
			return
		}
		frame.TraceID = uuid.NewString()

		// Send to channel (non-blocking)
		select {
		case c.Frames <- frame:
			frameCount++
			// Log periodically
			if frameCount%300 == 0 { // every 5 seconds at 60fps
				c.log.Debug().
					Int("frames", frameCount).
					Int("dropped", dropCount).
					Int64("pts", frame.Timestamp).
					Int("width", frame.DisplayWidth).
					Int("height", frame.DisplayHeight).
					Msg("IPC frames received")
			}
		case <-c.stopChan:
			frame.Release()
			return
		default:
			// Channel full, drop frame
			dropCount++
			frame.Release()
			c.log.Warn().Int64("pts", frame.Timestamp).Str("trace_id", frame.TraceID).Msg("IPC frame dropped (channel full)")
		}
	}
}

// Stop shuts down the IPC consumer. Frames is closed once the reader has
// exited, so ranging over it terminates.
func (c *IPCConsumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	c.running = false
	close(c.stopChan)

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
	c.mu.Unlock()

	<-c.done

	// Remove socket file
	os.Remove(c.socketPath)

	close(c.Frames)

	c.log.Info().Msg("IPC consumer stopped")
	return nil
}

// IsRunning returns whether the consumer is running
func (c *IPCConsumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

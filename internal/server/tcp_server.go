package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"retranslator-svr/internal/observability"
)

var (
	ErrFrameTooLarge = errors.New("server: frame too large")
	ErrEmptyFrame    = errors.New("server: empty frame")
)

// Handler consumes frames read from device connections.
type Handler interface {
	HandleFrame(ctx context.Context, conn net.Conn, frame []byte)
	ConnClosed(conn net.Conn)
}

type Options struct {
	MaxFrameSize int
	ReadTimeout  time.Duration
}

type TcpServer struct {
	handler Handler
	opts    Options
	logger  *slog.Logger
}

func New(handler Handler, opts Options, lg *slog.Logger) *TcpServer {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = 64 * 1024
	}
	return &TcpServer{handler: handler, opts: opts, logger: lg.With("component", "tcp")}
}

// Start listens on addr and serves until ctx is done.
func (srv *TcpServer) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting TCP server: %w", err)
	}
	srv.logger.Info("TCP server listening", "addr", listener.Addr().String())
	return srv.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done, then waits for
// open connections to finish.
func (srv *TcpServer) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			srv.logger.Error("accept error", "err", err)
			continue
		}
		observability.TCPConnections.Inc()

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			srv.HandleConnection(ctx, c)
		}(conn)
	}
}

func (srv *TcpServer) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer srv.handler.ConnClosed(conn)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}

	remote := conn.RemoteAddr().String()
	srv.logger.Debug("connection opened", "remote", remote)

	r := bufio.NewReader(conn)
	for {
		if srv.opts.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(srv.opts.ReadTimeout))
		}
		frame, err := ReadFrame(r, srv.opts.MaxFrameSize)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF), ctx.Err() != nil:
				srv.logger.Debug("connection closed", "remote", remote)
			case errors.As(err, &netErr) && netErr.Timeout():
				srv.logger.Info("connection idle, closing", "remote", remote)
			default:
				srv.logger.Warn("read error", "remote", remote, "err", err)
			}
			return
		}
		srv.handler.HandleFrame(ctx, conn, frame)
	}
}

// ReadFrame reads one length-prefixed frame. The 4-byte little-endian
// prefix counts the bytes that follow it. The returned frame includes the
// prefix.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if uint64(n) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}
	frame := make([]byte, 4+int(n))
	copy(frame, prefix[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// Package redisstub is a minimal RESP server speaking just enough of the
// pub/sub command surface for queue tests: AUTH, PING, SELECT, SUBSCRIBE,
// UNSUBSCRIBE, and PUBLISH.
package redisstub

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string

	mu     sync.Mutex
	conns  map[*clientConn]struct{}
	closed chan struct{}
}

// clientConn tracks one connection's subscriptions. The write lock serialises
// pushed messages against command replies on the same socket.
type clientConn struct {
	mu       sync.Mutex
	writer   *bufio.Writer
	channels map[string]struct{}
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		conns:    make(map[*clientConn]struct{}),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	client := &clientConn{
		writer:   bufio.NewWriter(conn),
		channels: make(map[string]struct{}),
	}
	s.mu.Lock()
	s.conns[client] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, client)
		s.mu.Unlock()
	}()

	reader := bufio.NewReader(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			client.reply(writeError, "ERR wrong number of arguments")
			continue
		}
		switch strings.ToUpper(args[0]) {
		case "PING":
			client.reply(writeSimpleString, "PONG")
		case "AUTH":
			password := args[len(args)-1]
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				client.reply(writeSimpleString, "OK")
			} else {
				client.reply(writeError, "WRONGPASS invalid username-password pair")
			}
		case "SELECT":
			client.reply(writeSimpleString, "OK")
		case "SUBSCRIBE":
			if !authenticated {
				client.reply(writeError, "NOAUTH Authentication required.")
				continue
			}
			client.mu.Lock()
			for _, channel := range args[1:] {
				client.channels[channel] = struct{}{}
				writePush(client.writer, "subscribe", channel, int64(len(client.channels)))
			}
			client.writer.Flush()
			client.mu.Unlock()
		case "UNSUBSCRIBE":
			client.mu.Lock()
			channels := args[1:]
			if len(channels) == 0 {
				for channel := range client.channels {
					channels = append(channels, channel)
				}
			}
			for _, channel := range channels {
				delete(client.channels, channel)
				writePush(client.writer, "unsubscribe", channel, int64(len(client.channels)))
			}
			client.writer.Flush()
			client.mu.Unlock()
		case "PUBLISH":
			if !authenticated {
				client.reply(writeError, "NOAUTH Authentication required.")
				continue
			}
			if len(args) != 3 {
				client.reply(writeError, "ERR wrong number of arguments for 'publish'")
				continue
			}
			delivered := s.broadcast(args[1], args[2])
			client.mu.Lock()
			writeInteger(client.writer, int64(delivered))
			client.writer.Flush()
			client.mu.Unlock()
		default:
			// HELLO and friends land here; an error reply makes the
			// client fall back to RESP2 and carry on.
			client.reply(writeError, "ERR unsupported command")
		}
	}
}

func (s *Server) broadcast(channel, payload string) int {
	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	delivered := 0
	for _, conn := range conns {
		conn.mu.Lock()
		if _, subscribed := conn.channels[channel]; subscribed {
			writePush(conn.writer, "message", channel, payload)
			conn.writer.Flush()
			delivered++
		}
		conn.mu.Unlock()
	}
	return delivered
}

func (c *clientConn) reply(write func(*bufio.Writer, string), value string) {
	c.mu.Lock()
	write(c.writer, value)
	c.writer.Flush()
	c.mu.Unlock()
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, length+2)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func writeSimpleString(w *bufio.Writer, value string) {
	fmt.Fprintf(w, "+%s\r\n", value)
}

func writeError(w *bufio.Writer, message string) {
	fmt.Fprintf(w, "-%s\r\n", message)
}

func writeInteger(w *bufio.Writer, value int64) {
	fmt.Fprintf(w, ":%d\r\n", value)
}

func writeBulkString(w *bufio.Writer, value string) {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
}

// writePush emits the three-element array shape pub/sub clients expect:
// kind, channel, then a payload string or a subscription count.
func writePush(w *bufio.Writer, kind, channel string, payload interface{}) {
	fmt.Fprint(w, "*3\r\n")
	writeBulkString(w, kind)
	writeBulkString(w, channel)
	switch v := payload.(type) {
	case string:
		writeBulkString(w, v)
	case int64:
		writeInteger(w, v)
	}
}

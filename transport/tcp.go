package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/corebus/dbus/sasl"
)

// DialTCP connects to the bus listening at addr (host:port).
//
// TCP transports carry no peer-credential information, so EXTERNAL
// authentication is not available; DBUS_COOKIE_SHA1 is tried instead.
// TCP transports also never carry file descriptors: GetFiles always
// fails and WriteWithFiles rejects any non-empty fds slice.
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	ret := &tcpTransport{conn: conn}
	ret.buf = bufio.NewReader(conn)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := ret.conn.SetDeadline(deadline); err != nil {
		ret.Close()
		return nil, err
	}
	if err := ret.auth(); err != nil {
		ret.Close()
		return nil, err
	}
	if err := ret.conn.SetDeadline(time.Time{}); err != nil {
		ret.Close()
		return nil, err
	}

	return ret, nil
}

type tcpTransport struct {
	conn net.Conn
	buf  *bufio.Reader
	pre  []byte
}

func (t *tcpTransport) Read(bs []byte) (int, error) {
	if len(t.pre) > 0 {
		n := copy(bs, t.pre)
		t.pre = t.pre[n:]
		return n, nil
	}
	return t.buf.Read(bs)
}

func (t *tcpTransport) Write(bs []byte) (int, error) {
	return t.conn.Write(bs)
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) GetFiles(n int) ([]*os.File, error) {
	if n == 0 {
		return nil, nil
	}
	return nil, errors.New("tcp transport cannot carry file descriptors")
}

func (t *tcpTransport) WriteWithFiles(bs []byte, fds []*os.File) (int, error) {
	if len(fds) != 0 {
		return 0, errors.New("tcp transport cannot carry file descriptors")
	}
	return t.Write(bs)
}

func (t *tcpTransport) auth() error {
	client := sasl.NewClient(t.conn, sasl.CookieSHA1{}, sasl.Anonymous{})
	if err := client.Authenticate(); err != nil {
		return fmt.Errorf("SASL handshake failed: %w", err)
	}
	t.pre = client.Leftover()
	return nil
}

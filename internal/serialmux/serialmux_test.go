package serialmux

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// startMonitor runs Monitor until the test ends.
func startMonitor[T SerialPorter](t *testing.T, mux *SerialMux[T]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	t.Cleanup(func() {
		cancel()
		mux.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Monitor did not exit")
		}
	})
}

func TestSubscribeReceivesLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()
	startMonitor(t, mux)

	port.AddReadData([]byte("Horus 0.2 ['$' for help]\r\nok\n"))

	for _, ch := range []chan string{ch1, ch2} {
		assert.Equal(t, "Horus 0.2 ['$' for help]", <-ch)
		assert.Equal(t, "ok", <-ch)
	}

	mux.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open)
	mux.Unsubscribe(id1) // second call is a no-op
}

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("M17"))
	require.NoError(t, mux.SendCommand("G1X0.45\n"))
	assert.Equal(t, "M17\nG1X0.45\n", string(port.GetWrittenData()))

	port.SetWriteError(errors.New("boom"))
	assert.Error(t, mux.SendCommand("M18"))
}

func TestExec(t *testing.T) {
	port := NewTestableSerialPort()
	port.Responder = func(line string) string {
		switch line {
		case "M17":
			return "ok"
		case "G1X5":
			return "echo: busy\nok"
		case "M99":
			return "error: unknown command"
		}
		return ""
	}
	mux := NewSerialMux(port)
	startMonitor(t, mux)
	ctx := context.Background()

	reply, err := mux.Exec(ctx, "M17", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)

	reply, err = mux.Exec(ctx, "G1X5", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)

	_, err = mux.Exec(ctx, "M99", time.Second)
	assert.ErrorIs(t, err, ErrCommandRejected)

	_, err = mux.Exec(ctx, "M0", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrReplyTimeout)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = mux.Exec(cctx, "M0", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecAfterClose(t *testing.T) {
	port := NewOKSerialPort()
	mux := NewSerialMux(port)
	require.NoError(t, mux.Close())
	require.NoError(t, mux.Close())
	assert.True(t, port.IsClosed())

	_, err := mux.Exec(context.Background(), "M17", time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	_, ch := mux.Subscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestMonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	port.SetReadError(io.ErrUnexpectedEOF)

	err := mux.Monitor(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		line string
		want ReplyKind
	}{
		{"ok", ReplyOK},
		{" OK \r", ReplyOK},
		{"ok T:20", ReplyOK},
		{"okay", ReplyOther},
		{"error: bad", ReplyError},
		{"Error", ReplyError},
		{"!! alarm", ReplyError},
		{"Horus 0.2", ReplyOther},
		{"", ReplyOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyReply(tt.line), "line %q", tt.line)
	}
}

func TestPortOptions(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.EvenParity}, mode)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.SerialMode()
		assert.Error(t, err, "%+v", bad)
	}
}

// localHostRequest creates an httptest request that appears to come from
// localhost, which tsweb.Debugger requires.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"M70T1"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "M70T1")
	assert.Equal(t, "M70T1\n", string(port.GetWrittenData()))

	req = localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=+"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command-api", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Scanner board console")
}

func TestAdminRoutes_Tail(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	startMonitor(t, mux)

	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ping, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", ping)

	port.AddReadData([]byte("ok\n"))
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			assert.Equal(t, "data: ok\n", line)
			break
		}
	}
}

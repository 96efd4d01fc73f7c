package protocol

import (
	"io"
	"log/slog"
)

// Writer sends catalog replies to one client connection. A failed socket
// write is logged and swallowed; a client that vanished mid-reply must
// never take the server down with it.
type Writer struct {
	conn   io.Writer
	logger *slog.Logger
}

// NewWriter creates a reply writer for conn.
func NewWriter(conn io.Writer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{conn: conn, logger: logger}
}

// Send writes the reply line for code with no extra text.
func (w *Writer) Send(code Code) {
	w.SendExtra(code, "")
}

// SendExtra writes the reply line for code with extra text appended to
// the catalog prefix.
func (w *Writer) SendExtra(code Code, extra string) {
	if _, err := io.WriteString(w.conn, Render(code, extra)); err != nil {
		w.logger.Error("writing reply", "code", string(code), "error", err)
	}
}

// SendRaw writes s followed by CRLF with no catalog prefix. Used for the
// QUIT farewell.
func (w *Writer) SendRaw(s string) {
	if _, err := io.WriteString(w.conn, s+"\r\n"); err != nil {
		w.logger.Error("writing reply", "error", err)
	}
}

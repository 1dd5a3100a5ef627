package devices

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	esc = 0x1B
	gs  = 0x1D
)

var (
	cmdReset         = []byte{esc, '@'}
	cmdAlignLeft     = []byte{esc, 'a', 0}
	cmdAlignCenter   = []byte{esc, 'a', 1}
	cmdBoldOn        = []byte{esc, 'E', 1}
	cmdBoldOff       = []byte{esc, 'E', 0}
	cmdDoubleSizeOn  = []byte{gs, '!', 0x11}
	cmdDoubleSizeOff = []byte{gs, '!', 0x00}
	cmdCut           = []byte{esc, 'm'}
)

// codePages maps receipt encodings to their ESC t table number.
var codePages = map[string]struct {
	table   byte
	charmap *charmap.Charmap
}{
	"cp852": {table: 18, charmap: charmap.CodePage852},
}

// escposWriter accumulates a command stream. Text goes through the
// configured encoder; UTF-8 is written as is.
type escposWriter struct {
	buf     bytes.Buffer
	encoder *encoding.Encoder
}

func newESCPOSWriter(enc string) *escposWriter {
	w := &escposWriter{}
	w.command(cmdReset)

	if cp, ok := codePages[strings.ToLower(strings.TrimSpace(enc))]; ok {
		w.encoder = encoding.ReplaceUnsupported(cp.charmap.NewEncoder())
		w.command([]byte{esc, 't', cp.table})
	}

	return w
}

func (w *escposWriter) command(cmd []byte) {
	w.buf.Write(cmd)
}

// text writes printable text. Control bytes in s are replaced with spaces
// so user data can neither break lines nor smuggle in commands.
func (w *escposWriter) text(s string) {
	s = printable(s)
	if w.encoder != nil {
		if encoded, err := w.encoder.String(s); err == nil {
			s = encoded
		}
	}
	w.buf.WriteString(s)
}

func (w *escposWriter) line(s string) {
	w.text(s)
	w.buf.WriteByte('\n')
}

func (w *escposWriter) feed(n int) {
	for i := 0; i < n; i++ {
		w.buf.WriteByte('\n')
	}
}

func (w *escposWriter) bytes() []byte {
	return w.buf.Bytes()
}

func printable(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return ' '
		}
		return r
	}, s)
}

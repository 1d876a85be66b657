// Package shell is the serial diagnostic shell. Commands are single
// newline-terminated tokens; every command gets exactly one reply line.
package shell

import (
	"io"
)

// MaxLine is the longest accepted command line.
const MaxLine = 32

// Target is what the shell controls.
type Target interface {
	StartLog() error
	PauseLog() error
	ResumeLog() error
	StopLog() error
	// ToggleLive flips live streaming and returns the new state.
	ToggleLive() bool
	// AppendDump appends the current snapshot as a CSV row.
	AppendDump(b []byte) []byte
	// AppendStatus appends a one-line status summary.
	AppendStatus(b []byte) []byte
	Files() ([]string, error)
}

// ByteReader is a non-blocking serial input such as machine.Serial.
type ByteReader interface {
	Buffered() int
	ReadByte() (byte, error)
}

type command struct {
	name string
	run  func(s *Shell)
}

var commands []command

func init() {
	commands = []command{
		{"START", (*Shell).start},
		{"PAUSE", (*Shell).pause},
		{"RESUME", (*Shell).resume},
		{"LIVE", (*Shell).live},
		{"STOP", (*Shell).stop},
		{"DUMP", (*Shell).dump},
		{"STATUS", (*Shell).status},
		{"LIST", (*Shell).list},
		{"HELP", (*Shell).help},
	}
}

// Shell assembles lines from serial input and dispatches them.
type Shell struct {
	target Target
	out    io.Writer

	line     [MaxLine]byte
	n        int
	overflow bool
	reply    []byte
}

// New returns a shell replying on out.
func New(target Target, out io.Writer) *Shell {
	return &Shell{target: target, out: out, reply: make([]byte, 0, 256)}
}

// Poll consumes whatever input is buffered without blocking.
func (s *Shell) Poll(in ByteReader) {
	for in.Buffered() > 0 {
		b, err := in.ReadByte()
		if err != nil {
			return
		}
		s.Feed(b)
	}
}

// Feed processes one input byte. Partial lines are kept until the
// newline arrives; carriage returns are ignored.
func (s *Shell) Feed(b byte) {
	switch b {
	case '\r':
		return
	case '\n':
		s.dispatch()
		s.n, s.overflow = 0, false
		return
	}
	if s.n == len(s.line) {
		s.overflow = true
		return
	}
	if 'a' <= b && b <= 'z' {
		b -= 'a' - 'A'
	}
	s.line[s.n] = b
	s.n++
}

func (s *Shell) dispatch() {
	tok := trim(s.line[:s.n])
	if len(tok) == 0 && !s.overflow {
		return
	}
	if s.overflow {
		s.replyErr("line too long")
		return
	}
	for i := range commands {
		if commands[i].name == string(tok) {
			commands[i].run(s)
			return
		}
	}
	s.replyErr("unknown command")
}

func trim(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func (s *Shell) send() {
	s.reply = append(s.reply, '\n')
	s.out.Write(s.reply)
	s.reply = s.reply[:0]
}

func (s *Shell) replyOK(msg string) {
	s.reply = append(s.reply[:0], "OK"...)
	if msg != "" {
		s.reply = append(s.reply, ' ')
		s.reply = append(s.reply, msg...)
	}
	s.send()
}

func (s *Shell) replyErr(msg string) {
	s.reply = append(s.reply[:0], "ERR "...)
	s.reply = append(s.reply, msg...)
	s.send()
}

func (s *Shell) result(err error, ok string) {
	if err != nil {
		s.replyErr(err.Error())
		return
	}
	s.replyOK(ok)
}

func (s *Shell) start()  { s.result(s.target.StartLog(), "logging") }
func (s *Shell) pause()  { s.result(s.target.PauseLog(), "paused") }
func (s *Shell) resume() { s.result(s.target.ResumeLog(), "logging") }
func (s *Shell) stop()   { s.result(s.target.StopLog(), "stopped") }

func (s *Shell) live() {
	if s.target.ToggleLive() {
		s.replyOK("live on")
		return
	}
	s.replyOK("live off")
}

func (s *Shell) dump() {
	s.reply = s.target.AppendDump(s.reply[:0])
	// AppendDump rows end in a newline already.
	if n := len(s.reply); n > 0 && s.reply[n-1] == '\n' {
		s.reply = s.reply[:n-1]
	}
	s.send()
}

func (s *Shell) status() {
	s.reply = append(s.reply[:0], "OK "...)
	s.reply = s.target.AppendStatus(s.reply)
	s.send()
}

func (s *Shell) list() {
	files, err := s.target.Files()
	if err != nil {
		s.replyErr(err.Error())
		return
	}
	s.reply = append(s.reply[:0], "OK"...)
	for _, f := range files {
		s.reply = append(s.reply, ' ')
		s.reply = append(s.reply, f...)
	}
	s.send()
}

func (s *Shell) help() {
	s.reply = append(s.reply[:0], "OK"...)
	for _, c := range commands {
		s.reply = append(s.reply, ' ')
		s.reply = append(s.reply, c.name...)
	}
	s.send()
}

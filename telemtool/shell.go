package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

const (
	shellBaud     = 115200
	shellDataBits = 8
)

var errNoReply = errors.New("no reply before timeout")

func shellCmd() *cobra.Command {
	var (
		port    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "shell --port <dev> [command]...",
		Short: "Send shell commands and print the replies",
		Long: `Each argument is sent as one command line. With no arguments, lines
are read from stdin until EOF. Live stream rows arriving between replies
are printed as they come.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := serial.Open(port, &serial.Mode{
				BaudRate: shellBaud,
				DataBits: shellDataBits,
			})
			if err != nil {
				return err
			}
			defer p.Close()
			if err := p.SetReadTimeout(timeout); err != nil {
				return err
			}

			c := newConn(p)
			send := func(line string) {
				reply, err := c.exchange(line, func(row string) { pterm.FgGray.Println(row) })
				switch {
				case err != nil:
					pterm.Error.Printfln("%s: %v", line, err)
				case strings.HasPrefix(reply, "ERR"):
					pterm.Error.Println(reply)
				default:
					pterm.Success.Println(reply)
				}
			}

			if len(args) > 0 {
				for _, a := range args {
					send(a)
				}
				return nil
			}
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				if line := strings.TrimSpace(sc.Text()); line != "" {
					send(line)
				}
			}
			return sc.Err()
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "/dev/ttyACM0", "serial device")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "reply timeout")
	return cmd
}

// conn exchanges command lines with the firmware shell.
type conn struct {
	w io.Writer
	r *bufio.Reader
}

func newConn(rw io.ReadWriter) *conn {
	return &conn{w: rw, r: bufio.NewReader(timeoutReader{rw})}
}

// exchange sends one command and returns its reply. The shell answers
// every command with exactly one OK or ERR line; anything else is live
// stream output and goes to stream.
func (c *conn) exchange(line string, stream func(string)) (string, error) {
	if _, err := io.WriteString(c.w, line+"\n"); err != nil {
		return "", err
	}
	for {
		s, err := c.r.ReadString('\n')
		if err != nil {
			return "", err
		}
		s = strings.TrimRight(s, "\r\n")
		if strings.HasPrefix(s, "OK") || strings.HasPrefix(s, "ERR") {
			return s, nil
		}
		if s != "" && stream != nil {
			stream(s)
		}
	}
}

// timeoutReader turns the empty read a serial port returns on timeout into
// an error, so a silent device ends the exchange.
type timeoutReader struct{ r io.Reader }

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil {
		return 0, errNoReply
	}
	return n, err
}

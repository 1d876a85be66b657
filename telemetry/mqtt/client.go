//go:build tinygo

package mqtt

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"github.com/soypat/lneto/tcp"
	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/harveysanders/miatadash/telemetry/cyw43439"
)

// Client keeps a broker session alive and publishes everything that
// arrives on a Feed's channel.
type Client struct {
	ID                string
	Topic             string
	Username          string
	Password          string
	Timeout           time.Duration
	TCPBufSize        int
	HeartbeatInterval time.Duration
	Logger            *slog.Logger

	// OnState, if set, is told whenever the session goes up or down.
	OnState func(connected bool)
}

// Run connects to addr ("host:port") over stack and publishes samples
// from c until the stack fails. Broker disconnects are retried forever.
func (c *Client) Run(stack *cyw43439.Stack, addr string, samples <-chan Telemetry) error {
	const pollTime = 5 * time.Millisecond
	if c.Logger == nil {
		c.Logger = discard()
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return errors.New("parse " + addr + ":" + err.Error())
	}
	port := parsePort(portStr)
	if port == 0 {
		return errors.New("parse " + addr + ": bad port")
	}

	lstack := stack.LnetoStack()
	rstack := lstack.StackRetrying(pollTime)

	ip, err := netip.ParseAddr(host)
	if err != nil {
		c.Logger.Info("dns:resolving", slog.String("host", host))
		addrs, err := rstack.DoLookupIP(host, 5*time.Second, 3)
		if err != nil {
			return errors.New("dns " + host + ":" + err.Error())
		}
		if len(addrs) == 0 {
			return errors.New("dns " + host + ": no addresses")
		}
		ip = addrs[0]
	}
	server := netip.AddrPortFrom(ip, port)
	c.Logger.Info("mqtt:broker", slog.String("addr", server.String()))

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(_ mqtt.Header, vp mqtt.VariablesPublish, _ io.Reader) error {
			c.Logger.Debug("mqtt:message", slog.String("topic", string(vp.TopicName)))
			return nil
		},
	})
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(c.ID))
	if c.Username != "" {
		varconn.Username = []byte(c.Username)
		if c.Password != "" {
			varconn.Password = []byte(c.Password)
		}
	}
	pub := &Publisher{Session: client, Topic: c.Topic}

	var conn tcp.Conn
	err = conn.Configure(tcp.ConnConfig{
		RxBuf:             make([]byte, c.TCPBufSize),
		TxBuf:             make([]byte, c.TCPBufSize),
		TxPacketQueueSize: 3,
	})
	if err != nil {
		return errors.New("tcp configure:" + err.Error())
	}
	closeConn := func(reason string) {
		c.Logger.Warn("tcp:closing", slog.String("reason", reason))
		conn.Close()
		for i := 0; i < 50 && !conn.State().IsClosed(); i++ {
			time.Sleep(100 * time.Millisecond)
		}
		conn.Abort()
		c.setState(false)
	}
	nextID := func() uint16 { return uint16(lstack.Prand32()) }

	for {
		localPort := uint16(lstack.Prand32()>>17) + 1024
		if err := rstack.DoDialTCP(&conn, localPort, server, 10*time.Second, 3); err != nil {
			c.Logger.Error("tcp:dial-failed", slog.String("err", err.Error()))
			closeConn("dial failed")
			time.Sleep(2 * time.Second)
			continue
		}
		conn.SetDeadline(time.Now().Add(c.Timeout))
		if err := client.StartConnect(&conn, &varconn); err != nil {
			c.Logger.Error("mqtt:connect-failed", slog.String("err", err.Error()))
			closeConn("connect failed")
			continue
		}
		for retries := 50; retries > 0 && !client.IsConnected(); retries-- {
			time.Sleep(100 * time.Millisecond)
			if err := client.HandleNext(); err != nil {
				c.Logger.Debug("mqtt:handle-next", slog.String("err", err.Error()))
			}
		}
		if !client.IsConnected() {
			c.Logger.Error("mqtt:connect-timeout", slog.Any("reason", client.Err()))
			closeConn("connect timed out")
			continue
		}
		c.Logger.Info("mqtt:connected")
		c.setState(true)

		lastIO := time.Now()
		for client.IsConnected() {
			select {
			case t := <-samples:
				conn.SetDeadline(time.Now().Add(c.Timeout))
				if err := pub.Publish(t, nextID()); err != nil {
					c.Logger.Error("mqtt:publish-failed", slog.String("err", err.Error()))
					continue
				}
				lastIO = time.Now()
			default:
				if time.Since(lastIO) >= c.HeartbeatInterval {
					conn.SetDeadline(time.Now().Add(c.Timeout))
					if err := client.HandleNext(); err != nil {
						c.Logger.Debug("mqtt:handle-next", slog.String("err", err.Error()))
					}
					lastIO = time.Now()
				}
				runtime.Gosched()
			}
		}
		c.Logger.Error("mqtt:disconnected", slog.Any("reason", client.Err()))
		closeConn("disconnected")
	}
}

func (c *Client) setState(up bool) {
	if c.OnState != nil {
		c.OnState(up)
	}
}

//go:build tinygo

// Package cyw43439 brings up the Pico W radio for the telemetry uplink:
// join the configured network, get an address and keep packets moving.
//
// Adapted from the soypat/cyw43439 examples/common package.
package cyw43439

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/lneto/x/xnet"
)

const mtu = cyw43439.MTU

// Set with -ldflags "-X .../cyw43439.ssid=... -X .../cyw43439.pass=...".
var (
	ssid string
	pass string
)

// Configured reports whether network credentials were linked in. Without
// them the uplink stays off.
func Configured() bool { return ssid != "" }

// Config configures Up.
type Config struct {
	Hostname string
	// StaticAddr is used when DHCP does not answer. Zero means DHCP only.
	StaticAddr netip.Addr
	// JoinAttempts bounds network join retries; 0 retries forever.
	JoinAttempts int
	Logger       *slog.Logger
}

// Stack is the lneto stack bound to the radio.
type Stack struct {
	s       xnet.StackAsync
	dev     *cyw43439.Device
	log     *slog.Logger
	sendbuf []byte
}

// Up initializes the radio, joins the network and configures addressing.
// The stack is already being polled by a goroutine when Up returns.
func Up(cfg Config) (*Stack, error) {
	if cfg.Hostname == "" {
		return nil, errors.New("empty hostname")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}

	start := time.Now()
	dev := cyw43439.NewPicoWDevice()
	dev.SetLogger(logger)
	if err := dev.Init(cyw43439.DefaultWifiConfig()); err != nil {
		return nil, errors.New("wifi init:" + err.Error())
	}
	logger.Info("wifi:init", slog.Duration("took", time.Since(start)))

	for attempt := 1; ; attempt++ {
		err := dev.JoinWPA2(ssid, pass)
		if err == nil {
			break
		}
		logger.Warn("wifi:join-failed", slog.String("ssid", ssid), slog.Int("attempt", attempt), slog.String("err", err.Error()))
		if cfg.JoinAttempts > 0 && attempt >= cfg.JoinAttempts {
			return nil, errors.New("wifi join:" + err.Error())
		}
		time.Sleep(5 * time.Second)
	}
	mac, err := dev.HardwareAddr6()
	if err != nil {
		return nil, errors.New("wifi mac:" + err.Error())
	}
	logger.Info("wifi:joined", slog.String("ssid", ssid), slog.String("mac", net.HardwareAddr(mac[:]).String()))

	st := &Stack{dev: dev, log: logger, sendbuf: make([]byte, mtu)}
	err = st.s.Reset(xnet.StackConfig{
		Hostname:        cfg.Hostname,
		MaxTCPConns:     1,
		RandSeed:        time.Since(start).Nanoseconds(),
		HardwareAddress: mac,
		MTU:             mtu,
	})
	if err != nil {
		return nil, errors.New("stack reset:" + err.Error())
	}
	dev.RecvEthHandle(func(pkt []byte) error {
		return st.s.Demux(pkt, 0)
	})

	// DHCP needs the stack polled while it runs.
	go st.Run()
	if err := st.dhcp(cfg.StaticAddr); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Stack) dhcp(static netip.Addr) error {
	req := [4]byte{}
	if static.Is4() {
		req = static.As4()
	}
	rstack := s.s.StackRetrying(50 * time.Millisecond)
	res, err := rstack.DoDHCPv4(req, 3*time.Second, 3)
	if err != nil {
		if static.Is4() && !static.IsUnspecified() {
			s.log.Warn("dhcp:fallback-static", slog.String("ip", static.String()), slog.String("err", err.Error()))
			s.s.SetIPAddr(static)
			return nil
		}
		return errors.New("dhcp:" + err.Error())
	}
	if err := s.s.AssimilateDHCPResults(res); err != nil {
		return errors.New("dhcp assimilate:" + err.Error())
	}
	gw, err := rstack.DoResolveHardwareAddress6(res.Router, 500*time.Millisecond, 4)
	if err != nil {
		return errors.New("resolve gateway:" + err.Error())
	}
	s.s.SetGateway6(gw)
	s.log.Info("dhcp:bound",
		slog.String("ip", res.AssignedAddr.String()),
		slog.String("router", res.Router.String()),
		slog.Uint64("lease_s", uint64(res.TLease)),
	)
	return nil
}

// Run moves packets between the radio and the stack forever.
func (s *Stack) Run() {
	for {
		sent, recv, _ := s.pollOnce()
		if sent == 0 && recv == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		runtime.Gosched()
	}
}

func (s *Stack) pollOnce() (sent, recv int, err error) {
	got, errRecv := s.dev.PollOne()
	if got {
		recv = 1
	}
	if errRecv != nil {
		s.log.Debug("wifi:poll", slog.String("err", errRecv.Error()))
	}
	sent, err = s.s.Encapsulate(s.sendbuf, -1, 0)
	if err != nil {
		s.log.Debug("wifi:encapsulate", slog.Int("plen", sent), slog.String("err", err.Error()))
		return sent, recv, err
	}
	if sent == 0 {
		return 0, recv, errRecv
	}
	if err = s.dev.SendEth(s.sendbuf[:sent]); err != nil {
		s.log.Debug("wifi:send", slog.Int("plen", sent), slog.String("err", err.Error()))
	}
	return sent, recv, err
}

// LnetoStack exposes the stack for TCP and DNS.
func (s *Stack) LnetoStack() *xnet.StackAsync { return &s.s }

// Addr is the current IP address.
func (s *Stack) Addr() netip.Addr { return s.s.Addr() }

//go:build rp2040 || rp2350

//----------------------------------------------------------------------
// This file is part of wifiecho.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifiecho is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifiecho is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifiecho

import (
	"errors"
	"io"
	"log/slog"
	"machine"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

var errNotPicoW = errors.New("device has no CYW43439")

// Raspberry Pico W / Pico2 W
type PicoWDevice struct {
	ref *cyw43439.Device // reference to device
}

// LED on or off
func (dev *PicoWDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Console is the USB serial.
func (dev *PicoWDevice) Console() io.Writer {
	return machine.Serial
}

// Initialize device
func InitDevice() Device {
	dev := new(PicoWDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	return dev
}

// BoardDevice is a Pico without wireless chip (modem variant).
type BoardDevice struct {
	led machine.Pin
}

// InitBoardDevice configures the on-board LED.
func InitBoardDevice() Device {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &BoardDevice{led: led}
}

// LED on or off
func (dev *BoardDevice) LED(on bool) {
	dev.led.Set(on)
}

// Console is the USB serial.
func (dev *BoardDevice) Console() io.Writer {
	return machine.Serial
}

//----------------------------------------------------------------------

const mtu = cyw43439.MTU

// NativeConfig for the CYW43439 control plane.
type NativeConfig struct {
	// DHCP requested hostname.
	Hostname string
	// DHCP requested IP address (optional).
	RequestedIP string
	// Number of TCP ports to open for the stack.
	TCPPorts uint16
	// Firmware images (embedded images if nil).
	Firmware FirmwareSource

	Stats  *Stats
	Logger *slog.Logger
}

// NewPicoWControl initializes the wireless chip and returns the native
// control plane for it. The IP stack is started after the join.
func NewPicoWControl(dev Device, cfg NativeConfig) (*NativeChip, error) {
	d, ok := dev.(*PicoWDevice)
	if !ok {
		return nil, errNotPicoW
	}
	logger := orNop(cfg.Logger)
	var reqAddr netip.Addr
	if cfg.RequestedIP != "" {
		var err error
		if reqAddr, err = netip.ParseAddr(cfg.RequestedIP); err != nil {
			return nil, err
		}
	}
	if cfg.TCPPorts == 0 {
		cfg.TCPPorts = 1
	}

	wificfg := cyw43439.DefaultWifiConfig()
	if cfg.Firmware != nil {
		fw, clm, err := cfg.Firmware.Images()
		if err != nil {
			return nil, err
		}
		wificfg.Firmware, wificfg.CLM = fw, clm
	}
	logger.Info("initializing pico W device...")
	start := time.Now()
	if err := d.ref.Init(wificfg); err != nil {
		return nil, err
	}
	logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(start)))

	factory := func() (Stack, error) {
		s, err := newPicoStack(d.ref, reqAddr, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return NewNativeChip(d.ref, factory, cfg.Stats, logger), nil
}

// picoStack is the seqs IP stack on top of the CYW43439.
type picoStack struct {
	stack *stacks.PortStack
	dhcp  *stacks.DHCPClient
	bound bool
	log   *slog.Logger

	listeners map[uint16]*stacks.TCPListener
}

func newPicoStack(dev *cyw43439.Device, reqAddr netip.Addr, cfg NativeConfig, log *slog.Logger) (*picoStack, error) {
	mac, err := dev.HardwareAddr6()
	if err != nil {
		return nil, err
	}
	log.Info("starting network stack", slog.String("mac", net.HardwareAddr(mac[:]).String()))
	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: 1, // DHCP client
		MaxOpenPortsTCP: int(cfg.TCPPorts),
		MTU:             mtu,
		Logger:          log,
	})
	dev.RecvEthHandle(stack.RecvEth)

	// Begin asynchronous packet handling.
	go nicLoop(dev, stack, log)

	client := stacks.NewDHCPClient(stack, dhcp.DefaultClientPort)
	err = client.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: reqAddr,
		Xid:           uint32(time.Now().Nanosecond()),
		Hostname:      cfg.Hostname,
	})
	if err != nil {
		return nil, err
	}
	return &picoStack{stack: stack, dhcp: client, log: log}, nil
}

// Configured returns true once DHCP is bound. The offered address is
// assigned to the stack on the first positive poll.
func (s *picoStack) Configured() bool {
	if s.bound {
		return true
	}
	if s.dhcp.State() != dhcp.StateBound {
		return false
	}
	ip := s.dhcp.Offer()
	s.stack.SetAddr(ip)
	s.bound = true
	s.log.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(s.dhcp.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("gateway", s.dhcp.Gateway().String()),
		slog.String("router", s.dhcp.Router().String()),
		slog.String("dhcp", s.dhcp.DHCPServer().String()),
		slog.Duration("lease", s.dhcp.IPLeaseTime()),
	)
	return true
}

// Listen returns a single-connection TCP listener on the port. The
// seqs listener is created once per port and kept across sessions;
// with one connection slot it takes no other client during a session.
func (s *picoStack) Listen(port uint16) (net.Listener, error) {
	if lst, ok := s.listeners[port]; ok {
		return portListener{lst}, nil
	}
	lst, err := stacks.NewTCPListener(s.stack, stacks.TCPListenerConfig{
		MaxConnections: 1,
		ConnTxBufSize:  BufferSize,
		ConnRxBufSize:  BufferSize,
	})
	if err != nil {
		return nil, err
	}
	if err = lst.StartListening(port); err != nil {
		return nil, err
	}
	if s.listeners == nil {
		s.listeners = make(map[uint16]*stacks.TCPListener)
	}
	s.listeners[port] = lst
	return portListener{lst}, nil
}

// portListener leaves the port of a kept seqs listener open on Close.
type portListener struct {
	*stacks.TCPListener
}

func (portListener) Close() error {
	return nil
}

// nicLoop moves packets between chip and stack.
func nicLoop(dev *cyw43439.Device, stack *stacks.PortStack, log *slog.Logger) {
	const (
		queueSize  = 3 // outgoing packets per round
		maxRetries = 3 // send attempts before a packet is dropped
	)
	var (
		queue   [queueSize][mtu]byte
		size    [queueSize]int
		retries [queueSize]int
	)
	for {
		// receive
		gotPacket, err := dev.PollOne()
		if err != nil {
			log.Warn("poll error", slog.String("err", err.Error()))
		}

		// collect outgoing packets
		for i := range queue {
			if retries[i] != 0 {
				continue
			}
			if size[i], err = stack.HandleEth(queue[i][:]); err != nil {
				log.Warn("stack error", slog.String("err", err.Error()))
				size[i] = 0
				continue
			}
			if size[i] == 0 {
				break
			}
		}
		if size == [queueSize]int{} {
			if !gotPacket {
				// nothing to do in either direction
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// send
		for i := range queue {
			if size[i] <= 0 {
				continue
			}
			if err = dev.SendEth(queue[i][:size[i]]); err != nil {
				if retries[i]++; retries[i] <= maxRetries {
					continue
				}
				log.Warn("dropped outgoing packet", slog.String("err", err.Error()))
			}
			size[i], retries[i] = 0, 0
		}
	}
}

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
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackCP listens on ephemeral loopback ports.
type loopbackCP struct {
	HostStack
	joinErr error
	onJoin  func()
	joined  []Credentials
	ports   chan uint16
	addrs   chan string
}

func newLoopbackCP() *loopbackCP {
	return &loopbackCP{
		HostStack: HostStack{Addr: "127.0.0.1"},
		ports:     make(chan uint16, 8),
		addrs:     make(chan string, 8),
	}
}

func (c *loopbackCP) Name() string { return "loopback" }

func (c *loopbackCP) Join(cred Credentials) error {
	c.joined = append(c.joined, cred)
	if c.onJoin != nil {
		c.onJoin()
	}
	return c.joinErr
}

func (c *loopbackCP) Listen(port uint16) (net.Listener, error) {
	lst, err := c.HostStack.Listen(0)
	if err == nil {
		c.ports <- port
		c.addrs <- lst.Addr().String()
	}
	return lst, err
}

func TestSupervisorServesEcho(t *testing.T) {
	cp := newLoopbackCP()
	dev := new(HostDevice)
	stats := new(Stats)
	settings, err := NewSettings("lab", "secret", "", "", "", "")
	require.NoError(t, err)
	sv := &Supervisor{CP: cp, Device: dev, Stats: stats, Settings: settings}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Run(ctx) }()

	var addr string
	select {
	case addr = <-cp.addrs:
	case <-time.After(2 * time.Second):
		t.Fatal("echo service not listening")
	}
	assert.EqualValues(t, EchoPort, <-cp.ports)
	require.Equal(t, []Credentials{settings.Credentials}, cp.joined)

	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 5)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.EqualValues(t, 1, stats.Sessions())
}

func TestSupervisorJoinFailure(t *testing.T) {
	cp := newLoopbackCP()
	cp.joinErr = errors.New("stack setup failed")
	state := new(Status)
	sv := &Supervisor{CP: cp, Status: state}

	assert.ErrorIs(t, sv.Run(context.Background()), cp.joinErr)
	code, _ := state.Get()
	assert.Equal(t, StatDHCP, code)
	assert.Empty(t, cp.addrs)
}

func TestSupervisorSilentModem(t *testing.T) {
	m, port := newTestModem(t, "ATE0")
	state := new(Status)
	sv := &Supervisor{CP: m, Status: state}

	err := sv.Run(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	code, _ := state.Get()
	assert.Equal(t, StatMODEM, code)
	assert.Equal(t, "ATE0\r\n", port.sent())
}

func TestSupervisorJoinStatus(t *testing.T) {
	cp := newLoopbackCP()
	state := new(Status)
	var during int
	cp.onJoin = func() { during, _ = state.Get() }
	sv := &Supervisor{CP: cp, Status: state}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Run(ctx) }()
	select {
	case <-cp.addrs:
	case <-time.After(2 * time.Second):
		t.Fatal("echo service not listening")
	}
	cancel()
	<-done

	assert.Equal(t, StatJOIN, during)
	code, _ := state.Get()
	assert.Equal(t, StatOK, code)
}

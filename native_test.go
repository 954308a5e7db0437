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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChip fails the first n joins.
type fakeChip struct {
	fails int
	calls []Credentials
}

func (c *fakeChip) JoinWPA2(ssid, passphrase string) error {
	c.calls = append(c.calls, Credentials{SSID: ssid, Passphrase: passphrase})
	if len(c.calls) <= c.fails {
		return errors.New("status -1")
	}
	return nil
}

type pmChip struct {
	fakeChip
	psm int
	err error
}

func (c *pmChip) SetPowerSave() error {
	c.psm++
	return c.err
}

type fakeStack struct {
	up    bool
	ports []uint16
}

func (s *fakeStack) Configured() bool { return s.up }

func (s *fakeStack) Listen(port uint16) (net.Listener, error) {
	s.ports = append(s.ports, port)
	return newScriptListener(), nil
}

func TestNativeJoinRetries(t *testing.T) {
	cred := Credentials{SSID: "lab", Passphrase: "secret"}
	chip := &fakeChip{fails: 3}
	stack := new(fakeStack)
	made := 0
	stats := new(Stats)
	n := NewNativeChip(chip, func() (Stack, error) {
		made++
		return stack, nil
	}, stats, nil)

	require.NoError(t, n.Join(cred))
	require.Len(t, chip.calls, 4)
	for _, c := range chip.calls {
		assert.Equal(t, cred, c)
	}
	assert.EqualValues(t, 4, stats.JoinAttempts())
	assert.Equal(t, 1, made)
	assert.Equal(t, "native", n.Name())

	// stack is created once
	require.NoError(t, n.Join(cred))
	assert.Equal(t, 1, made)
}

func TestNativeOpenNetwork(t *testing.T) {
	chip := new(fakeChip)
	n := NewNativeChip(chip, func() (Stack, error) { return new(fakeStack), nil }, nil, nil)
	require.NoError(t, n.Join(Credentials{SSID: "cafe"}))
	require.Len(t, chip.calls, 1)
	assert.Empty(t, chip.calls[0].Passphrase)
}

func TestNativePowerSave(t *testing.T) {
	chip := &pmChip{err: errors.New("unsupported")}
	n := NewNativeChip(chip, func() (Stack, error) { return new(fakeStack), nil }, nil, nil)
	require.NoError(t, n.Join(Credentials{SSID: "lab", Passphrase: "secret"}))
	assert.Equal(t, 1, chip.psm)
}

func TestNativeStackError(t *testing.T) {
	boom := errors.New("no dhcp client")
	n := NewNativeChip(new(fakeChip), func() (Stack, error) { return nil, boom }, nil, nil)
	assert.ErrorIs(t, n.Join(Credentials{SSID: "lab"}), boom)
	assert.False(t, n.Configured())
}

func TestNativeNoStack(t *testing.T) {
	n := NewNativeChip(new(fakeChip), nil, nil, nil)
	assert.False(t, n.Configured())
	_, err := n.Listen(EchoPort)
	assert.ErrorIs(t, err, errNoStack)
}

func TestNativeListen(t *testing.T) {
	stack := new(fakeStack)
	n := NewNativeChip(new(fakeChip), func() (Stack, error) { return stack, nil }, nil, nil)
	require.NoError(t, n.Join(Credentials{SSID: "lab"}))

	assert.False(t, n.Configured())
	stack.up = true
	assert.True(t, n.Configured())

	lst, err := n.Listen(EchoPort)
	require.NoError(t, err)
	lst.Close()
	assert.Equal(t, []uint16{EchoPort}, stack.ports)
}

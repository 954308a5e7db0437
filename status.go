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
	"fmt"
	"sync/atomic"
	"time"
)

// status codes (number of LED blinks)
const (
	StatUNK    = iota // unknown status (init)
	StatOK            // processing active
	StatDEV           // device failure
	StatJOIN          // joining network (native join retries forever)
	StatDHCP          // network stack setup failed
	StatMODEM         // modem bring-up failed
	StatLISTEN        // failed to create listener
	StatPORT          // invalid port specified
	StatEXCP          // exception (panic) occured
)

var statNames = [...]string{
	"unknown", "ok", "device", "join", "dhcp", "modem", "listen", "port", "exception",
}

// StatusName returns a readable label for a status code.
func StatusName(code int) string {
	if code < 0 || code >= len(statNames) {
		return fmt.Sprintf("status(%d)", code)
	}
	return statNames[code]
}

// Status handler.
// Failure codes are blinked on the device LED; while the state is
// StatOK the LED is left to the echo service as connection indicator.
type Status struct {
	dev    Device       // reference to device
	curr   atomic.Int32 // current state
	repeat atomic.Int32 // current repeat counter
}

// NewStatus creates a new status display
func NewStatus(dev Device) (state *Status) {
	state = new(Status)
	state.dev = dev
	state.curr.Store(StatOK)
	go state.run()
	return
}

// blink LED <state> times; long blinks count five.
func (state *Status) run() {
	for {
		time.Sleep(5 * time.Second)
		num := state.curr.Load()
		if num == StatOK {
			continue
		}
		for num > 5 {
			state.dev.LED(true)
			time.Sleep(1000 * time.Millisecond)
			state.dev.LED(false)
			time.Sleep(300 * time.Millisecond)
			num -= 5
		}
		for range num {
			state.dev.LED(true)
			time.Sleep(150 * time.Millisecond)
			state.dev.LED(false)
			time.Sleep(150 * time.Millisecond)
		}
		if state.repeat.Add(-1) == 0 {
			state.curr.Store(StatOK)
		}
	}
}

// Set status and repeat <num> times (0 = forever).
func (state *Status) Set(flag, num int) {
	if state != nil {
		state.curr.Store(int32(flag))
		state.repeat.Store(int32(num))
	}
}

// Get current state and repeat counter
func (state *Status) Get() (int, int) {
	if state == nil {
		return StatUNK, 0
	}
	return int(state.curr.Load()), int(state.repeat.Load())
}

// String returns the current state for display.
func (state *Status) String() string {
	s, _ := state.Get()
	return StatusName(s)
}

// Trap critical failures (panic)
func (state *Status) Trap(t time.Duration) {
	s, _ := state.Get()
	if r := recover(); r != nil {
		fmt.Printf("EXCP: %v\n", r)
		if s == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if s == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(t)
}

package main

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"softpwm/core"
	"softpwm/firmware"
	"softpwm/host/mcu"
)

var (
	registerOnce sync.Once
	testPins     []*gpiotest.Pin
)

// registerTestPins adds GPIO40-43 to the periph registry once per process
func registerTestPins(c *qt.C) []*gpiotest.Pin {
	registerOnce.Do(func() {
		for n := 40; n < 44; n++ {
			p := &gpiotest.Pin{N: fmt.Sprintf("GPIO%d", n), Num: n}
			c.Assert(gpioreg.Register(p), qt.IsNil)
			testPins = append(testPins, p)
		}
	})
	return testPins
}

func TestPeriphGPIO(t *testing.T) {
	c := qt.New(t)
	pins := registerTestPins(c)
	g := NewPeriphGPIO()

	pins[0].Out(gpio.High)
	c.Assert(g.ConfigureOutput(40), qt.IsNil)
	c.Assert(pins[0].Read(), qt.Equals, gpio.Low)

	c.Assert(g.SetPin(40, true), qt.IsNil)
	level, err := g.GetPin(40)
	c.Assert(err, qt.IsNil)
	c.Assert(level, qt.Equals, true)

	c.Assert(g.ConfigureOutput(99), qt.ErrorMatches, "no pin GPIO99")
	_, err = g.GetPin(99)
	c.Assert(err, qt.ErrorMatches, "no pin GPIO99")
}

func TestTickRateFrom(t *testing.T) {
	c := qt.New(t)

	hz, err := tickRateFrom(10 * physic.KiloHertz)
	c.Assert(err, qt.IsNil)
	c.Assert(hz, qt.Equals, uint32(10000))

	_, err = tickRateFrom(50 * physic.KiloHertz)
	c.Assert(err, qt.ErrorMatches, `tick rate .* outside 2Hz\.\.20000Hz`)

	_, err = tickRateFrom(physic.Hertz)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestServeOverTCP(t *testing.T) {
	c := qt.New(t)
	pins := registerTestPins(c)

	fw := firmware.New(NewPeriphGPIO(), core.NewManualTimer(10000), "sbc-test")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)

	done := make(chan error, 1)
	go func() { done <- serve(ln, fw, func(string, ...interface{}) {}) }()
	c.Cleanup(func() {
		ln.Close()
		c.Check(<-done, qt.IsNil)
		fw.Close()
	})

	dial := func() *mcu.MCU {
		conn, err := net.Dial("tcp", ln.Addr().String())
		c.Assert(err, qt.IsNil)
		m := mcu.NewMCU()
		m.Timeout = 2 * time.Second
		m.Attach(conn)
		c.Assert(m.RetrieveDictionary(), qt.IsNil)
		return m
	}

	m := dial()
	c.Assert(m.GetDictionary().Config["MCU"], qt.Equals, "sbc-test")
	c.Assert(m.ConfigChannel(1, 41), qt.IsNil)
	c.Assert(m.SetChannel(1, 100, 100, true), qt.IsNil)
	c.Assert(pins[1].Read(), qt.Equals, gpio.High)

	// Disconnecting drives every channel LOW
	c.Assert(m.Close(), qt.IsNil)
	deadline := time.Now().Add(2 * time.Second)
	for pins[1].Read() == gpio.High && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Assert(pins[1].Read(), qt.Equals, gpio.Low)

	// A second host starts a fresh session
	m = dial()
	defer m.Close()
	c.Assert(m.ConfigChannel(1, 41), qt.IsNil)
	state, err := m.QueryChannel(1)
	c.Assert(err, qt.IsNil)
	c.Assert(state.Pin, qt.Equals, uint32(41))
	c.Assert(state.Active, qt.Equals, false)
}

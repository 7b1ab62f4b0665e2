// Command sbc runs the soft PWM firmware on a Linux board. Ticks come from
// a goroutine and pins are driven through periph.io. The command set is
// served over TCP; point softpwm-host at it with -device tcp:<addr>.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"softpwm/core"
	"softpwm/firmware"
)

var (
	listen = flag.String("listen", "127.0.0.1:7000", "TCP address to serve the command set on")
	name   = flag.String("name", "sbc", "MCU name reported in the data dictionary")
	debug  = flag.Bool("debug", false, "Log firmware debug messages")
	rate   = 10 * physic.KiloHertz
)

func init() {
	flag.Var(&rate, "rate", "Tick rate, e.g. 10kHz")
}

func main() {
	flag.Parse()

	if _, err := host.Init(); err != nil {
		log.Fatalf("periph: %v", err)
	}

	core.SetDebugWriter(func(msg string) { log.Print(msg) })
	core.InitAsyncDebug()
	core.SetDebugEnabled(*debug)

	tickRate, err := tickRateFrom(rate)
	if err != nil {
		log.Fatal(err)
	}
	timer := core.NewTickerTimer(tickRate)
	defer timer.Close()

	fw := firmware.New(NewPeriphGPIO(), timer, *name)
	defer fw.Close()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("softpwm firmware %q at %d ticks/s on %s", *name, tickRate, ln.Addr())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		ln.Close()
	}()

	if err := serve(ln, fw, log.Printf); err != nil {
		log.Fatal(err)
	}
}

// tickRateFrom converts a flag frequency to a ticker rate
func tickRateFrom(f physic.Frequency) (uint32, error) {
	hz := f / physic.Hertz
	if hz < core.MinTickRate || hz > core.MaxTickerRate {
		return 0, fmt.Errorf("tick rate %s outside %dHz..%dHz", f, core.MinTickRate, core.MaxTickerRate)
	}
	return uint32(hz), nil
}

// serve accepts one host at a time until ln is closed. Channels are
// driven LOW whenever a host disconnects.
func serve(ln net.Listener, fw *firmware.Firmware, logf func(format string, args ...interface{})) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		logf("host %s connected", conn.RemoteAddr())
		if err := fw.Serve(conn); err != nil {
			logf("host %s: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
		logf("host %s disconnected", conn.RemoteAddr())
	}
}

// Command softpwm-host drives a soft PWM controller from a console, and
// optionally exposes its channels on MQTT.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/google/shlex"

	"softpwm/core"
	"softpwm/firmware"
	"softpwm/host/bridge"
	"softpwm/host/config"
	"softpwm/host/mcu"
	"softpwm/host/serial"
)

var (
	device     = flag.String("device", "", "Serial device path, or tcp:<addr> (overrides the config file)")
	baud       = flag.Int("baud", 0, "Baud rate (ignored for USB CDC)")
	configPath = flag.String("config", "", "JSON channel layout to apply on connect")
	sim        = flag.Bool("sim", false, "Run against an in-process simulated controller")
	simRate    = flag.Uint("sim-rate", 10000, "Tick rate of the simulated controller")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	fmt.Println("softpwm host")
	fmt.Println("============")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}

	m := mcu.NewMCU()
	m.Verbose = *verbose
	m.OnShutdown(func(reason string) {
		fmt.Fprintf(os.Stderr, "\nController shut down: %s\n", reason)
	})

	if *sim {
		stop := startSim(m, uint32(*simRate))
		defer stop()
		fmt.Printf("Simulated controller at %d ticks/s\n", *simRate)
	} else if addr, ok := strings.CutPrefix(cfg.Serial.Device, "tcp:"); ok {
		fmt.Printf("Connecting to %s...\n", addr)
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			fatalf("%v", err)
		}
		m.Attach(conn)
	} else {
		fmt.Printf("Connecting to %s...\n", cfg.Serial.Device)
		err = m.ConnectWithConfig(&serial.Config{
			Device:      cfg.Serial.Device,
			Baud:        cfg.Serial.Baud,
			ReadTimeout: cfg.Serial.ReadTimeoutMs,
		})
		if err != nil {
			fatalf("%v", err)
		}
	}
	defer m.Close()

	if err := m.RetrieveDictionary(); err != nil {
		fatalf("retrieve dictionary: %v", err)
	}
	dict := m.GetDictionary()
	fmt.Printf("Connected: %s (%s)\n", dict.Config["MCU"], dict.Version)

	if len(cfg.Channels) > 0 {
		if err := bridge.Configure(m, cfg); err != nil {
			fatalf("configure channels: %v", err)
		}
		fmt.Printf("Configured %d channels\n", len(cfg.Channels))
	}

	s := &session{mcu: m, cfg: cfg, out: os.Stdout}

	if cfg.MQTT.Broker != "" {
		client, err := bridge.Dial(cfg.MQTT)
		if err != nil {
			fatalf("mqtt: %v", err)
		}
		b := bridge.New(client, m, cfg)
		if err := b.Start(); err != nil {
			fatalf("mqtt: %v", err)
		}
		defer b.Stop()
		fmt.Printf("Bridging %d channels on %s under %s/\n", len(cfg.Channels), cfg.MQTT.Broker, cfg.MQTT.Prefix)

		s.afterChange = func(oid uint8) {
			for i := range cfg.Channels {
				if cfg.Channels[i].OID == oid {
					if err := b.PublishState(&cfg.Channels[i]); err != nil {
						fmt.Fprintf(os.Stderr, "mqtt: %v\n", err)
					}
				}
			}
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		fmt.Println("\nInterrupted, stopping channels")
		_ = m.EmergencyStop()
		m.Close()
		os.Exit(1)
	}()

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	if err := repl(s, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path, or returns the defaults when path is empty
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadConfig([]byte("{}"))
	}
	return config.LoadFile(path)
}

// repl reads console lines from in until quit or end of input
func repl(s *session, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			continue
		}

		err = s.execute(args)
		if errors.Is(err, errQuit) {
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// startSim runs firmware in-process on a ticker and attaches m to it
func startSim(m *mcu.MCU, rate uint32) (stop func()) {
	if rate > core.MaxTickerRate {
		rate = core.MaxTickerRate
	}
	timer := core.NewTickerTimer(rate)
	fw := firmware.New(firmware.NewMemGPIO(30), timer, "sim")

	hostEnd, fwEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fw.Serve(fwEnd); err != nil {
			fmt.Fprintf(os.Stderr, "sim: %v\n", err)
		}
	}()
	m.Attach(hostEnd)

	return func() {
		fwEnd.Close()
		<-done
		fw.Close()
		timer.Close()
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

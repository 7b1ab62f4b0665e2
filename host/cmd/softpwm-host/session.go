package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"softpwm/host/config"
	"softpwm/host/mcu"
)

var errQuit = errors.New("quit")

// session runs console commands against one controller
type session struct {
	mcu *mcu.MCU
	cfg *config.Config
	out io.Writer

	// afterChange runs after a command that may change channel state
	afterChange func(oid uint8)
}

type command struct {
	args  string
	help  string
	nargs int // required arguments
	run   func(s *session, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"config":  {"<ch> <pin>", "bind a channel to a pin", 2, (*session).cmdConfig},
		"set":     {"<ch> <hz> <duty> [off]", "program frequency and duty", 3, (*session).cmdSet},
		"freq":    {"<ch> <hz>", "change frequency", 2, (*session).cmdFreq},
		"duty":    {"<ch> <percent>", "change duty", 2, (*session).cmdDuty},
		"us":      {"<ch> <micros>", "set an absolute pulse width", 2, (*session).cmdMicros},
		"level":   {"<ch> high|low", "stop and hold a level", 2, (*session).cmdLevel},
		"on":      {"<ch>", "start the waveform", 1, (*session).cmdOn},
		"off":     {"<ch>", "stop the waveform", 1, (*session).cmdOff},
		"resync":  {"<ch>", "restart the period now", 1, (*session).cmdResync},
		"release": {"<ch>", "drive LOW and free the slot", 1, (*session).cmdRelease},
		"query":   {"[ch]", "show channel state", 0, (*session).cmdQuery},
		"clock":   {"", "show the controller tick count", 0, (*session).cmdClock},
		"estop":   {"", "drive every channel LOW and shut down", 0, (*session).cmdEstop},
		"restart": {"", "reset the controller", 0, (*session).cmdRestart},
		"dict":    {"", "print the data dictionary", 0, (*session).cmdDict},
		"help":    {"", "show this help", 0, (*session).cmdHelp},
		"quit":    {"", "exit", 0, func(*session, []string) error { return errQuit }},
	}
	commands["exit"] = commands["quit"]
	commands["?"] = commands["help"]
}

// execute runs one tokenised console line
func (s *session) execute(args []string) error {
	if len(args) == 0 {
		return nil
	}
	name := strings.ToLower(args[0])
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	if len(args)-1 < cmd.nargs {
		return fmt.Errorf("usage: %s %s", name, cmd.args)
	}
	return cmd.run(s, args[1:])
}

// channel resolves a configured channel name or a bare oid
func (s *session) channel(arg string) (uint8, error) {
	if s.cfg != nil {
		if ch, ok := s.cfg.Channel(arg); ok {
			return ch.OID, nil
		}
	}
	oid, err := strconv.ParseUint(arg, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("no channel %q", arg)
	}
	return uint8(oid), nil
}

func parseUint32(name, arg string) (uint32, error) {
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", name, arg)
	}
	return uint32(v), nil
}

func parseDuty(arg string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSuffix(arg, "%"), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("bad duty %q", arg)
	}
	return uint8(v), nil
}

func (s *session) changed(oid uint8) {
	if s.afterChange != nil {
		s.afterChange(oid)
	}
}

// withChannel runs fn on the channel named by args[0] and reports the change
func (s *session) withChannel(args []string, fn func(oid uint8) error) error {
	oid, err := s.channel(args[0])
	if err != nil {
		return err
	}
	if err := fn(oid); err != nil {
		return err
	}
	s.changed(oid)
	return nil
}

func (s *session) cmdConfig(args []string) error {
	pin, err := parseUint32("pin", args[1])
	if err != nil {
		return err
	}
	return s.withChannel(args, func(oid uint8) error {
		return s.mcu.ConfigChannel(oid, pin)
	})
}

func (s *session) cmdSet(args []string) error {
	hz, err := parseUint32("frequency", args[1])
	if err != nil {
		return err
	}
	duty, err := parseDuty(args[2])
	if err != nil {
		return err
	}
	active := len(args) < 4 || args[3] != "off"
	return s.withChannel(args, func(oid uint8) error {
		return s.mcu.SetChannel(oid, hz, duty, active)
	})
}

func (s *session) cmdFreq(args []string) error {
	hz, err := parseUint32("frequency", args[1])
	if err != nil {
		return err
	}
	return s.withChannel(args, func(oid uint8) error {
		return s.mcu.SetFrequency(oid, hz)
	})
}

func (s *session) cmdDuty(args []string) error {
	duty, err := parseDuty(args[1])
	if err != nil {
		return err
	}
	return s.withChannel(args, func(oid uint8) error {
		return s.mcu.SetDuty(oid, duty)
	})
}

func (s *session) cmdMicros(args []string) error {
	us, err := parseUint32("pulse width", args[1])
	if err != nil {
		return err
	}
	return s.withChannel(args, func(oid uint8) error {
		return s.mcu.SetMicros(oid, us)
	})
}

func (s *session) cmdLevel(args []string) error {
	var high bool
	switch strings.ToLower(args[1]) {
	case "high", "1":
		high = true
	case "low", "0":
	default:
		return fmt.Errorf("bad level %q", args[1])
	}
	return s.withChannel(args, func(oid uint8) error {
		return s.mcu.SetLevel(oid, high)
	})
}

func (s *session) cmdOn(args []string) error {
	return s.withChannel(args, func(oid uint8) error { return s.mcu.Enable(oid, true) })
}

func (s *session) cmdOff(args []string) error {
	return s.withChannel(args, func(oid uint8) error { return s.mcu.Enable(oid, false) })
}

func (s *session) cmdResync(args []string) error {
	return s.withChannel(args, s.mcu.Resync)
}

func (s *session) cmdRelease(args []string) error {
	oid, err := s.channel(args[0])
	if err != nil {
		return err
	}
	return s.mcu.Release(oid)
}

func (s *session) cmdQuery(args []string) error {
	var oids []uint8
	if len(args) > 0 {
		oid, err := s.channel(args[0])
		if err != nil {
			return err
		}
		oids = append(oids, oid)
	} else if s.cfg != nil {
		for _, ch := range s.cfg.Channels {
			oids = append(oids, ch.OID)
		}
	}
	if len(oids) == 0 {
		return errors.New("usage: query <ch>")
	}

	for _, oid := range oids {
		state, err := s.mcu.QueryChannel(oid)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, state)
	}
	return nil
}

func (s *session) cmdClock([]string) error {
	clock, err := s.mcu.GetClock()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "clock=%d\n", clock)
	return nil
}

func (s *session) cmdEstop([]string) error {
	if err := s.mcu.EmergencyStop(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Controller shut down, use restart to recover")
	return nil
}

func (s *session) cmdRestart([]string) error {
	if err := s.mcu.Restart(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Controller reset")
	return nil
}

func (s *session) cmdDict([]string) error {
	s.mcu.PrintDictionary(s.out)
	return nil
}

func (s *session) cmdHelp([]string) error {
	names := []string{"config", "set", "freq", "duty", "us", "level", "on", "off",
		"resync", "release", "query", "clock", "estop", "restart", "dict", "help", "quit"}
	fmt.Fprintln(s.out, "Commands (<ch> is a channel name or oid):")
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(s.out, "  %-8s %-24s %s\n", name, cmd.args, cmd.help)
	}
	return nil
}

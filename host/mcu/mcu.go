// Package mcu talks to a soft PWM controller over the framed command
// protocol
package mcu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"softpwm/host/serial"
	"softpwm/protocol"
)

var (
	ErrNotConnected = errors.New("not connected to controller")
	ErrNoDictionary = errors.New("dictionary not loaded")
)

// DefaultTimeout bounds every wait for a reply
const DefaultTimeout = 2 * time.Second

// identify_response is always id 0, before any dictionary is known
const identifyResponseID = 0

// MCU is a connection to one controller
type MCU struct {
	transport *protocol.HostTransport
	port      io.ReadWriteCloser

	dictionary     *Dictionary
	dictionaryData []byte

	connected bool

	// Timeout bounds waits for replies; DefaultTimeout when zero
	Timeout time.Duration

	// Verbose prints dictionary retrieval progress
	Verbose bool

	// reqMu holds a command and the wait for its reply together
	reqMu sync.Mutex

	mu             sync.Mutex
	responseNames  map[uint16]string
	inbox          map[string]chan []byte
	channelErrs    map[uint8]uint8
	shutdownReason string
	onShutdown     func(reason string)
}

// Dictionary is the parsed data dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// CommandID finds a command by name. Dictionary keys carry the full
// signature, so "set_soft_pwm" matches "set_soft_pwm oid=%c ...".
func (d *Dictionary) CommandID(name string) (uint16, bool) {
	return lookupSignature(d.Commands, name)
}

// ResponseID finds a response by name
func (d *Dictionary) ResponseID(name string) (uint16, bool) {
	return lookupSignature(d.Responses, name)
}

func lookupSignature(m map[string]int, name string) (uint16, bool) {
	if id, ok := m[name]; ok {
		return uint16(id), true
	}
	for sig, id := range m {
		if strings.HasPrefix(sig, name+" ") {
			return uint16(id), true
		}
	}
	return 0, false
}

// ConstantUint parses a numeric config constant
func (d *Dictionary) ConstantUint(name string) (uint32, error) {
	s, ok := d.Config[name]
	if !ok {
		return 0, fmt.Errorf("constant %s not in dictionary", name)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("constant %s: %w", name, err)
	}
	return uint32(v), nil
}

// NewMCU creates an unconnected MCU
func NewMCU() *MCU {
	return &MCU{
		responseNames: map[uint16]string{identifyResponseID: "identify_response"},
		inbox:         make(map[string]chan []byte),
		channelErrs:   make(map[uint8]uint8),
	}
}

// Connect opens device with the default serial settings
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens a serial port and attaches to it
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	// Drop anything a previous session left in the device buffer
	_ = port.Flush()
	m.Attach(port)

	// A controller that just enumerated may still be starting
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach uses an already open byte stream as the link
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	m.connected = true
}

// Close shuts the link down
func (m *MCU) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.transport.Close()
}

func (m *MCU) IsConnected() bool {
	return m.connected
}

func (m *MCU) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return DefaultTimeout
}

// OnShutdown sets a callback run from the read goroutine when the
// controller reports a shutdown
func (m *MCU) OnShutdown(fn func(reason string)) {
	m.mu.Lock()
	m.onShutdown = fn
	m.mu.Unlock()
}

// ShutdownReason returns the last shutdown reported, or ""
func (m *MCU) ShutdownReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownReason
}

// inboxLocked returns the queue for a response name. Caller holds m.mu.
func (m *MCU) inboxLocked(name string) chan []byte {
	ch, ok := m.inbox[name]
	if !ok {
		ch = make(chan []byte, 8)
		m.inbox[name] = ch
	}
	return ch
}

// handleResponse runs on the transport read goroutine for every response
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	body := append([]byte(nil), (*data)...)

	m.mu.Lock()
	name, ok := m.responseNames[cmdID]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	var shutdownCb func(string)
	var reason string
	switch name {
	case "soft_pwm_error":
		args := body
		oid, err1 := protocol.DecodeVLQUint(&args)
		code, err2 := protocol.DecodeVLQUint(&args)
		if err1 == nil && err2 == nil {
			m.channelErrs[uint8(oid)] = uint8(code)
		}
	case "shutdown":
		args := body
		if s, err := protocol.DecodeVLQString(&args); err == nil {
			reason = s
			m.shutdownReason = s
			shutdownCb = m.onShutdown
		}
	}
	ch := m.inboxLocked(name)
	m.mu.Unlock()

	select {
	case ch <- body:
	default:
		// Nobody is waiting; keep the newest
		select {
		case <-ch:
		default:
		}
		ch <- body
	}

	if shutdownCb != nil {
		shutdownCb(reason)
	}
	return nil
}

// drain discards queued responses called name
func (m *MCU) drain(name string) {
	m.mu.Lock()
	ch := m.inboxLocked(name)
	m.mu.Unlock()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// waitFor returns the next response called name accepted by match
func (m *MCU) waitFor(name string, match func(body []byte) bool) ([]byte, error) {
	m.mu.Lock()
	ch := m.inboxLocked(name)
	m.mu.Unlock()

	timeout := m.timeout()
	deadline := time.After(timeout)
	for {
		select {
		case body := <-ch:
			if match == nil || match(body) {
				return body, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("waiting for %s: %w after %v", name, protocol.ErrTimeout, timeout)
		}
	}
}

// RetrieveDictionary downloads and parses the data dictionary
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}
	m.logf("Retrieving dictionary...\n")

	var buf bytes.Buffer
	const chunkSize = 40
	for i := 0; i < 1000; i++ {
		offset := uint32(buf.Len())
		chunk, err := m.identify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("dictionary chunk at %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}
		buf.Write(chunk)
		if i%10 == 0 {
			m.logf("  %d bytes\n", buf.Len())
		}
		if len(chunk) < chunkSize {
			break
		}
	}

	m.dictionaryData = buf.Bytes()
	m.logf("Dictionary retrieved: %d bytes\n", len(m.dictionaryData))

	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	m.setDictionary(dict)
	return nil
}

func (m *MCU) setDictionary(dict *Dictionary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dictionary = dict
	for sig, id := range dict.Responses {
		name := sig
		if i := strings.IndexByte(sig, ' '); i >= 0 {
			name = sig[:i]
		}
		m.responseNames[uint16(id)] = name
	}
}

// identify fetches one dictionary chunk. The command id is fixed at 1.
func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	m.drain("identify_response")
	err := m.transport.SendCommandWithTimeout(1, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	}, m.timeout())
	if err != nil {
		return nil, fmt.Errorf("send identify: %w", err)
	}

	body, err := m.waitFor("identify_response", func(body []byte) bool {
		got, err := protocol.DecodeVLQUint(&body)
		return err == nil && got == offset
	})
	if err != nil {
		return nil, err
	}

	// Skip the offset matched above
	if _, err := protocol.DecodeVLQUint(&body); err != nil {
		return nil, err
	}
	data, err := protocol.DecodeVLQBytes(&body)
	if err != nil {
		return nil, fmt.Errorf("decode identify data: %w", err)
	}
	return data, nil
}

func (m *MCU) logf(format string, args ...interface{}) {
	if m.Verbose {
		fmt.Printf(format, args...)
	}
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dictionary
}

// GetDictionaryRaw returns the dictionary bytes as downloaded
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary writes a summary of the dictionary to w
func (m *MCU) PrintDictionary(w io.Writer) {
	dict := m.GetDictionary()
	if dict == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintf(w, "Version: %s\n", dict.Version)
	fmt.Fprintf(w, "Build: %s\n", dict.BuildVersions)

	fmt.Fprintln(w, "Config:")
	keys := make([]string, 0, len(dict.Config))
	for k := range dict.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, dict.Config[k])
	}

	printIDs := func(title string, m map[string]int) {
		sigs := make([]string, 0, len(m))
		for s := range m {
			sigs = append(sigs, s)
		}
		sort.Slice(sigs, func(i, j int) bool { return m[sigs[i]] < m[sigs[j]] })
		fmt.Fprintf(w, "%s (%d):\n", title, len(sigs))
		for _, s := range sigs {
			fmt.Fprintf(w, "  [%d] %s\n", m[s], s)
		}
	}
	printIDs("Commands", dict.Commands)
	printIDs("Responses", dict.Responses)
}

// SendCommand sends a command by name with arguments encoded by args
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if !m.connected {
		return ErrNotConnected
	}
	dict := m.GetDictionary()
	if dict == nil {
		return ErrNoDictionary
	}
	id, ok := dict.CommandID(name)
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if err := m.transport.SendCommandWithTimeout(id, args, m.timeout()); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Send sends a command whose arguments are all integers
func (m *MCU) Send(name string, args ...uint32) error {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()
	return m.send(name, args...)
}

func (m *MCU) send(name string, args ...uint32) error {
	return m.SendCommand(name, func(output protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(output, a)
		}
	})
}

// Request sends a command and waits for the named response
func (m *MCU) Request(name, response string, args ...uint32) ([]byte, error) {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	m.drain(response)
	if err := m.send(name, args...); err != nil {
		return nil, err
	}
	return m.waitFor(response, nil)
}

// Restart asks the controller to reset and restarts the sequence
func (m *MCU) Restart() error {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	if err := m.send("reset"); err != nil {
		return err
	}
	m.transport.Reset()
	m.mu.Lock()
	m.shutdownReason = ""
	m.mu.Unlock()
	return nil
}

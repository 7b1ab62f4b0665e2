package core

import "errors"

// MotorMode selects how the H-bridge inputs are wired
type MotorMode uint8

const (
	// DirPWM drives speed on one PWM pin and direction on a plain GPIO
	DirPWM MotorMode = iota
	// PWMPWM drives each bridge input from its own PWM channel
	PWMPWM
)

// Direction of rotation
type Direction int8

const (
	Reverse Direction = -1
	Stopped Direction = 0
	Forward Direction = 1
)

const (
	DefaultMotorFrequency = 1000 // Hz
	MinCalLimit           = 40   // Lowest calibration limit, percent
	MaxMotorSpeed         = 100
)

var ErrMotorNotStarted = errors.New("motor not started")

// DCMotor controls a brushed motor through an H-bridge
type DCMotor struct {
	reg  *ChannelRegistry
	gpio GPIODriver
	mode MotorMode
	pinA GPIOPin // PWM
	pinB GPIOPin // direction, or second PWM
	chA  *Channel
	chB  *Channel

	freq     uint32
	speed    int
	swapped  bool
	fwdLimit uint32
	revLimit uint32
}

// NewDCMotor creates a motor on pinA and pinB. In DirPWM mode pinB is the
// direction output.
func NewDCMotor(reg *ChannelRegistry, gpio GPIODriver, mode MotorMode, pinA, pinB GPIOPin) *DCMotor {
	return &DCMotor{
		reg:      reg,
		gpio:     gpio,
		mode:     mode,
		pinA:     pinA,
		pinB:     pinB,
		freq:     DefaultMotorFrequency,
		fwdLimit: 100,
		revLimit: 100,
	}
}

// Begin claims the channels the mode needs. Either all are claimed or
// none.
func (m *DCMotor) Begin() error {
	if m.chA != nil {
		return nil
	}

	chA, err := m.reg.Begin(m.pinA, m.freq, 0, false)
	if err != nil {
		return err
	}

	if m.mode == PWMPWM {
		chB, err := m.reg.Begin(m.pinB, m.freq, 0, false)
		if err != nil {
			chA.ReleaseLow()
			return err
		}
		m.chB = chB
	} else {
		if err := m.gpio.ConfigureOutput(m.pinB); err != nil {
			chA.ReleaseLow()
			return err
		}
		_ = m.gpio.SetPin(m.pinB, false)
	}

	m.chA = chA
	m.speed = 0
	return nil
}

// Release stops the motor and frees its channels
func (m *DCMotor) Release() {
	if m.chA != nil {
		m.chA.ReleaseLow()
		m.chA = nil
	}
	if m.chB != nil {
		m.chB.ReleaseLow()
		m.chB = nil
	}
	m.speed = 0
}

// SetFrequency changes the PWM carrier. It applies from the next speed
// change.
func (m *DCMotor) SetFrequency(hz uint32) {
	m.freq = hz
}

func clampCal(pct uint8) uint32 {
	if pct < MinCalLimit {
		return MinCalLimit
	}
	if pct > 100 {
		return 100
	}
	return uint32(pct)
}

// SetCalibration limits the duty reached at full speed in each direction
func (m *DCMotor) SetCalibration(forward, reverse uint8) {
	m.fwdLimit = clampCal(forward)
	m.revLimit = clampCal(reverse)
}

// SetSwapped reverses the meaning of forward and reverse
func (m *DCMotor) SetSwapped(swapped bool) {
	m.swapped = swapped
}

// SetSpeed runs the motor at v percent, -100..100. Negative values run in
// reverse.
func (m *DCMotor) SetSpeed(v int) error {
	if m.chA == nil {
		return ErrMotorNotStarted
	}
	if v > MaxMotorSpeed {
		v = MaxMotorSpeed
	}
	if v < -MaxMotorSpeed {
		v = -MaxMotorSpeed
	}
	if v == 0 {
		return m.Stop()
	}

	mag, limit := uint32(v), m.fwdLimit
	if v < 0 {
		mag, limit = uint32(-v), m.revLimit
	}
	duty := uint8(mag * limit / 100)

	forward := (v > 0) != m.swapped
	drive := m.chA
	var err error
	if m.mode == DirPWM {
		if err = m.gpio.SetPin(m.pinB, forward); err == nil {
			err = drive.Set(m.freq, duty, true)
		}
	} else {
		idle := m.chB
		if !forward {
			drive, idle = m.chB, m.chA
		}
		if err = idle.Low(); err == nil {
			err = drive.Set(m.freq, duty, true)
		}
	}
	if err != nil {
		return err
	}

	// Too small a duty for one tick leaves the output LOW
	if on, _ := drive.Ticks(); on == 0 {
		m.speed = 0
		return nil
	}
	m.speed = v
	return nil
}

// CW runs forward at speed percent
func (m *DCMotor) CW(speed uint8) error {
	return m.SetSpeed(int(speed))
}

// CC runs in reverse at speed percent
func (m *DCMotor) CC(speed uint8) error {
	return m.SetSpeed(-int(speed))
}

// Stop lets the motor coast
func (m *DCMotor) Stop() error {
	if m.chA == nil {
		return ErrMotorNotStarted
	}
	if err := m.chA.Low(); err != nil {
		return err
	}
	if m.chB != nil {
		if err := m.chB.Low(); err != nil {
			return err
		}
	}
	m.speed = 0
	return nil
}

// Brake shorts the motor windings. Bridges in DirPWM mode cannot brake
// and coast instead.
func (m *DCMotor) Brake() error {
	if m.mode == DirPWM {
		return m.Stop()
	}
	if m.chA == nil {
		return ErrMotorNotStarted
	}
	if err := m.chA.High(); err != nil {
		return err
	}
	if err := m.chB.High(); err != nil {
		return err
	}
	m.speed = 0
	return nil
}

// Speed returns the last speed set, -100..100
func (m *DCMotor) Speed() int {
	return m.speed
}

// Dir returns the direction of the last speed set
func (m *DCMotor) Dir() Direction {
	switch {
	case m.speed > 0:
		return Forward
	case m.speed < 0:
		return Reverse
	}
	return Stopped
}

func (m *DCMotor) IsRunning() bool {
	return m.speed != 0
}

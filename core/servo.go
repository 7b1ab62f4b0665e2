package core

import "errors"

// Hobby servo timing
const (
	ServoFrequency   = 50   // Hz
	ServoMinPulse    = 500  // Hard lower limit, us
	ServoMaxPulse    = 2500 // Hard upper limit, us
	DefaultServoMin  = 1000 // 0 degrees
	DefaultServoMax  = 2000 // 180 degrees
	DefaultServoStep = 10   // us per StepCW/StepCCW
	MaxServoStep     = 1000
	ServoDegreesMax  = 180
)

var ErrServoDetached = errors.New("servo not attached")

// Servo positions an RC servo from a soft PWM channel
type Servo struct {
	reg *ChannelRegistry
	pin GPIOPin
	ch  *Channel

	minUs   uint32
	maxUs   uint32
	homeUs  uint32
	stepUs  uint32
	pulseUs uint32
}

func NewServo(reg *ChannelRegistry, pin GPIOPin) *Servo {
	return &Servo{
		reg:    reg,
		pin:    pin,
		minUs:  DefaultServoMin,
		maxUs:  DefaultServoMax,
		stepUs: DefaultServoStep,
	}
}

// Attach claims a channel and moves to the home position (centre unless
// SetHome was called)
func (s *Servo) Attach() error {
	if s.ch != nil {
		return nil
	}
	ch, err := s.reg.Begin(s.pin, ServoFrequency, 0, false)
	if err != nil {
		return err
	}
	s.ch = ch
	return s.WriteMicroseconds(s.home())
}

// Detach drives the signal LOW and frees the channel
func (s *Servo) Detach() {
	if s.ch == nil {
		return
	}
	s.ch.ReleaseLow()
	s.ch = nil
}

func (s *Servo) Attached() bool {
	return s.ch != nil
}

func clampPulse(us uint32) uint32 {
	if us < ServoMinPulse {
		return ServoMinPulse
	}
	if us > ServoMaxPulse {
		return ServoMaxPulse
	}
	return us
}

// SetMinPulse sets the pulse width for 0 degrees
func (s *Servo) SetMinPulse(us uint32) {
	s.minUs = clampPulse(us)
	if s.minUs >= s.maxUs {
		if s.minUs == ServoMaxPulse {
			s.minUs--
		}
		s.maxUs = s.minUs + 1
	}
}

// SetMaxPulse sets the pulse width for 180 degrees
func (s *Servo) SetMaxPulse(us uint32) {
	s.maxUs = clampPulse(us)
	if s.maxUs <= s.minUs {
		if s.maxUs == ServoMinPulse {
			s.maxUs++
		}
		s.minUs = s.maxUs - 1
	}
}

// SetStep sets the increment used by StepCW and StepCCW
func (s *Servo) SetStep(us uint32) {
	switch {
	case us < 1:
		us = 1
	case us > MaxServoStep:
		us = MaxServoStep
	}
	s.stepUs = us
}

// SetHome sets the pulse Home returns to. 0 means centre.
func (s *Servo) SetHome(us uint32) {
	if us != 0 {
		us = clampPulse(us)
	}
	s.homeUs = us
}

func (s *Servo) center() uint32 {
	return (s.minUs + s.maxUs) / 2
}

func (s *Servo) home() uint32 {
	if s.homeUs == 0 {
		return s.center()
	}
	return s.homeUs
}

// WriteMicroseconds sets the pulse width, clamped to the servo limits.
// 0 selects the centre position.
func (s *Servo) WriteMicroseconds(us uint32) error {
	if s.ch == nil {
		return ErrServoDetached
	}
	if us == 0 {
		us = s.center()
	}
	us = clampPulse(us)
	if err := s.ch.SetMicros(us); err != nil {
		return err
	}
	s.pulseUs = us
	return nil
}

// Write moves to an angle in degrees, clamped to 0..180
func (s *Servo) Write(deg int) error {
	if deg < 0 {
		deg = 0
	}
	if deg > ServoDegreesMax {
		deg = ServoDegreesMax
	}
	us := s.minUs + (s.maxUs-s.minUs)*uint32(deg)/ServoDegreesMax
	return s.WriteMicroseconds(us)
}

// Read returns the current angle derived from the last pulse
func (s *Servo) Read() int {
	switch {
	case s.pulseUs <= s.minUs:
		return 0
	case s.pulseUs >= s.maxUs:
		return ServoDegreesMax
	}
	span := s.maxUs - s.minUs
	return int(((s.pulseUs-s.minUs)*ServoDegreesMax + span/2) / span)
}

// Pulse returns the last pulse width written
func (s *Servo) Pulse() uint32 {
	return s.pulseUs
}

func (s *Servo) Center() error  { return s.WriteMicroseconds(s.center()) }
func (s *Servo) Home() error    { return s.WriteMicroseconds(s.home()) }
func (s *Servo) FullCW() error  { return s.WriteMicroseconds(s.minUs) }
func (s *Servo) FullCCW() error { return s.WriteMicroseconds(s.maxUs) }

// StepCW moves one step towards the minimum pulse
func (s *Servo) StepCW() error {
	us := s.minUs
	if s.pulseUs > s.minUs+s.stepUs {
		us = s.pulseUs - s.stepUs
	}
	return s.WriteMicroseconds(us)
}

// StepCCW moves one step towards the maximum pulse
func (s *Servo) StepCCW() error {
	us := s.pulseUs + s.stepUs
	if us > s.maxUs {
		us = s.maxUs
	}
	return s.WriteMicroseconds(us)
}

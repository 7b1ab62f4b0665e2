package core

import "errors"

var ErrStepperNotStarted = errors.New("stepper clock not started")

// StepperClock drives the STEP input of a stepper driver with a 50% soft
// PWM square wave. Each rising edge is one step.
type StepperClock struct {
	reg         *ChannelRegistry
	gpio        GPIODriver
	stepPin     GPIOPin
	dirPin      GPIOPin
	hasDir      bool
	stepsPerRev uint32

	ch      *Channel
	freq    uint32
	forward bool
}

// NewStepperClock creates a step clock. dirPin may be nil when the driver's
// direction input is hard wired.
func NewStepperClock(reg *ChannelRegistry, gpio GPIODriver, stepPin GPIOPin, dirPin *GPIOPin, stepsPerRev uint32) *StepperClock {
	s := &StepperClock{
		reg:         reg,
		gpio:        gpio,
		stepPin:     stepPin,
		stepsPerRev: stepsPerRev,
		forward:     true,
	}
	if dirPin != nil {
		s.dirPin = *dirPin
		s.hasDir = true
	}
	if s.stepsPerRev == 0 {
		s.stepsPerRev = 200
	}
	return s
}

// Begin claims the step channel at hz without starting it
func (s *StepperClock) Begin(hz uint32) error {
	if s.ch != nil {
		return nil
	}
	if s.hasDir {
		if err := s.gpio.ConfigureOutput(s.dirPin); err != nil {
			return err
		}
		_ = s.gpio.SetPin(s.dirPin, s.forward)
	}
	ch, err := s.reg.Begin(s.stepPin, hz, 50, false)
	if err != nil {
		return err
	}
	s.ch = ch
	s.freq = ch.Frequency()
	return nil
}

// Release stops stepping and frees the channel
func (s *StepperClock) Release() {
	if s.ch == nil {
		return
	}
	s.ch.ReleaseLow()
	s.ch = nil
}

// SetFrequency sets the step rate in steps per second and starts
// stepping. 0 stops.
func (s *StepperClock) SetFrequency(hz uint32) error {
	if s.ch == nil {
		return ErrStepperNotStarted
	}
	if hz == 0 {
		return s.Off()
	}
	if err := s.ch.SetFrequency(hz); err != nil {
		return err
	}
	s.freq = s.ch.Frequency()
	return nil
}

// SetRPM converts rpm to a step rate and applies it
func (s *StepperClock) SetRPM(rpm uint32) error {
	hz := (rpm*s.stepsPerRev + 30) / 60
	if rpm != 0 && hz == 0 {
		hz = 1
	}
	return s.SetFrequency(hz)
}

// Frequency returns the applied step rate
func (s *StepperClock) Frequency() uint32 {
	return s.freq
}

// RPM returns the speed derived from the applied step rate
func (s *StepperClock) RPM() uint32 {
	return s.freq * 60 / s.stepsPerRev
}

// SetDir sets the rotation direction
func (s *StepperClock) SetDir(forward bool) error {
	s.forward = forward
	if !s.hasDir {
		return nil
	}
	return s.gpio.SetPin(s.dirPin, forward)
}

// Reverse flips the rotation direction
func (s *StepperClock) Reverse() error {
	return s.SetDir(!s.forward)
}

// Forward reports the current direction
func (s *StepperClock) Forward() bool {
	return s.forward
}

// On resumes stepping at the last rate
func (s *StepperClock) On() error {
	if s.ch == nil {
		return ErrStepperNotStarted
	}
	return s.ch.On()
}

// Off stops stepping with the step line LOW
func (s *StepperClock) Off() error {
	if s.ch == nil {
		return ErrStepperNotStarted
	}
	return s.ch.Low()
}

func (s *StepperClock) IsRunning() bool {
	return s.ch != nil && s.ch.IsActive()
}

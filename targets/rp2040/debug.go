//go:build rp2040

package main

import (
	"machine"

	"softpwm/core"
)

// InitDebugUART routes core debug output to UART0 on GP0 (TX) and GP1 (RX)
// at 115200 baud. Output stays off until the host sends set_debug.
func InitDebugUART() {
	uart := machine.UART0
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO0,
		RX:       machine.GPIO1,
	})
	if err != nil {
		return
	}

	core.SetDebugWriter(func(s string) {
		uart.Write([]byte(s))
		uart.Write([]byte("\r\n"))
	})
	core.InitAsyncDebug()
}

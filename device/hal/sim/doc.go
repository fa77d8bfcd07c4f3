// Package sim implements an in-memory USB device controller and a matching
// host model for exercising the device stack without hardware.
//
// [Controller] models the register interface of a SAMD21-class full-speed
// peripheral: an endpoint table with one OUT bank (bank 0) and one IN bank
// (bank 1) per index, TRCPT/RXSTP/EORST flags, stall request bits and the
// device address register. It satisfies [hal.Controller].
//
// [Host] plays the other end of the cable. It raises bus resets, injects
// SETUP packets, collects the packets the device transmits and deposits
// OUT data into armed banks:
//
//	ctrl := sim.NewController(sim.DefaultEndpoints)
//	host := sim.NewHost(ctrl)
//
//	go ctrl.Serve(ctx, device.Interrupt)
//
//	host.Reset(ctx)
//	desc, err := host.ControlIn(ctx, setup.Bytes())
//
// # Timing Model
//
// An IN bank set ready is transmitted immediately: its packets are queued
// for the host and the bank's transfer-complete flag is raised before
// SetBankReady returns. OUT banks are filled only by the host, and only
// while armed; the host waits for the device to arm them. SETUP packets
// always land in the endpoint 0 OUT bank and clear the endpoint 0 stall
// bits, as on real hardware.
//
// [Controller.Serve] plays the role of the NVIC: it calls the interrupt
// handler whenever an enabled cause is pending.
package sim

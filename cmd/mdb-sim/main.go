// Command mdb-sim is an interactive host-side simulator for the MDB
// cashless peripheral state machine: it drives a cashless.Device against
// either an in-process fake bus (scripted demo, VMC behavior simulated
// locally) or a real serial bridge, and lets an operator type
// shell-like commands to exercise the application-level operations.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"mdbcashless/mdb"
	"mdbcashless/mdb/cashless"
	"mdbcashless/mdb/transport"
)

var (
	device      = flag.String("device", "", "Serial bridge device path; empty runs against an in-process fake bus")
	address     = flag.Int("address", int(mdb.DefaultAddress), "MDB bus address")
	dumpFrames  = flag.Bool("dump-frames", false, "Print every transmitted waveform (fake-bus mode only)")
	pollPeriod  = flag.Duration("poll-period", 50*time.Millisecond, "Simulated VMC POLL interval (fake-bus mode only)")
)

func main() {
	flag.Parse()

	fmt.Println("MDB Cashless Simulator")
	fmt.Println("======================")

	port, teardown, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer teardown()

	comm := transport.NewCommunicator(port, transport.Options{Address: byte(*address)})
	dev := cashless.NewDevice(comm, cashless.Options{Address: byte(*address)})

	go func() {
		if err := comm.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "transport stopped: %v\n", err)
		}
	}()
	defer comm.Close()

	states, cancelSub := dev.Subscribe()
	defer cancelSub()
	go func() {
		for s := range states {
			fmt.Printf("\n[state] -> %s\n> ", s)
		}
	}()

	fmt.Println("Type 'help' for available commands, 'quit' to exit.")
	runLoop(dev)
}

// openPort returns the transport.Port to drive and a teardown func. With
// no --device given it builds a FakePort plus a goroutine that stands in
// for a well-behaved VMC: it polls on a fixed cadence and always ACKs,
// so the operator can watch the state machine react to commands without
// wiring real hardware.
func openPort() (transport.Port, func(), error) {
	if *device != "" {
		p, err := transport.OpenSerialPort(transport.SerialConfig{Device: *device})
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}

	port := transport.NewFakePort()
	if *dumpFrames {
		port.SetWriteObserver(func(symbols []transport.Symbol) {
			fmt.Printf("[tx] % 02X\n", symbolBytes(symbols))
		})
	}

	stop := make(chan struct{})
	go fakeVMC(port, *pollPeriod, stop)
	return port, func() { close(stop) }, nil
}

func symbolBytes(symbols []transport.Symbol) []byte {
	out := make([]byte, len(symbols))
	for i, s := range symbols {
		out[i] = s.Data
	}
	return out
}

// fakeVMC periodically feeds a POLL frame into port and, after every
// reply the device transmits, feeds back an ACK — an idealized bus master
// that never NACKs or drops a byte. The handshake edge cases (RET,
// timeout, NACK) are exercised by mdb/transport's own tests instead.
func fakeVMC(port *transport.FakePort, period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			before := len(port.Writes())
			port.Feed(transport.InboundFrameSymbols(
				byte(*address)|byte(mdb.CmdPoll), byte(*address)|byte(mdb.CmdPoll)))
			time.Sleep(time.Millisecond)
			if len(port.Writes()) > before {
				port.Feed(transport.Symbol{Data: mdb.ACK, Mode: true})
			}
		}
	}
}

func runLoop(dev *cashless.Device) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		args, err := shlex.Split(scanner.Text())
		if err != nil || len(args) == 0 {
			continue
		}

		switch args[0] {
		case "quit", "exit", "q":
			return
		case "help", "?":
			printHelp()
		case "state":
			fmt.Println(dev.State())
		case "open":
			runCmd(dev.OpenSession(nil, 0))
		case "display":
			if len(args) < 2 {
				fmt.Println("usage: display <text>")
				continue
			}
			runCmd(dev.UpdateDisplay([]byte(args[1]), 0))
		case "approve":
			amount, perr := parseAmount(args)
			if perr != nil {
				fmt.Println(perr)
				continue
			}
			runCmd(dev.ApproveVend(amount))
		case "deny":
			runCmd(dev.DenyVend())
		case "cancel":
			runCmd(dev.CancelSession())
		case "close":
			runCmd(dev.CloseSession())
		default:
			fmt.Printf("unknown command: %s (type 'help')\n", args[0])
		}
	}
}

func parseAmount(args []string) (uint16, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("usage: approve <amount>")
	}
	n, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %w", err)
	}
	return uint16(n), nil
}

func runCmd(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func printHelp() {
	fmt.Println(`
Available commands:
  state            - print the current device state
  open             - open a session (SESSION_START)
  display <text>   - send a DISPLAY_REQUEST with the given text
  approve <amount> - approve the outstanding vend request for <amount>
  deny             - deny the outstanding vend request
  cancel           - ask the VMC to cancel the current session
  close            - close the current session (END_SESSION)
  quit/exit/q      - exit the simulator`)
}

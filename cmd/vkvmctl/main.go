// Command vkvmctl sends one diagnostic request to a VKVM periphery and
// prints the result, for scripting and bring-up testing without
// running the full host daemon.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/vkvmbridge/host/internal/driver"
)

func main() {
	var (
		serialDevice string
		command      string
	)
	fs := pflag.NewFlagSet("vkvmctl", pflag.ExitOnError)
	fs.StringVar(&serialDevice, "serial-device", "/dev/ttyUSB0", "serial device path")
	fs.StringVar(&command, "cmd", "usb-state", "one of: usb-state, leds, keyboard-all-up, mouse-all-up")
	_ = fs.Parse(os.Args[1:])

	done := make(chan struct{})
	d := driver.New(&ctlCallback{done: done}, driver.Options{})
	if err := d.Open(serialDevice); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer d.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for handshake")
		os.Exit(1)
	}

	result := make(chan string, 1)
	switch command {
	case "usb-state":
		fmt.Printf("usb_state=%d\n", d.UsbState())
		return
	case "leds":
		fmt.Printf("leds=%#02x\n", d.KeyboardLEDs())
		return
	case "keyboard-all-up":
		err := d.KeyboardAllUp(func(err error) { result <- resultString(err) })
		reportResult(err, result)
	case "mouse-all-up":
		err := d.MouseButtonAllUp(func(err error) { result <- resultString(err) })
		reportResult(err, result)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(1)
	}
}

func resultString(err error) string {
	if err != nil {
		return err.Error()
	}
	return "OK"
}

func reportResult(err error, result chan string) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	select {
	case r := <-result:
		fmt.Println(r)
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for response")
		os.Exit(1)
	}
}

type ctlCallback struct {
	driver.NoopCallback
	done chan struct{}
}

func (c *ctlCallback) OnConnected() {
	close(c.done)
}

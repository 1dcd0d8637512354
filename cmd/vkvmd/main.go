//go:build linux

// Command vkvmd is the reference embedded-side VKVM dispatcher: it
// reads request frames from a serial link, drives a USB HID gadget,
// and reports USB/LED state changes back over the same link. It only
// builds for Linux, since the USB gadget and UDC sysfs interfaces it
// drives are Linux-specific.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/vkvmbridge/host/internal/frame"
	"github.com/vkvmbridge/host/internal/gpioindicator"
	"github.com/vkvmbridge/host/internal/periphery"
	"github.com/vkvmbridge/host/internal/vlog"
)

func main() {
	var (
		serialDevice = "/dev/ttyGS0"
		keyboardDev  = "/dev/hidg0"
		mouseRelDev  = "/dev/hidg1"
		mouseAbsDev  = "/dev/hidg2"
		udcName      = "musb-hdrc.0.auto"
		gpioChip     string
		gpioOffset   int
	)
	fs := pflag.NewFlagSet("vkvmd", pflag.ExitOnError)
	fs.StringVar(&serialDevice, "serial-device", serialDevice, "serial gadget device path")
	fs.StringVar(&keyboardDev, "keyboard-device", keyboardDev, "keyboard HID gadget function node")
	fs.StringVar(&mouseRelDev, "mouse-rel-device", mouseRelDev, "relative mouse HID gadget function node")
	fs.StringVar(&mouseAbsDev, "mouse-abs-device", mouseAbsDev, "absolute mouse HID gadget function node")
	fs.StringVar(&udcName, "udc", udcName, "UDC name under /sys/class/udc")
	fs.StringVar(&gpioChip, "gpio-chip", "", "GPIO chip for the USB status indicator (e.g. gpiochip0); disabled if empty")
	fs.IntVar(&gpioOffset, "gpio-offset", 0, "GPIO line offset for the USB status indicator")
	_ = fs.Parse(os.Args[1:])

	logger := vlog.Default().With("component", "vkvmd")

	hid, err := periphery.OpenGadgetHID(keyboardDev, mouseRelDev, mouseAbsDev, periphery.UDCStateFromSysfs(udcName))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer hid.Close()

	var led *gpioindicator.LED
	if gpioChip != "" {
		led, err = gpioindicator.Open(gpioChip, gpioOffset)
		if err != nil {
			logger.Warn("status indicator disabled", "err", err)
		} else {
			defer led.Close()
		}
	}

	tty, err := os.OpenFile(serialDevice, os.O_RDWR, 0)
	if err != nil {
		logger.Error("failed to open serial device", "device", serialDevice, "err", err)
		os.Exit(1)
	}
	defer tty.Close()

	var writeMu sync.Mutex
	sink := func(b byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := tty.Write([]byte{b})
		return err
	}
	dispatcher := periphery.NewDispatcher(hid, sink)
	if led != nil {
		dispatcher.OnUSBStateChange(func(state uint8) {
			if err := led.SetUSBState(state); err != nil {
				logger.Warn("status indicator update failed", "err", err)
			}
		})
	}

	stop := make(chan struct{})
	go dispatcher.PollInterrupts(stop, 200*time.Millisecond)
	defer close(stop)

	logger.Info("vkvmd running", "serial", serialDevice)
	reader := frame.NewReader()
	buf := make([]byte, 256)
	for {
		n, err := tty.Read(buf)
		if err != nil {
			logger.Error("serial read failed", "err", err)
			os.Exit(1)
		}
		for _, b := range buf[:n] {
			reader.Feed(b, dispatcher.HandleFrame)
		}
	}
}

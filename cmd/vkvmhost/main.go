// Command vkvmhost runs the host-side VKVM bridge: it opens the serial
// link to a periphery, grabs local keyboard/mouse input, and forwards
// it over the link, optionally advertising itself over mDNS.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/vkvmbridge/host/internal/config"
	"github.com/vkvmbridge/host/internal/discovery"
	"github.com/vkvmbridge/host/internal/driver"
	"github.com/vkvmbridge/host/internal/inputhook"
	"github.com/vkvmbridge/host/internal/protocol"
	"github.com/vkvmbridge/host/internal/vlog"
)

func main() {
	var configPath string
	preParse := pflag.NewFlagSet("vkvmhost", pflag.ContinueOnError)
	preParse.ParseErrorsWhitelist.UnknownFlags = true
	preParse.StringVar(&configPath, "config", "", "path to a YAML config file")
	_ = preParse.Parse(os.Args[1:])

	cfg, err := config.LoadHostFile(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fs := pflag.NewFlagSet("vkvmhost", pflag.ExitOnError)
	fs.StringVar(&configPath, "config", configPath, "path to a YAML config file")
	config.BindHostFlags(fs, &cfg)
	_ = fs.Parse(os.Args[1:])

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger := vlog.New(os.Stderr, level).With("component", "vkvmhost")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cb := &hostCallback{log: logger}
	d := driver.New(cb, driver.Options{
		QueueLimit: cfg.QueueLimit,
		Timeout:    cfg.Timeout,
	})
	if err := d.Open(cfg.SerialDevice); err != nil {
		logger.Error("failed to open serial device", "device", cfg.SerialDevice, "err", err)
		os.Exit(1)
	}
	defer d.Close()

	if cfg.Discovery.Enabled {
		adv, err := discovery.Advertise(ctx, cfg.Discovery.InstanceName, cfg.Discovery.Port)
		if err != nil {
			logger.Warn("mDNS advertisement failed", "err", err)
		} else {
			defer adv.Shutdown()
		}
	}

	hook := inputhook.New(d, cb, inputhook.DefaultLinuxEvdevKeyTable, inputhook.DefaultLinuxEvdevButtonTable)
	hook.Enable()

	grabs := grabAllInputDevices(hook, logger)
	defer func() {
		for _, g := range grabs {
			g.Close()
		}
	}()
	logger.Info("vkvmhost running", "device", cfg.SerialDevice, "grabbed", len(grabs))

	<-ctx.Done()
	logger.Info("shutting down")
	d.Close()
	d.WaitClosed()
}

// grabAllInputDevices exclusively grabs every /dev/input/eventN node it
// can, feeding them all into hook; a device it fails to open or grab
// (permission denied, or already grabbed by another process) is logged
// and skipped rather than treated as fatal (§4.6).
func grabAllInputDevices(hook *inputhook.Hook, logger *vlog.Logger) []*inputhook.EvdevGrab {
	nodes, err := inputhook.EnumerateEventDevices()
	if err != nil {
		logger.Warn("input device enumeration failed", "err", err)
		return nil
	}
	var grabs []*inputhook.EvdevGrab
	for _, node := range nodes {
		grab, err := inputhook.OpenEvdevGrab(node, hook)
		if err != nil {
			logger.Debug("skipping input device", "device", node, "err", err)
			continue
		}
		grabs = append(grabs, grab)
		go func(node string, g *inputhook.EvdevGrab) {
			if err := g.Run(); err != nil {
				logger.Debug("input device grab ended", "device", node, "err", err)
			}
		}(node, grab)
	}
	return grabs
}

type hostCallback struct {
	log *vlog.Logger
}

func (c *hostCallback) OnConnected() {
	c.log.Info("periphery connected")
}

func (c *hostCallback) OnDisconnected(err error) {
	c.log.Info("periphery disconnected", "err", err)
}

func (c *hostCallback) OnBrokenFrame() {
	c.log.Warn("broken frame discarded")
}

func (c *hostCallback) OnUSBState(err error, state uint8) {
	c.log.Info("usb state", "err", err, "state", state)
}

func (c *hostCallback) OnKeyboardLEDs(err error, leds uint8) {
	c.log.Debug("keyboard leds", "err", err, "leds", leds)
}

// OnRemapKey passes translated key events through unchanged: remapping
// is a Host API extension point for consumers embedding this driver,
// not a behavior vkvmhost itself opts into.
func (c *hostCallback) OnRemapKey(key uint8, _ int, _ protocol.RemapAction) uint8 { return key }

// OnRemapButton is OnRemapKey's mouse-button equivalent.
func (c *hostCallback) OnRemapButton(button uint8, _ protocol.RemapAction) uint8 { return button }

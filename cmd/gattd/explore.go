package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	gatt "github.com/XC-/go-gatt"
	"github.com/XC-/go-gatt/examples/service"
	"github.com/XC-/go-gatt/host"
	"github.com/XC-/go-gatt/native"
	"github.com/XC-/go-gatt/settings"
)

var flgPeer = cli.StringFlag{Name: "peer", Value: "00:00:00:00:00:01", Usage: "Address the loopback client connects as"}

// explore starts the installed profiles and walks the resulting
// attribute table as a client would.
func explore(c *cli.Context) error {
	addr, err := gatt.ParseBDAddr(c.String("peer"))
	if err != nil {
		return errors.Wrap(err, "bad peer address")
	}
	store, err := settings.OpenFileStore(c.GlobalString("settings"))
	if err != nil {
		return err
	}

	tb := native.NewTable(logger)
	defer tb.Close()
	coord := host.NewCoordinator(tb, store, service.NewBinder(c.String("name"), logger), host.Config{
		StartTimeout: c.Duration("timeout"),
		Logger:       logger,
	})
	defer coord.Close()
	if err := coord.RadioOn(); err != nil {
		return err
	}

	s, err := gatt.NewClient(tb, gatt.ClientLogger(logger)).Connect(addr, gatt.ClientCallbacks{})
	if err != nil {
		return err
	}
	defer s.Disconnect()
	return dump(os.Stdout, s)
}

func dump(w io.Writer, s *gatt.ClientSession) error {
	ss, err := s.Services()
	if err != nil {
		return errors.Wrap(err, "can't discover services")
	}
	for _, svc := range ss {
		fmt.Fprintf(w, "Service: %s [0x%04X-0x%04X]\n", svc.UUID(), svc.Handle(), svc.EndHandle())

		cs, err := svc.Characteristics()
		if err != nil {
			fmt.Fprintf(w, "Failed to discover characteristics, err: %s\n", err)
			continue
		}
		for _, c := range cs {
			fmt.Fprintf(w, "  Characteristic  %s\n", c.UUID())
			fmt.Fprintf(w, "    properties    %s\n", c.Properties())
			if c.Properties()&gatt.PropRead != 0 {
				b, err := s.ReadCharacteristic(c)
				if err != nil {
					fmt.Fprintf(w, "Failed to read characteristic, err: %s\n", err)
				} else {
					fmt.Fprintf(w, "    value         %x | %q\n", b, b)
				}
			}
			for _, d := range c.Descriptors() {
				fmt.Fprintf(w, "  Descriptor      %s\n", d.UUID())
				b, err := s.ReadDescriptor(d)
				if err != nil {
					fmt.Fprintf(w, "Failed to read descriptor, err: %s\n", err)
					continue
				}
				fmt.Fprintf(w, "    value         %x | %q\n", b, b)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/XC-/go-gatt/bluez"
	"github.com/XC-/go-gatt/examples/service"
	"github.com/XC-/go-gatt/host"
	"github.com/XC-/go-gatt/native"
	"github.com/XC-/go-gatt/settings"
)

var logger = logrus.New()

var (
	flgSettings = cli.StringFlag{Name: "settings, s", Value: "gattd.json", Usage: "Settings file"}
	flgVerbose  = cli.BoolFlag{Name: "verbose, v", Usage: "Debug logging"}
	flgName     = cli.StringFlag{Name: "name, n", Value: "gopher", Usage: "Device name served by the gap profile"}
	flgAdapter  = cli.StringFlag{Name: "adapter, a", Usage: "BlueZ adapter driving the radio, such as hci0"}
	flgBREDR    = cli.BoolFlag{Name: "bredr", Usage: "Publish SDP records for discoverable profiles"}
	flgTimeout  = cli.DurationFlag{Name: "timeout, t", Value: host.DefaultStartTimeout, Usage: "Profile startup timeout"}
	flgTick     = cli.DurationFlag{Name: "tick", Value: 5 * time.Second, Usage: "Status log interval"}
)

func main() {
	app := cli.NewApp()

	app.Name = "gattd"
	app.Usage = "Host GATT profiles on a shared attribute table"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{flgSettings, flgVerbose}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("verbose") {
			logger.SetLevel(logrus.DebugLevel)
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Run the installed profiles until interrupted",
			Action: run,
			Flags:  []cli.Flag{flgName, flgAdapter, flgBREDR, flgTimeout, flgTick},
		},
		{
			Name:    "explore",
			Aliases: []string{"e"},
			Usage:   "Start the installed profiles and print the attribute table as a client sees it",
			Action:  explore,
			Flags:   []cli.Flag{flgName, flgTimeout, flgPeer},
		},
		{
			Name:    "profiles",
			Aliases: []string{"p"},
			Usage:   "Manage installed profile packages",
			Subcommands: []cli.Command{
				{Name: "list", Aliases: []string{"ls"}, Usage: "List packages and their state", Action: list},
				{Name: "install", Usage: "Install a package", ArgsUsage: "NAME", Action: install},
				{Name: "remove", Aliases: []string{"rm"}, Usage: "Uninstall a package", ArgsUsage: "NAME", Action: remove},
				{Name: "clear", Usage: "Clear the blacklist flag of a package", ArgsUsage: "NAME", Action: clearBlacklist},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.WithError(err).Error("gattd failed")
		os.Exit(1)
	}
}

func openProfiles(c *cli.Context) (*host.Profiles, error) {
	store, err := settings.OpenFileStore(c.GlobalString("settings"))
	if err != nil {
		return nil, err
	}
	return host.NewProfiles(store, logger), nil
}

func packageArg(c *cli.Context) (string, error) {
	name := strings.TrimSpace(c.Args().First())
	if name == "" {
		return "", errors.New("missing package name")
	}
	return name, nil
}

func list(c *cli.Context) error {
	p, err := openProfiles(c)
	if err != nil {
		return err
	}
	known := service.NewBinder("", logger).Packages()
	for _, name := range known {
		state := "available"
		switch {
		case p.Blacklisted(name):
			state = "blacklisted"
		case p.IsInstalled(name):
			state = "installed"
		}
		fmt.Printf("%-10s %s\n", name, state)
	}
	return nil
}

func install(c *cli.Context) error {
	name, err := packageArg(c)
	if err != nil {
		return err
	}
	if _, _, err := service.NewBinder("", logger).Bind(name); err != nil {
		return err
	}
	p, err := openProfiles(c)
	if err != nil {
		return err
	}
	added, err := p.Install(name)
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("%s already installed\n", name)
	}
	return nil
}

func remove(c *cli.Context) error {
	name, err := packageArg(c)
	if err != nil {
		return err
	}
	p, err := openProfiles(c)
	if err != nil {
		return err
	}
	removed, err := p.Uninstall(name)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("%s not installed\n", name)
	}
	return nil
}

func clearBlacklist(c *cli.Context) error {
	name, err := packageArg(c)
	if err != nil {
		return err
	}
	p, err := openProfiles(c)
	if err != nil {
		return err
	}
	if p.Blacklisted(name) {
		p.SetBlacklisted(name, false)
		p.SetTableChanged(true)
	}
	return nil
}

func run(c *cli.Context) error {
	store, err := settings.OpenFileStore(c.GlobalString("settings"))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := host.Config{
		StartTimeout: c.Duration("timeout"),
		BREDR:        c.Bool("bredr"),
		Logger:       logger,
	}
	var adapter *bluez.Adapter
	if name := c.String("adapter"); name != "" {
		adapter, err = bluez.Open(name, logger)
		if err != nil {
			return errors.Wrap(err, "can't open adapter")
		}
		defer adapter.Close()
		cfg.Radio = adapter
	}

	tb := native.NewTable(logger)
	defer tb.Close()
	coord := host.NewCoordinator(tb, store, service.NewBinder(c.String("name"), logger), cfg)
	defer coord.Close()

	if adapter != nil {
		go func() {
			err := adapter.Watch(ctx, func(on bool) {
				var err error
				if on {
					err = coord.RadioOn()
				} else {
					err = coord.RadioOff()
				}
				if err != nil {
					logger.WithError(err).Error("radio transition failed")
				}
			})
			if err != nil {
				logger.WithError(err).Error("adapter watch stopped")
				cancel()
			}
		}()
	} else if err := coord.RadioOn(); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	tick := time.NewTicker(c.Duration("tick"))
	defer tick.Stop()
	for {
		select {
		case <-sigs:
			logger.Info("shutting down")
			return nil
		case <-ctx.Done():
			return errors.New("adapter lost")
		case <-tick.C:
			s := coord.Snapshot()
			logger.WithFields(logrus.Fields{
				"state":       s.State,
				"profiles":    len(s.Profiles),
				"blacklisted": strings.Join(s.Blacklisted, ","),
				"attributes":  len(tb.Handles()),
			}).Info("status")
		}
	}
}

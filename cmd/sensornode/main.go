package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/wicd/sensornode/internal/battery"
	"github.com/wicd/sensornode/internal/led"
	"github.com/wicd/sensornode/internal/module"
	"github.com/wicd/sensornode/internal/sensor"
	"github.com/wicd/sensornode/internal/state"
	"github.com/wicd/sensornode/internal/tele"
	"github.com/wicd/sensornode/log2"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "sensornode.hcl", "config file path")
	flagEnv := flag.String("env", "", "optional .env file loaded before config")
	flag.Parse()

	if sdnotify("start") {
		// under systemd, journal already timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Infof("hello")

	if *flagEnv != "" {
		if err := godotenv.Load(*flagEnv); err != nil {
			log.Errorf("env file %s: %v", *flagEnv, err)
		}
	} else {
		// default .env is optional
		_ = godotenv.Load()
	}

	config := state.ReadConfig(log, state.OsEnv, *flagConfig)
	if config.Node.Debug {
		log.SetLevel(log2.LDebug)
	}
	log.Debugf("config=%+v", config)

	g := state.NewGlobal(log, config)
	if err := g.BringUpNetwork(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	ledModule := led.New(log.Clone(log2.LInfo), config.LED)
	sht4x := sensor.New(log.Clone(log2.LInfo), config.Sensor)
	batteryModule := battery.New(log.Clone(log2.LInfo), config.Battery)
	session := tele.New(log, config.Tele)
	session.SetProvider(func() tele.SensorProvider {
		if !sht4x.Available() {
			return nil
		}
		return sht4x
	})

	mustRegister(g, "led", ledModule)
	mustRegister(g, "sht4x", sht4x)
	mustRegister(g, "battery", batteryModule)
	mustRegister(g, "mqtt", session)

	if ledModule.Available() {
		if err := ledModule.SetMode(led.ModeBlink); err != nil {
			log.Errorf("led: %v", err)
		}
	}

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		log.Infof("signal %v, stopping", sig)
		g.Alive.Stop()
	}()

	sdnotify(daemon.SdNotifyReady)
	g.StartupPrint("node ready")
	g.Run()
}

func mustRegister(g *state.Global, name string, m module.Module) {
	if err := g.Modules.Register(name, m); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "photosrv.yml"
	k              = koanf.New(".")
)

// envkey maps PHOTOSRV_REDIS_ADDR to redis.addr and so forth
func envkey(s string) string {
	s = strings.TrimPrefix(s, "PHOTOSRV_")
	return strings.ReplaceAll(strings.ToLower(s), "_", ".")
}

func setupconfig() {
	// a .env file in the working directory is folded into the environment
	godotenv.Load()
	k.Load(structs.Provider(Config{
		Addr:    ":8000",
		Log:     LogSetup{Level: "info"},
		Monitor: MonitorSetup{Seconds: 5, Depth: 1000},
		Nodes:   []ObjSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider("PHOTOSRV_", ".", envkey), nil); err != nil {
		log.Fatalf("error loading config from environment: %v", err)
	}
}

func root() {
	str := `photosrv communicates with laboratory current measurement hardware and
exposes an HTTP interface to it.  This enables a server-client architecture,
and the clients can leverage the excellent HTTP libraries for any programming
language.

Usage:
	photosrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `photosrv is amenable to configuration via its .yaml file.  For a primer on
YAML, see https://yaml.org/start.html

Any key may also be overridden from the environment with a PHOTOSRV_ prefixed
variable, underscores standing in for nesting.  PHOTOSRV_REDIS_ADDR=db:6379
overrides redis.addr.  A .env file in the working directory is read at startup.

Without a configuration, the server will close immediately and display an error
that there are no endpoints.

No two endpoints can have the same URL.

URLs may look like any variation between "lab/pico" or "/lab/pico/*", the
leading and trailing slashes, as well as the *, are added by the server if
missing.

Hardware and matching "type" fields, case insensitive:
- Keithley
	> 6487 picoammeter "6487", "keithley6487", "picoammeter"
- Agilent / Keysight
	> E3640A..E3649A power supply "e3640", "e364x", "psu"

Connections are TCP by default.  Set serial to true for RS232, gpib to the
instrument's bus address when it sits behind a Prologix adapter at addr, or
vid and pid for a USBTMC instrument.

With mock set to true, picoammeters are simulated in software and no hardware
is required.  Sweeps ramp a synthetic current through a 1 MOhm load in real
time.

If redis.addr is set, completed sweeps are archived to redis and announced on
a pub/sub channel.  The archive is served under /archive.

If monitor.enabled is true, the first picoammeter (or the node named by
monitor.node) is polled in the background and the trend is served under
/monitor, with prometheus metrics at /metrics.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("photosrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	logger := setupLogger(c.Log)
	mux := BuildMux(c, logger)
	logger.WithField("addr", c.Addr).Info("now listening for requests")
	logger.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}

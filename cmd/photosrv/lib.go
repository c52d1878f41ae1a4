package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nasa-jpl/picolab/agilent"
	"github.com/nasa-jpl/picolab/archive"
	"github.com/nasa-jpl/picolab/comm"
	"github.com/nasa-jpl/picolab/currmon"
	"github.com/nasa-jpl/picolab/generichttp"
	"github.com/nasa-jpl/picolab/keithley"
	"github.com/nasa-jpl/picolab/server/middleware/locker"
	"github.com/nasa-jpl/picolab/server/middleware/throttle"
	"github.com/nasa-jpl/picolab/sweep"
	"github.com/nasa-jpl/picolab/usbtmc"
	"github.com/nasa-jpl/picolab/util"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-yaml/yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ObjSetup holds the typical triplet of args for a New<device> call.
// Serial is not always used, and need not be populated in the config file
// if not used.
type ObjSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `yaml:"addr" koanf:"addr"`

	// Endpoint is the full path the routes from this device will be served on
	// ex. Endpoint="/lab/pico" will produce routes of /lab/pico/current, etc.
	Endpoint string `yaml:"endpoint" koanf:"endpoint"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"serial" koanf:"serial"`

	// GPIB is the bus address of the instrument when it sits behind a
	// Prologix adapter at Addr.  Zero means no adapter.
	GPIB int `yaml:"gpib" koanf:"gpib"`

	// VID and PID identify a USBTMC instrument.  When both are nonzero the
	// connection is USB and Addr is ignored.
	VID uint16 `yaml:"vid" koanf:"vid"`
	PID uint16 `yaml:"pid" koanf:"pid"`

	// Typ is the "type" of the object, e.g. 6487
	Type string `yaml:"type" koanf:"type"`

	// RPS rate limits requests to this node, in requests per second.
	// Zero disables throttling.
	RPS float64 `yaml:"rps" koanf:"rps"`
}

// LogSetup configures the server log.
type LogSetup struct {
	// Level is one of panic, fatal, error, warn, info, debug, trace
	Level string `yaml:"level" koanf:"level"`

	// Format is "text" or "json"
	Format string `yaml:"format" koanf:"format"`
}

// RedisSetup configures the sweep archive.  An empty Addr disables it.
type RedisSetup struct {
	Addr     string `yaml:"addr" koanf:"addr"`
	Password string `yaml:"password" koanf:"password"`
	DB       int    `yaml:"db" koanf:"db"`
	List     string `yaml:"list" koanf:"list"`
	Channel  string `yaml:"channel" koanf:"channel"`
	Depth    int64  `yaml:"depth" koanf:"depth"`
}

// MonitorSetup configures the background current monitor.
type MonitorSetup struct {
	Enabled bool `yaml:"enabled" koanf:"enabled"`

	// Node is the endpoint of the picoammeter to poll.  Empty means the
	// first picoammeter in the config.
	Node string `yaml:"node" koanf:"node"`

	// Seconds is the poll period
	Seconds float64 `yaml:"seconds" koanf:"seconds"`

	// Depth is the number of samples retained in the trend
	Depth int `yaml:"depth" koanf:"depth"`
}

// Config is a struct that holds the initialization parameters for various
// HTTP adapted devices.  It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"addr" koanf:"addr"`

	Mock bool `yaml:"mock" koanf:"mock"`

	Log LogSetup `yaml:"log" koanf:"log"`

	Redis RedisSetup `yaml:"redis" koanf:"redis"`

	Monitor MonitorSetup `yaml:"monitor" koanf:"monitor"`

	// Nodes is the list of nodes to set up
	Nodes []ObjSetup `yaml:"nodes" koanf:"nodes"`
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// setupLogger builds a logrus logger from the log config
func setupLogger(c LogSetup) *logrus.Logger {
	l := logrus.New()
	if strings.ToLower(c.Format) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	if c.Level != "" {
		lvl, err := logrus.ParseLevel(c.Level)
		if err != nil {
			l.Fatalf("invalid log level %q: %v", c.Level, err)
		}
		l.SetLevel(lvl)
	}
	return l
}

// new6487 picks the transport for a 6487 node
func new6487(node ObjSetup) *keithley.Keithley6487 {
	switch {
	case node.VID != 0 && node.PID != 0:
		pool := comm.NewPool(1, time.Hour, usbtmc.ConnMaker(node.VID, node.PID))
		return keithley.New6487FromPool(pool)
	case node.GPIB > 0:
		return keithley.New6487GPIB(node.Addr, node.GPIB)
	case node.Serial:
		return keithley.New6487Serial(node.Addr)
	default:
		return keithley.New6487(node.Addr)
	}
}

// newPSU picks the transport for an E364x node
func newPSU(node ObjSetup) *agilent.PowerSupply {
	switch {
	case node.VID != 0 && node.PID != 0:
		pool := comm.NewPool(1, time.Hour, usbtmc.ConnMaker(node.VID, node.PID))
		return agilent.NewPowerSupplyFromPool(pool)
	case node.GPIB > 0:
		return agilent.NewPowerSupplyGPIB(node.Addr, node.GPIB)
	case node.Serial:
		return agilent.NewPowerSupplySerial(node.Addr)
	default:
		return agilent.NewPowerSupply(node.Addr)
	}
}

// BuildMux uses the config to build a chi router with a submux per node.
// The mux serves a special route, /endpoints, which returns a map of all
// routes as JSON, and prometheus metrics on /metrics.
func BuildMux(c Config, log *logrus.Logger) chi.Router {
	// make the root handler
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	// connect to redis up front so a bad address fails loudly at boot
	var arc *archive.Archiver
	if c.Redis.Addr != "" {
		var err error
		arc, err = archive.New(archive.Config{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			List:     c.Redis.List,
			Channel:  c.Redis.Channel,
			Depth:    c.Redis.Depth,
		})
		if err != nil {
			log.WithError(err).Fatal("unable to connect to redis")
		}
		arc.SetLogger(log.WithField("node", "archive"))
		aw := archive.NewHTTPWrapper(arc)
		r := chi.NewRouter()
		aw.RT().Bind(r)
		root.Mount("/archive", r)
		supergraph["/archive"] = aw.RT().Endpoints()
	}

	// picoammeters by sanitized endpoint, for the monitor to poll
	readers := map[string]currmon.CurrentReader{}
	var firstReader currmon.CurrentReader

	// for every node specified, build a submux
	for _, node := range c.Nodes {
		var (
			httper generichttp.HTTPer
			pa     keithley.Picoammeter
			mws    []func(http.Handler) http.Handler
		)
		typ := strings.ToLower(node.Type)
		switch typ {

		case "6487", "keithley6487", "picoammeter":
			if c.Mock {
				pa = keithley.NewMock6487()
			} else {
				k6 := new6487(node)
				k6.SetLogger(log.WithField("node", node.Endpoint))
				pa = k6
			}
			w := keithley.NewHTTPWrapper(pa)
			if arc != nil {
				ep := node.Endpoint
				w.Archive = func(rec sweep.Recording) {
					if err := arc.Store(context.Background(), rec); err != nil {
						log.WithField("node", ep).WithError(err).Error("failed to archive sweep")
					}
				}
			}
			httper = w

		case "e3640", "e364x", "psu":
			if c.Mock {
				log.Fatal("agilent psu mock interface is not yet implemented")
			}
			psu := newPSU(node)
			psu.SetLogger(log.WithField("node", node.Endpoint))
			httper = agilent.NewHTTPWrapper(psu)

		default:
			log.Fatal("type ", typ, " not understood")
		}

		if node.RPS > 0 {
			burst := int(node.RPS)
			if burst < 1 {
				burst = 1
			}
			mws = append(mws, throttle.New(node.RPS, burst).Check)
		}

		// prepare the URL, "lab/pico" => "/lab/pico/*"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)

		// add the endpoints to the graph
		supergraph[hndlS] = httper.RT().Endpoints()

		// add a lock interface for this node
		lock := locker.New()

		// add the lock middleware
		locker.Inject(httper, lock)

		// bind to the mux
		r := chi.NewRouter()
		r.Use(mws...)
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)

		if pa != nil {
			readers[hndlS] = pa
			if firstReader == nil {
				firstReader = pa
			}
		}
	}

	if c.Monitor.Enabled {
		reader := firstReader
		if c.Monitor.Node != "" {
			reader = readers[generichttp.SubMuxSanitize(c.Monitor.Node)]
		}
		if reader == nil {
			log.Fatal("monitor is enabled but no picoammeter node matches")
		}
		secs := c.Monitor.Seconds
		if secs <= 0 {
			secs = 5
		}
		depth := c.Monitor.Depth
		if depth <= 0 {
			depth = 1000
		}
		mon := currmon.New(reader, util.SecsToDuration(secs), depth)
		mon.SetLogger(log.WithField("node", "monitor"))
		if err := mon.Register(prometheus.DefaultRegisterer); err != nil {
			log.WithError(err).Fatal("unable to register monitor metrics")
		}
		mon.Start()
		r := chi.NewRouter()
		mon.RT().Bind(r)
		root.Mount("/monitor", r)
		supergraph["/monitor"] = mon.RT().Endpoints()
	}

	root.Handle("/metrics", promhttp.Handler())
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

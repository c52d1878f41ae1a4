package keithley

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/picolab/generichttp"
	"github.com/nasa-jpl/picolab/generichttp/ascii"
	"github.com/nasa-jpl/picolab/sweep"
)

// measConfig is the request body for the configure endpoint
type measConfig struct {
	NPLC     float64 `json:"nplc"`
	Averages int     `json:"averages"`
}

// sweepConfig is the request body for the sweep configure endpoint.
// Delay is in milliseconds.
type sweepConfig struct {
	Start    float64 `json:"start"`
	Stop     float64 `json:"stop"`
	Step     float64 `json:"step"`
	Delay    float64 `json:"delay"`
	Averages int     `json:"averages"`
	Polarity string  `json:"polarity"`
}

// HTTPWrapper provides HTTP bindings on top of a Picoammeter
type HTTPWrapper struct {
	// Picoammeter is the wrapped instrument
	Picoammeter

	// RouteTable maps method-path pairs to handlers
	RouteTable generichttp.RouteTable

	// Archive, when non-nil, is handed every recording the buffer
	// endpoint serves
	Archive func(sweep.Recording)
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table
// pre-configured
func NewHTTPWrapper(p Picoammeter) *HTTPWrapper {
	w := &HTTPWrapper{Picoammeter: p}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/id"}:                  generichttp.GetString(p.ID),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/reset"}:              generichttp.Do(p.Reset),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/configure"}:          w.Configure,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sweep/configure"}:    w.ConfigureSweep,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sweep/start"}:        generichttp.Do(p.StartSweep),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/sweep/state"}:         w.SweepState,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/current"}:             generichttp.GetFloat(p.ReadCurrent),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/bias-voltage"}:       generichttp.SetFloat(p.SetBiasVoltage),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/buffer/size"}:         generichttp.GetInt(p.BufferSize),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/buffer"}:              w.Buffer,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/abort"}:              generichttp.Do(p.Abort),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/trigger-continuous"}: generichttp.Do(p.TriggerContinuously),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/zero-check"}:         generichttp.SetBool(p.ZeroCheck),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/source-enabled"}:     generichttp.SetBool(p.VoltageSourceEnabled),
	}
	ascii.InjectRawComm(rt, p)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Configure reads {nplc, averages} from the body and configures readings
func (h *HTTPWrapper) Configure(w http.ResponseWriter, r *http.Request) {
	cfg := measConfig{}
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.Picoammeter.Configure(cfg.NPLC, cfg.Averages)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ConfigureSweep reads {start, stop, step, delay, averages, polarity}
// from the body and programs a sweep
func (h *HTTPWrapper) ConfigureSweep(w http.ResponseWriter, r *http.Request) {
	cfg := sweepConfig{}
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.Picoammeter.ConfigureSweep(cfg.Start, cfg.Stop, cfg.Step, cfg.Delay, cfg.Averages, cfg.Polarity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SweepState responds {int: 16} when the sweep has finished filling the
// buffer, {int: 0} while it is still running
func (h *HTTPWrapper) SweepState(w http.ResponseWriter, r *http.Request) {
	st, err := h.Picoammeter.SweepState()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.Int, Int: int(st)}
	hp.EncodeAndRespond(w, r)
}

// Buffer fetches the trace buffer and serves it in the encoding picked by
// the fmt query parameter: json (default), csv, or fits
func (h *HTTPWrapper) Buffer(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Picoammeter.FetchBuffer()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.Archive != nil {
		go h.Archive(rec)
	}
	switch r.URL.Query().Get("fmt") {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(rec)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=sweep.csv")
		err = rec.EncodeCSV(w)
	case "fits":
		w.Header().Set("Content-Type", "image/fits")
		w.Header().Set("Content-Disposition", "attachment; filename=sweep.fits")
		err = rec.EncodeFITS(w)
	default:
		http.Error(w, "fmt must be one of json, csv, fits", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

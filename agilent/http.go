package agilent

import (
	"encoding/json"
	"net/http"

	"github.com/nasa-jpl/picolab/generichttp"
	"github.com/nasa-jpl/picolab/generichttp/ascii"
)

// applySetup is the request body for the apply endpoint
type applySetup struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

// HTTPWrapper provides HTTP bindings on top of a PowerSupply
type HTTPWrapper struct {
	// PowerSupply is the wrapped supply
	*PowerSupply

	// RouteTable maps method-path pairs to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table
// pre-configured
func NewHTTPWrapper(p *PowerSupply) *HTTPWrapper {
	w := &HTTPWrapper{PowerSupply: p}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/id"}:               generichttp.GetString(p.ID),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/reset"}:           generichttp.Do(p.Reset),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/apply"}:           w.Apply,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/voltage"}:          generichttp.GetFloat(p.GetVoltage),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/voltage"}:         generichttp.SetFloat(p.SetVoltage),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/current-limit"}:    generichttp.GetFloat(p.GetCurrentLimit),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/current-limit"}:   generichttp.SetFloat(p.SetCurrentLimit),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/output"}:           generichttp.GetBool(p.GetOutput),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}:          generichttp.SetBool(p.SetOutput),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/measured-voltage"}: generichttp.GetFloat(p.MeasureVoltage),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/measured-current"}: generichttp.GetFloat(p.MeasureCurrent),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/trigger"}:         generichttp.Do(p.Trigger),
	}
	ascii.InjectRawComm(rt, p)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Apply reads {voltage, current} from the body and programs both at once
func (h *HTTPWrapper) Apply(w http.ResponseWriter, r *http.Request) {
	setup := applySetup{}
	err := json.NewDecoder(r.Body).Decode(&setup)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.PowerSupply.Apply(setup.Voltage, setup.Current)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Package sweep provides types for voltage sweep recordings and their
// CSV and FITS encodings
package sweep

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
)

// bufferColumns is the number of fields per reading in the instrument's
// trace buffer with all elements enabled
const bufferColumns = 4

// Recording is the result of a voltage sweep: one reading per sweep point,
// each carrying the current, a relative timestamp, the status register,
// and the source voltage at the time of the reading.
type Recording struct {
	// Name labels the data, e.g. the instrument that took it
	Name string `json:"name"`

	// Taken is when the recording was retrieved from the instrument
	Taken time.Time `json:"taken"`

	// Currents is the measured current at each sweep point, amperes
	Currents []float64 `json:"currents"`

	// Times is the relative timestamp of each reading, seconds
	Times []float64 `json:"times"`

	// Statuses is the status register at each reading
	Statuses []float64 `json:"statuses"`

	// Voltages is the source voltage at each reading, volts
	Voltages []float64 `json:"voltages"`

	// Start, Stop, Step and Delay are the sweep parameters the recording
	// was taken with.  Delay is in milliseconds as given by the caller.
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
	Delay float64 `json:"delay"`

	// Averages is the repeat-average filter depth used, 1 for none
	Averages int `json:"averages"`
}

// PointCount is the number of readings a sweep from start to stop in
// increments of step produces, floor(|stop-start|/step + 1).  step == 0 is
// not guarded and yields a meaningless count.
func PointCount(start, stop, step float64) int {
	return int(math.Abs((stop-start)/step) + 1)
}

// ParseReading extracts the numeric value from a comma-separated reading
// such as "1.234E-6A,0,0": the first field, with the trailing unit letter
// stripped
func ParseReading(resp string) (float64, error) {
	fields := strings.Split(strings.TrimSpace(resp), ",")
	s := strings.TrimSuffix(fields[0], "A")
	return strconv.ParseFloat(s, 64)
}

// ParseBuffer parses a flat trace buffer dump ("cur,time,stat,volt,cur,...")
// into a Recording with the four data columns populated.  Unit letters are
// stripped.  The caller fills in the sweep parameters and labels.
func ParseBuffer(raw string) (Recording, error) {
	var rec Recording
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "A", ""))
	if raw == "" {
		return rec, errors.New("trace buffer was empty")
	}
	fields := strings.Split(raw, ",")
	if len(fields)%bufferColumns != 0 {
		return rec, fmt.Errorf("trace buffer held %d elements, not divisible by %d", len(fields), bufferColumns)
	}
	n := len(fields) / bufferColumns
	rec.Currents = make([]float64, n)
	rec.Times = make([]float64, n)
	rec.Statuses = make([]float64, n)
	rec.Voltages = make([]float64, n)
	for i := 0; i < n; i++ {
		row := fields[i*bufferColumns : (i+1)*bufferColumns]
		for j, dst := range []*[]float64{&rec.Currents, &rec.Times, &rec.Statuses, &rec.Voltages} {
			f, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil {
				return rec, fmt.Errorf("trace buffer element %d: %v", i*bufferColumns+j, err)
			}
			(*dst)[i] = f
		}
	}
	return rec, nil
}

// Len returns the number of readings in the recording
func (r Recording) Len() int {
	return len(r.Currents)
}

// EncodeCSV writes the recording to w as CSV, one row per reading with a
// header row first
func (r Recording) EncodeCSV(w io.Writer) error {
	n := r.Len()
	if len(r.Times) != n || len(r.Statuses) != n || len(r.Voltages) != n {
		return errors.New("recording columns have uneven lengths")
	}
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	row := []string{"voltage", "current", "time", "status"}
	err := cw.Write(row)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		row[0] = strconv.FormatFloat(r.Voltages[i], 'G', -1, 64)
		row[1] = strconv.FormatFloat(r.Currents[i], 'G', -1, 64)
		row[2] = strconv.FormatFloat(r.Times[i], 'G', -1, 64)
		row[3] = strconv.FormatFloat(r.Statuses[i], 'G', -1, 64)
		err = cw.Write(row)
		if err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// EncodeFITS writes the recording to w as a FITS file holding one float64
// image HDU.  The first axis runs along the readings; the second axis holds
// the current, time, status, and voltage columns in that order.  The sweep
// parameters ride along as header cards.
func (r Recording) EncodeFITS(w io.Writer) error {
	n := r.Len()
	if len(r.Times) != n || len(r.Statuses) != n || len(r.Voltages) != n {
		return errors.New("recording columns have uneven lengths")
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{n, bufferColumns})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "INSTRUME", Value: r.Name, Comment: "data source"},
		fitsio.Card{Name: "DATE-OBS", Value: r.Taken.UTC().Format(time.RFC3339), Comment: "time of retrieval, UTC"},
		fitsio.Card{Name: "SWPSTART", Value: r.Start, Comment: "sweep start, V"},
		fitsio.Card{Name: "SWPSTOP", Value: r.Stop, Comment: "sweep stop, V"},
		fitsio.Card{Name: "SWPSTEP", Value: r.Step, Comment: "sweep step, V"},
		fitsio.Card{Name: "SWPDELAY", Value: r.Delay, Comment: "source delay, ms"},
		fitsio.Card{Name: "AVERAGES", Value: r.Averages, Comment: "repeat average depth"},
		fitsio.Card{Name: "ROWORDER", Value: "current,time,status,voltage", Comment: "axis 2 meaning"},
	)
	if err != nil {
		return err
	}
	buf := make([]float64, 0, bufferColumns*n)
	buf = append(buf, r.Currents...)
	buf = append(buf, r.Times...)
	buf = append(buf, r.Statuses...)
	buf = append(buf, r.Voltages...)
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// Command ivsweep runs a current-voltage sweep on a photosrv picoammeter
// node and writes the recording to a file.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/theckman/yacspin"
)

// sweepSetup mirrors the body of POST /sweep/configure
type sweepSetup struct {
	Start    float64 `json:"start"`
	Stop     float64 `json:"stop"`
	Step     float64 `json:"step"`
	Delay    float64 `json:"delay"`
	Averages int     `json:"averages"`
	Polarity string  `json:"polarity"`
}

// floatT mirrors the single-float bodies the server traffics in
type floatT struct {
	F64 float64 `json:"f64"`
}

func post(url string, body interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	resp, err := http.Post(url, "application/json", rdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		txt, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: HTTP %d: %s", url, resp.StatusCode, strings.TrimSpace(string(txt)))
	}
	return nil
}

func die(s *yacspin.Spinner, msg string) {
	s.StopFailMessage(msg)
	s.StopFail()
	os.Exit(1)
}

func main() {
	var (
		addr     = flag.String("addr", "http://localhost:8000/pico", "base URL of the picoammeter node")
		start    = flag.Float64("start", 0, "sweep start voltage")
		stop     = flag.Float64("stop", 5, "sweep stop voltage")
		step     = flag.Float64("step", 0.5, "voltage increment per point")
		delay    = flag.Float64("delay", 500, "dwell per point, milliseconds")
		averages = flag.Int("averages", 1, "readings averaged per point")
		bias     = flag.Float64("bias", 0, "program this bias voltage before sweeping")
		polarity = flag.String("polarity", "Cathode", "sweep polarity, Anode or Cathode")
		format   = flag.String("fmt", "csv", "output format, one of json, csv, fits")
		out      = flag.String("o", "", "output file, defaults to sweep.<fmt>")
		poll     = flag.Duration("poll", 500*time.Millisecond, "how often to poll the sweep state")
		max      = flag.Duration("max", 10*time.Minute, "give up if the sweep is not done after this long")
	)
	flag.Parse()

	switch *format {
	case "json", "csv", "fits":
	default:
		log.Fatalf("fmt must be one of json, csv, fits, got %q", *format)
	}
	var pol string
	switch strings.ToLower(*polarity) {
	case "anode":
		pol = "Anode"
	case "cathode":
		pol = "Cathode"
	default:
		log.Fatalf("polarity must be Anode or Cathode, got %q", *polarity)
	}
	if *step == 0 {
		log.Fatal("step must be nonzero")
	}
	fn := *out
	if fn == "" {
		fn = "sweep." + *format
	}
	base := strings.TrimRight(*addr, "/")

	biasSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "bias" {
			biasSet = true
		}
	})
	if biasSet {
		if err := post(base+"/bias-voltage", floatT{F64: *bias}); err != nil {
			log.Fatalf("setting bias: %v", err)
		}
	}
	setup := sweepSetup{
		Start:    *start,
		Stop:     *stop,
		Step:     *step,
		Delay:    *delay,
		Averages: *averages,
		Polarity: pol,
	}
	if err := post(base+"/sweep/configure", setup); err != nil {
		log.Fatalf("configuring sweep: %v", err)
	}
	if err := post(base+"/sweep/start", nil); err != nil {
		log.Fatalf("starting sweep: %v", err)
	}

	points := int(math.Abs((*stop-*start) / *step)) + 1
	eta := time.Duration(float64(points) * *delay * float64(time.Millisecond))

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[59],
		Suffix:            " sweeping",
		SuffixAutoColon:   true,
		Message:           fmt.Sprintf("%d points, about %s", points, eta.Round(time.Second)),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	began := time.Now()
	state := struct {
		Int int `json:"int"`
	}{}
	for {
		if time.Since(began) > *max {
			die(spinner, fmt.Sprintf("sweep not done after %s", *max))
		}
		resp, err := http.Get(base + "/sweep/state")
		if err != nil {
			die(spinner, err.Error())
		}
		if resp.StatusCode != http.StatusOK {
			txt, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			die(spinner, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(txt))))
		}
		err = json.NewDecoder(resp.Body).Decode(&state)
		resp.Body.Close()
		if err != nil {
			die(spinner, err.Error())
		}
		if state.Int != 0 {
			break
		}
		spinner.Message(fmt.Sprintf("%d points, %s elapsed", points, time.Since(began).Round(time.Second)))
		time.Sleep(*poll)
	}
	spinner.StopMessage(fmt.Sprintf("swept %d points in %s", points, time.Since(began).Round(time.Second)))
	spinner.Stop()

	resp, err := http.Get(base + "/buffer?fmt=" + *format)
	if err != nil {
		log.Fatalf("fetching buffer: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		txt, _ := io.ReadAll(resp.Body)
		log.Fatalf("fetching buffer: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(txt)))
	}
	f, err := os.Create(fn)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %d bytes to %s\n", n, fn)
}

package sweep

import (
	"bytes"
	"encoding/csv"
	"math"
	"testing"
	"time"
)

func sampleRecording() Recording {
	return Recording{
		Name:     "Keithley6487",
		Taken:    time.Date(2021, 4, 2, 12, 0, 0, 0, time.UTC),
		Currents: []float64{1e-6, 2e-6, 3e-6},
		Times:    []float64{0, 0.5, 1},
		Statuses: []float64{0, 0, 0},
		Voltages: []float64{0, 0.5, 1},
		Start:    0,
		Stop:     1,
		Step:     0.5,
		Delay:    500,
		Averages: 3,
	}
}

func TestPointCount(t *testing.T) {
	cases := []struct {
		start, stop, step float64
		want              int
	}{
		{0, 5, 0.5, 11},
		{0, -5, 0.5, 11},
		{0, 5, 2, 3},
		{-2, 2, 0.5, 9},
	}
	for _, c := range cases {
		got := PointCount(c.start, c.stop, c.step)
		if got != c.want {
			t.Errorf("PointCount(%v, %v, %v) = %d, want %d", c.start, c.stop, c.step, got, c.want)
		}
	}
}

func TestParseReading(t *testing.T) {
	got, err := ParseReading("1.234E-6A,0,0")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-1.234e-6) > 1e-12 {
		t.Errorf("got %g, want 1.234e-6", got)
	}
}

func TestParseReadingTrimsWhitespace(t *testing.T) {
	got, err := ParseReading("-5.000E-9A,+1.5,+0\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got+5e-9) > 1e-15 {
		t.Errorf("got %g, want -5e-9", got)
	}
}

func TestParseReadingGarbage(t *testing.T) {
	_, err := ParseReading("ERROR")
	if err == nil {
		t.Error("expected an error parsing a non-numeric reading")
	}
}

func TestParseBuffer(t *testing.T) {
	raw := "+1.000E-06A,+0.0,+0,+0.0,+2.000E-06A,+0.5,+0,+0.5\n"
	rec, err := ParseBuffer(raw)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Len() != 2 {
		t.Fatalf("got %d readings, want 2", rec.Len())
	}
	if math.Abs(rec.Currents[1]-2e-6) > 1e-12 {
		t.Errorf("current[1] = %g, want 2e-6", rec.Currents[1])
	}
	if rec.Times[1] != 0.5 {
		t.Errorf("time[1] = %g, want 0.5", rec.Times[1])
	}
	if rec.Statuses[0] != 0 {
		t.Errorf("status[0] = %g, want 0", rec.Statuses[0])
	}
	if rec.Voltages[1] != 0.5 {
		t.Errorf("voltage[1] = %g, want 0.5", rec.Voltages[1])
	}
}

func TestParseBufferRaggedInput(t *testing.T) {
	_, err := ParseBuffer("1,2,3,4,5")
	if err == nil {
		t.Error("expected an error for an element count not divisible by four")
	}
}

func TestParseBufferEmpty(t *testing.T) {
	_, err := ParseBuffer("\r\n")
	if err == nil {
		t.Error("expected an error for an empty buffer")
	}
}

func TestEncodeCSV(t *testing.T) {
	rec := sampleRecording()
	var buf bytes.Buffer
	err := rec.EncodeCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	if rows[0][0] != "voltage" || rows[0][3] != "status" {
		t.Errorf("header row = %v", rows[0])
	}
	if rows[2][1] != "2E-06" {
		t.Errorf("current cell = %q, want 2E-06", rows[2][1])
	}
	if rows[3][0] != "1" {
		t.Errorf("voltage cell = %q, want 1", rows[3][0])
	}
}

func TestEncodeCSVUnevenColumns(t *testing.T) {
	rec := sampleRecording()
	rec.Times = rec.Times[:2]
	var buf bytes.Buffer
	if err := rec.EncodeCSV(&buf); err == nil {
		t.Error("expected an error for uneven columns")
	}
}

func TestEncodeFITS(t *testing.T) {
	rec := sampleRecording()
	var buf bytes.Buffer
	err := rec.EncodeFITS(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 || buf.Len()%2880 != 0 {
		t.Errorf("FITS output length %d is not a multiple of the 2880 byte block size", buf.Len())
	}
	for _, card := range []string{"INSTRUME", "SWPSTART", "AVERAGES", "DATE-OBS"} {
		if !bytes.Contains(buf.Bytes(), []byte(card)) {
			t.Errorf("FITS header is missing the %s card", card)
		}
	}
}

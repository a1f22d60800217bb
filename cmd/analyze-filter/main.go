// Command analyze-filter reports the frequency response of the mixer's
// resampling filters.
//
// Usage:
//
//	analyze-filter -source 44100 -dest 48000
//	analyze-filter -source 96000 -dest 48000 -kernel sinc -csv response.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/soundmesh/go-audio-mixer/internal/filter"
	"github.com/soundmesh/go-audio-mixer/timeline"
)

const (
	// Passband edge and stopband start, as fractions of the output
	// Nyquist frequency.
	passbandEdge  = 0.9
	stopbandStart = 1.1
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	sourceRate := flag.Int("source", 44100, "Source sample rate in Hz")
	destRate := flag.Int("dest", 48000, "Destination sample rate in Hz")
	kernel := flag.String("kernel", "sinc", "Kernel: sinc or point")
	csvPath := flag.String("csv", "", "Write the full response as CSV to this file")
	flag.Parse()

	var kind filter.Kind
	switch *kernel {
	case "sinc":
		kind = filter.KindSinc
	case "point":
		kind = filter.KindPoint
	default:
		return fmt.Errorf("unknown kernel %q (want sinc or point)", *kernel)
	}

	table := filter.Get(kind, int32(*sourceRate), int32(*destRate), timeline.FracBits)
	resp := filter.FrequencyResponse(table)

	// Frequencies in the response are normalized to the source Nyquist;
	// rescale band edges accordingly.
	outNyquist := float64(*destRate) / float64(*sourceRate)
	if outNyquist > 1 {
		outNyquist = 1
	}

	fmt.Printf("kernel:            %s\n", kind)
	fmt.Printf("rates:             %d Hz -> %d Hz\n", *sourceRate, *destRate)
	fmt.Printf("side taps:         %d\n", table.SideTaps())
	fmt.Printf("phases:            %d\n", table.NumPhases())
	fmt.Printf("passband ripple:   %.3f dB (to %.2f of output Nyquist)\n",
		resp.PassbandRippleDb(passbandEdge*outNyquist), passbandEdge)
	fmt.Printf("stopband atten:    %.1f dB (from %.2f of output Nyquist)\n",
		resp.StopbandAttenuationDb(stopbandStart*outNyquist), stopbandStart)

	if *csvPath != "" {
		if err := writeCSV(*csvPath, resp, float64(*sourceRate)); err != nil {
			return err
		}
		fmt.Printf("response written:  %s\n", *csvPath)
	}
	return nil
}

func writeCSV(path string, resp filter.Response, sourceRate float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"frequency_hz", "magnitude_db"}); err != nil {
		return err
	}
	for i, freq := range resp.Frequencies {
		hz := freq * sourceRate / 2
		rec := []string{
			strconv.FormatFloat(hz, 'f', 2, 64),
			strconv.FormatFloat(resp.MagnitudeDb[i], 'f', 4, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

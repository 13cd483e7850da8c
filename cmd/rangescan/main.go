// Command rangescan takes a burst of range measurements against a head and
// prints a summary, for bench verification of a rangefinder before handing
// it to linkd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"github.com/zedarvates/short-range-real-gibberlink/core"
	"github.com/zedarvates/short-range-real-gibberlink/internal/hardware/serialrange"
	"github.com/zedarvates/short-range-real-gibberlink/internal/hardware/simrange"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rangescan:", err)
		os.Exit(1)
	}
}

func run() error {
	device := flag.String("device", "", "serial device of the head (empty runs the simulator)")
	simDistance := flag.Float64("sim-distance", 25, "simulated target distance in metres")
	count := flag.Int("count", 20, "number of measurements to take")
	samples := flag.Int("samples", 5, "pings averaged per measurement")
	temperature := flag.Float64("temperature", 20, "air temperature in °C")
	humidity := flag.Float64("humidity", 50, "relative humidity in percent")
	pressure := flag.Float64("pressure", 1013.25, "air pressure in hPa")
	visibility := flag.Float64("visibility", 10000, "visibility in metres")
	flag.Parse()

	if *count < 1 {
		return fmt.Errorf("count must be at least 1")
	}

	var hw core.RangeHardware
	if *device != "" {
		driver, err := serialrange.Open(*device)
		if err != nil {
			return err
		}
		defer driver.Close()
		hw = driver
	} else {
		hw = simrange.New(time.Now().UnixNano(), *simDistance,
			simrange.WithJitter(20*time.Microsecond))
	}

	env := core.NewEnvironmentModel(core.LaserGreen.WavelengthNm())
	if err := env.Update(core.EnvironmentalConditions{
		TemperatureC: *temperature,
		HumidityPct:  *humidity,
		PressureHPa:  *pressure,
		VisibilityM:  *visibility,
	}); err != nil {
		return err
	}

	sensor, err := core.NewRangeSensor(hw, env, core.RangeSensorConfig{})
	if err != nil {
		return err
	}

	ctx := context.Background()
	distances := make([]float64, 0, *count)
	qualities := make([]float64, 0, *count)
	start := time.Now()
	for i := 0; i < *count; i++ {
		m, err := sensor.MeasureAveraged(ctx, *samples)
		if err != nil {
			return fmt.Errorf("measurement %d: %w", i+1, err)
		}
		distances = append(distances, m.DistanceM)
		qualities = append(qualities, m.SignalQuality)
	}
	elapsed := time.Since(start)

	mean := stat.Mean(distances, nil)
	sd := stat.StdDev(distances, nil)
	meanQ := stat.Mean(qualities, nil)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "measurements\t%d (%d pings each)\n", *count, *samples)
	fmt.Fprintf(w, "elapsed\t%s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "propagation speed\t%.2f m/s\n", env.PropagationSpeedMps())
	fmt.Fprintf(w, "mean distance\t%s\n", humanize.SIWithDigits(mean, 3, "m"))
	fmt.Fprintf(w, "std deviation\t%s\n", humanize.SIWithDigits(sd, 3, "m"))
	fmt.Fprintf(w, "mean signal quality\t%.2f\n", meanQ)
	fmt.Fprintf(w, "category\t%s\n", core.DefaultRangeThresholds().Categorize(mean))
	return w.Flush()
}

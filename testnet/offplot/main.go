// Plots offset and round trip time series produced by
// "timeservice tool -periodic".

package main

import (
	"bufio"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func main() {
	var inFile, outFile, title string
	flag.StringVar(&inFile, "in", "", "input file, one offset,rtt pair per line (default stdin)")
	flag.StringVar(&outFile, "out", "offsets.png", "output file")
	flag.StringVar(&title, "title", "", "plot title")
	flag.Parse()

	in := os.Stdin
	if inFile != "" {
		f, err := os.Open(inFile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		in = f
	}

	var offsets, rtts plotter.XYs
	s := bufio.NewScanner(in)
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		c := strings.Split(line, ",")
		if len(c) != 2 {
			log.Fatalf("line %d: expected offset,rtt", n)
		}
		off, err := strconv.ParseFloat(c[0], 64)
		if err != nil {
			log.Fatalf("line %d: %v", n, err)
		}
		rtt, err := strconv.ParseFloat(c[1], 64)
		if err != nil {
			log.Fatalf("line %d: %v", n, err)
		}
		x := float64(len(offsets))
		offsets = append(offsets, plotter.XY{X: x, Y: off})
		rtts = append(rtts, plotter.XY{X: x, Y: rtt})
	}
	if err := s.Err(); err != nil {
		log.Fatal(err)
	}
	if len(offsets) == 0 {
		log.Fatal("no samples")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "seconds"

	lo, err := plotter.NewLine(offsets)
	if err != nil {
		log.Fatal(err)
	}
	lo.Color = color.RGBA{B: 255, A: 255}
	lr, err := plotter.NewLine(rtts)
	if err != nil {
		log.Fatal(err)
	}
	lr.Color = color.RGBA{R: 255, A: 255}

	p.Add(lo, lr)
	p.Legend.Add("offset", lo)
	p.Legend.Add("rtt", lr)

	err = p.Save(24*vg.Centimeter, 12*vg.Centimeter, outFile)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("plotted %d samples to %s\n", len(offsets), outFile)
}

// Driver for quick experiments

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"example.com/device-time/core/estimator"
	"example.com/device-time/core/prober"
	"example.com/device-time/core/responder"
	"example.com/device-time/core/timebase"
	"example.com/device-time/driver/clocks"
	"example.com/device-time/net/tsp"
)

func runT() {
	var (
		laddr, raddr string
		dscp         uint
		periodic     bool
	)

	toolFlags := flag.NewFlagSet("t", flag.ExitOnError)
	toolFlags.StringVar(&laddr, "local", "", "Local address")
	toolFlags.StringVar(&raddr, "remote", "", "Remote address")
	toolFlags.UintVar(&dscp, "dscp", 0, "Differentiated services codepoint, must be in range [0, 63]")
	toolFlags.BoolVar(&periodic, "periodic", false, "Keep probing and print the fitted model")

	err := toolFlags.Parse(os.Args[2:])
	if err != nil || toolFlags.NArg() != 0 {
		panic("failed to parse arguments")
	}

	initLogger(logLevelVerbose)
	log := slog.Default()

	ctx := context.Background()

	lclk := clocks.NewSystemClock(log)
	timebase.RegisterClock(lclk)

	if raddr == "" {
		// Responder mode
		localAddr, err := net.ResolveUDPAddr("udp", laddr)
		if err != nil {
			panic(fmt.Sprintf("failed to parse local address: %v", err))
		}
		if localAddr.Port == 0 {
			localAddr.Port = tsp.DevicePort
		}
		responder.StartResponder(ctx, log, localAddr, "", nil, uint8(dscp), nil)
		select {}
	} else {
		// Prober mode
		localAddr := &net.UDPAddr{}
		if laddr != "" {
			localAddr, err = net.ResolveUDPAddr("udp", laddr)
			if err != nil {
				panic(fmt.Sprintf("failed to parse local address: %v", err))
			}
		}
		remoteAddr, err := net.ResolveUDPAddr("udp", raddr)
		if err != nil {
			panic(fmt.Sprintf("failed to parse remote address: %v", err))
		}
		if remoteAddr.Port == 0 {
			remoteAddr.Port = tsp.DevicePort
		}
		est := estimator.New(log, lclk, 0, 0)
		p := &prober.Prober{
			Log:       log,
			Estimator: est,
			DSCP:      uint8(dscp),
		}
		go func() {
			err := p.RunUDP(ctx, localAddr, remoteAddr)
			panic(fmt.Sprintf("prober stopped: %v", err))
		}()
		if !periodic {
			select {}
		}
		for {
			lclk.Sleep(1 * time.Second)
			m := est.Model()
			fmt.Printf("%.9f,%+.3f\n", m.A, m.B)
		}
	}
}

/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opentimelab/ptpoc/clock"
	"github.com/opentimelab/ptpoc/ptp/oclock"
	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
	"github.com/opentimelab/ptpoc/ptp/transport"

	_ "net/http/pprof"
)

func main() {
	cfg := oclock.DefaultConfig()

	var cfgPath string
	var logLevel string
	var pprofAddr string
	var ifaceName string
	var domain int
	var slaveOnly bool
	var monitoringPort int

	flag.StringVar(&cfgPath, "config", "", "Path to a config file")
	flag.StringVar(&ifaceName, "iface", cfg.Iface, "Set the interface")
	flag.IntVar(&domain, "domain", int(cfg.DomainNumber), "Set the PTP domain number")
	flag.BoolVar(&slaveOnly, "slaveonly", cfg.SlaveOnly, "Never take the master role")
	flag.IntVar(&monitoringPort, "monitoringport", cfg.MonitoringPort, "Port to run monitoring server on")
	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&pprofAddr, "pprofaddr", "", "host:port for the pprof to bind")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", logLevel)
	}

	if cfgPath != "" {
		c, err := oclock.ReadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Reading config: %v", err)
		}
		cfg = c
	}
	// explicit CLI flags win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iface":
			cfg.Iface = ifaceName
		case "domain":
			cfg.DomainNumber = uint8(domain)
		case "slaveonly":
			cfg.SlaveOnly = slaveOnly
		case "monitoringport":
			cfg.MonitoringPort = monitoringPort
		}
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Bad config: %v", err)
	}

	iface, err := net.InterfaceByName(cfg.Iface)
	if err != nil {
		log.Fatalf("Looking up interface %q: %v", cfg.Iface, err)
	}
	clockID, err := ptp.NewClockIdentity(iface.HardwareAddr)
	if err != nil {
		log.Fatalf("Deriving clock identity: %v", err)
	}
	log.Infof("using ClockIdentity %s (from %s), domain %d", clockID, iface.HardwareAddr, cfg.DomainNumber)

	tr, err := transport.Open(cfg.Iface)
	if err != nil {
		log.Fatalf("Transport init failed: %v", err)
	}
	defer tr.Close()

	if pprofAddr != "" {
		log.Warningf("Starting profiler on %s", pprofAddr)
		go func() {
			log.Println(http.ListenAndServe(pprofAddr, nil))
		}()
	}

	// monitoring
	stats := oclock.NewStats(prometheus.DefaultRegisterer)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.MonitoringPort)
		log.Infof("monitoring server on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("monitoring server: %v", err)
		}
	}()

	port := oclock.New(cfg, clockID, clock.NewSysClock(), tr, stats)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return tr.Run(ctx)
	})
	eg.Go(func() error {
		return port.Run(ctx, tr.Packets())
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Run failed: %v", err)
	}
}

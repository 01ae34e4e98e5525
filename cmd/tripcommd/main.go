package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/robotalks/tripcomm/pkg/bridge/mqtt"
	"github.com/robotalks/tripcomm/pkg/buffers"
	"github.com/robotalks/tripcomm/pkg/config"
	"github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/goose"
	"github.com/robotalks/tripcomm/pkg/transport"
)

var (
	meterPeriod  = 200 * time.Millisecond
	publishEvery = time.Second
)

func init() {
	config.SetupFlags()
	flag.DurationVar(&meterPeriod, "meter-period", meterPeriod, "Period of the synthetic metering updates")
	flag.DurationVar(&publishEvery, "publish-period", publishEvery, "Period of the values publish")
}

type daemon struct {
	conf   *config.Config
	unit   *buffers.Unit
	reg    *link.Registry
	ports  *link.PortSet
	engine *goose.Engine
	loops  map[string]*framework.Loop
}

// newPort creates a port named name over ch with the unit buffers and the
// default telemetry schedule.
func (d *daemon) newPort(name string, ch link.Channel) *link.Port {
	conf := d.conf.LinkConfig()
	conf.Name = name
	p := link.NewPort(conf, ch, d.reg)
	metering, rotated := d.unit.TelemetryKeys()
	p.SetDefaultTelemetry(metering, rotated...)
	return p
}

// serve runs a port over an accepted stream until ctx is done.
func (d *daemon) serve(ctx context.Context, s *transport.Stream) {
	p := d.newPort("ws-"+s.Name(), s)
	d.ports.Add(p)
	defer d.ports.Remove(p)

	l := framework.NewLoop()
	l.Name, l.Interval = p.Name(), d.conf.Tick
	l.Add(p).AddRunnable(buffers.NewReporter(d.unit, p))
	if err := l.Run(ctx); err != nil && err != context.Canceled {
		glog.Errorf("%s: %v", p.Name(), err)
	}
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := config.Default()
	st, err := conf.OpenStore()
	if err != nil {
		glog.Exitf("open store %q: %v", conf.Store, err)
	}
	defer st.Close()

	unit, err := buffers.NewUnit(st, conf.Firmware)
	if err != nil {
		glog.Exitf("load unit: %v", err)
	}
	d := &daemon{
		conf:  conf,
		unit:  unit,
		reg:   unit.Register(link.NewRegistry()),
		ports: link.NewPortSet(),
		loops: make(map[string]*framework.Loop),
	}

	runner := framework.NewRunner().HandleSignals()

	mainLoop := framework.NewLoop()
	mainLoop.Name, mainLoop.Interval = "link", conf.Tick
	d.loops[mainLoop.Name] = mainLoop

	var gooseLoop *framework.Loop
	if conf.GooseDevice != "" {
		s, err := transport.OpenSerial(conf.GooseDevice, conf.Baud)
		if err != nil {
			glog.Exitf("open %s: %v", conf.GooseDevice, err)
		}
		d.engine = goose.NewEngine(conf.GooseConfig(), s)
		gooseLoop = framework.NewLoop()
		gooseLoop.Name, gooseLoop.Interval = d.engine.Name(), conf.Sample
		gooseLoop.Add(s, d.engine)
		d.loops[gooseLoop.Name] = gooseLoop
		glog.Infof("publish link on %s as device %d", conf.GooseDevice, conf.DeviceID)
	}

	// the bridge hooks the engine, create it before the engine ticks.
	if conf.MQTTBrokerURL != "" {
		q, err := mqtt.NewQueueFromURL(conf.MQTTBrokerURL)
		if err != nil {
			glog.Exitf("mqtt %s: %v", conf.MQTTBrokerURL, err)
		}
		runner.Go(mqtt.New(q, d.engine, d.ports))
	}
	if gooseLoop != nil {
		runner.Go(framework.NamedRun(gooseLoop.Name, gooseLoop))
	}

	mainLoop.AddController(framework.PrLvHigh, &meter{
		Metering: unit.Metering,
		Engine:   d.engine,
		Period:   meterPeriod,
		Publish:  publishEvery,
	})

	if conf.Device != "" {
		s, err := transport.Open(conf.Device, conf.Baud)
		if err != nil {
			glog.Exitf("open %s: %v", conf.Device, err)
		}
		p := d.newPort(link.DefaultConfig().Name, s)
		d.ports.Add(p)
		mainLoop.Add(s, p).AddRunnable(buffers.NewReporter(unit, p))
		glog.Infof("primary link on %s", conf.Device)
	}
	runner.Go(framework.NamedRun(mainLoop.Name, mainLoop))

	if conf.Listen != "" {
		r := mux.NewRouter()
		r.Handle("/link", transport.WebsocketHandler(runner.Context, d.serve))
		runner.Go(framework.HTTPServer(&http.Server{Addr: conf.Listen, Handler: r}))
	}

	if conf.HTTP != "" {
		srv := &server{ports: d.ports, engine: d.engine, loops: d.loops, runner: runner}
		runner.Go(framework.HTTPServer(&http.Server{Addr: conf.HTTP, Handler: srv.router()}))
	}

	if err := runner.Wait(); err != nil {
		glog.Error(err)
	}
}

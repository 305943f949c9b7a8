package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/openlsm/lightctl/camera"
	"github.com/openlsm/lightctl/daq"
	"github.com/openlsm/lightctl/engine"
	"github.com/openlsm/lightctl/filterwheel"
	"github.com/openlsm/lightctl/httpapi"
	"github.com/openlsm/lightctl/laser"
	"github.com/openlsm/lightctl/motion"
	"github.com/openlsm/lightctl/shutter"
	"github.com/openlsm/lightctl/state"
	"github.com/openlsm/lightctl/waveform"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "lightctl.yml"
	k              = koanf.New(".")
)

type wheelcfg struct {
	// Addr is the controller address, host:port or a serial device path
	Addr   string          `yaml:"Addr"`
	Serial bool            `yaml:"Serial"`
	Filter map[string]byte `yaml:"Filter"`
	Zoom   map[string]byte `yaml:"Zoom"`
}

type config struct {
	Addr string `yaml:"Addr"`

	// Simulate runs against software devices instead of hardware
	Simulate bool `yaml:"Simulate"`

	CameraWidth  int  `yaml:"CameraWidth"`
	CameraHeight int  `yaml:"CameraHeight"`
	WriteFITS    bool `yaml:"WriteFITS"`

	Lasers []string `yaml:"Lasers"`
	Wheel  wheelcfg `yaml:"Wheel"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:         ":8000",
		Simulate:     true,
		CameraWidth:  2048,
		CameraHeight: 2048,
		Lasers:       []string{"488 nm", "561 nm", "638 nm"},
		Wheel: wheelcfg{
			Addr: "localhost:4001",
			Filter: map[string]byte{
				"Empty": 0, "405/50": 1, "480/40": 2, "525/50": 3,
				"535/30": 4, "590/50": 5, "615/40": 6, "645/40": 7,
			},
			Zoom: map[string]byte{
				"0.63x": 0, "1x": 1, "2x": 2, "4x": 3,
			},
		}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `lightctl runs a light-sheet microscope's acquisition engine and
exposes it over HTTP.  Clients set parameters, upload acquisition lists
and switch operating modes with plain HTTP requests, and follow capture
progress over a websocket.

Usage:
	lightctl <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `lightctl is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used and the server runs
against simulated hardware.  Set Simulate to false to connect the filter
wheel controller at Wheel.Addr; the remaining devices stay simulated until
their drivers are wired in.

The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated
defaults when making a config file.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("lightctl version %v\n", Version)
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)

	store := state.New()

	// waveform generation and the digital lines share one DAQ
	dev := daq.NewSim()
	waves := waveform.New(dev, store)
	shutters := shutter.NewPair(&daq.SimLine{}, &daq.SimLine{})
	laserLines := make(map[string]daq.Line, len(cfg.Lasers))
	for _, name := range cfg.Lasers {
		laserLines[name] = &daq.SimLine{}
	}
	lasers := laser.NewEnabler(laserLines)

	cam := camera.NewWorker(camera.NewSim(cfg.CameraWidth, cfg.CameraHeight))
	cam.WriteFITS = cfg.WriteFITS
	cam.Start()
	defer cam.Stop()

	stage := motion.NewWorker(motion.NewMockController(),
		[]string{"x", "y", "z", "theta", "f"}, store)
	stage.Start()
	defer stage.Shutdown()

	var wheel engine.Applier
	if cfg.Simulate {
		wheel = filterwheel.NewSim(cfg.Wheel.Filter, cfg.Wheel.Zoom)
	} else {
		w := filterwheel.New(cfg.Wheel.Addr, cfg.Wheel.Serial, cfg.Wheel.Filter, cfg.Wheel.Zoom)
		if err := w.Open(); err != nil {
			log.Fatal("could not reach filter wheel controller: ", err)
		}
		defer w.Close()
		wheel = w
	}

	eng := engine.New(store, engine.Hardware{
		Camera:    cam,
		Stage:     stage,
		Waveforms: waves,
		Shutters:  shutters,
		Lasers:    lasers,
		Wheel:     wheel,
	})
	if err := eng.SetMode(engine.ModeIdle); err != nil {
		log.Fatal(err)
	}

	api := httpapi.NewServer(store, eng)
	r := chi.NewRouter()
	api.Routes(r)
	log.Println("now listening for requests at", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, r))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}

// acqrun executes an acquisition list from a yaml file against simulated
// hardware, start to finish, with no server.  Useful for dry-running a list
// before committing microscope time to it.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/openlsm/lightctl/acq"
	"github.com/openlsm/lightctl/camera"
	"github.com/openlsm/lightctl/daq"
	"github.com/openlsm/lightctl/engine"
	"github.com/openlsm/lightctl/filterwheel"
	"github.com/openlsm/lightctl/laser"
	"github.com/openlsm/lightctl/motion"
	"github.com/openlsm/lightctl/shutter"
	"github.com/openlsm/lightctl/state"
	"github.com/openlsm/lightctl/waveform"
)

func usage() {
	fmt.Println(`acqrun dry-runs an acquisition list against simulated hardware.

Usage:
	acqrun <list.yml>`)
}

func main() {
	if len(os.Args) != 2 {
		usage()
		os.Exit(1)
	}
	list, err := acq.LoadYaml(os.Args[1])
	if err != nil {
		log.Fatal("could not load list: ", err)
	}
	if err := list.Validate(); err != nil {
		log.Fatal(err)
	}

	store := state.New()
	dev := daq.NewSim()
	lasers := map[string]daq.Line{}
	for i := range list {
		lasers[list[i].Laser] = &daq.SimLine{}
	}
	filters := map[string]byte{}
	zooms := map[string]byte{}
	for i := range list {
		filters[list[i].Filter] = byte(i)
		zooms[list[i].Zoom] = byte(i)
	}

	cam := camera.NewWorker(camera.NewSim(64, 64))
	cam.Start()
	defer cam.Stop()
	stage := motion.NewWorker(motion.NewMockController(),
		[]string{"x", "y", "z", "theta", "f"}, store)
	stage.Start()
	defer stage.Shutdown()

	eng := engine.New(store, engine.Hardware{
		Camera:    cam,
		Stage:     stage,
		Waveforms: waveform.New(dev, store),
		Shutters:  shutter.NewPair(&daq.SimLine{}, &daq.SimLine{}),
		Lasers:    laser.NewEnabler(lasers),
		Wheel:     filterwheel.NewSim(filters, zooms),
	})
	eng.PreviewInterval = time.Millisecond
	if err := eng.SetMode(engine.ModeIdle); err != nil {
		log.Fatal(err)
	}
	store.SetList(list)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[59],
		Suffix:        " running acquisition list",
		StopCharacter: "done",
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	defer spinner.Stop()

	if err := eng.SetMode(engine.ModeRunList); err != nil {
		log.Fatal(err)
	}
	for {
		select {
		case pr := <-eng.Progress():
			spinner.Message(fmt.Sprintf("acquisition %d/%d, image %d/%d",
				pr.CurrentAcq, pr.TotalAcqs, pr.ImageCounter, pr.TotalImageCount))
		case m := <-eng.Finished():
			spinner.Message(fmt.Sprintf("%s complete", m))
			return
		}
	}
}

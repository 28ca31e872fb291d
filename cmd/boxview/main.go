package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"

	"boxcraft.dev/internal/sim/tuning"
	"boxcraft.dev/internal/sim/world"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (optional)")
		seed       = flag.Int64("seed", 1337, "world seed")
		name       = flag.String("name", "viewer", "agent name")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tuning: %v\n", err)
		os.Exit(1)
	}
	w, err := world.New(world.ConfigFromTuning("local", *seed, tune), log.New(os.Stderr, "[world] ", log.LstdFlags))
	if err != nil {
		fmt.Fprintf(os.Stderr, "world: %v\n", err)
		os.Exit(1)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "screen: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "screen: %v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()

	v, err := newViewer(w, screen, *name)
	if err != nil {
		screen.Fini()
		fmt.Fprintf(os.Stderr, "join: %v\n", err)
		os.Exit(1)
	}
	run(v, screen, time.Second/time.Duration(tune.TickRateHz))
}

func run(v *viewer, screen tcell.Screen, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	events := make(chan tcell.Event, 64)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if !v.handleKey(ev) {
					return
				}
			case *tcell.EventResize:
				screen.Sync()
			}
		case <-ticker.C:
			v.step()
			v.draw()
		}
	}
}

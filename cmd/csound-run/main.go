package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	csound "github.com/jamestiotio/csound"
	"github.com/jamestiotio/csound/bridge"
	"github.com/jamestiotio/csound/render"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to the Csound WASM image")
		orcFile     = flag.String("orc", "", "Orchestra file to compile")
		scoFile     = flag.String("sco", "", "Score file to read")
		options     = flag.String("options", "", "Engine options (comma-separated)")
		sampleRate  = flag.Int("sr", 48000, "Host sample rate")
		duration    = flag.Duration("t", 0, "Stop after this duration (0 = run to end)")
		offline     = flag.Bool("offline", false, "Render offline instead of realtime")
		verbose     = flag.Bool("v", false, "Print engine log lines")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: csound-run -wasm <engine.wasm> -orc <file.orc> [-sco file.sco] [-t 10s]")
		fmt.Fprintln(os.Stderr, "       csound-run -wasm <engine.wasm> -orc <file.orc> -offline")
		fmt.Fprintln(os.Stderr, "       csound-run -wasm <engine.wasm> -orc <file.orc> -i  (interactive mode)")
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(*wasmFile, *orcFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *orcFile, *scoFile, *options, *sampleRate, *duration, *offline, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, orcFile, scoFile, optionsStr string, sampleRate int, duration time.Duration, offline, verbose bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	image, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	log := zap.NewNop()
	if verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("logger: %w", err)
		}
	}

	b := bridge.New(bridge.Options{Logger: log})
	defer b.Close(context.Background())

	inst, err := b.Initialize(ctx, render.Config{
		SampleRate:  sampleRate,
		WasmImage:   image,
		AutoConnect: !offline,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer inst.TerminateInstance(context.Background())

	ended := make(chan struct{}, 1)
	inst.AddListener(func(m csound.Message) {
		switch m.Kind {
		case csound.KindLog:
			if verbose {
				fmt.Println(m.Text)
			}
		case csound.KindPlayState:
			if m.PlayState == csound.PlayStateEnded || m.PlayState == csound.PlayStateRenderEnded {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		}
	})

	if optionsStr != "" {
		for _, opt := range strings.Split(optionsStr, ",") {
			if err := inst.SetOption(ctx, opt); err != nil {
				return fmt.Errorf("option %q: %w", opt, err)
			}
		}
	}

	if orcFile != "" {
		orc, err := os.ReadFile(orcFile)
		if err != nil {
			return fmt.Errorf("read orchestra: %w", err)
		}
		if err := inst.CompileOrc(ctx, string(orc)); err != nil {
			return fmt.Errorf("compile orchestra: %w", err)
		}
	}

	if scoFile != "" {
		sco, err := os.ReadFile(scoFile)
		if err != nil {
			return fmt.Errorf("read score: %w", err)
		}
		if err := inst.ReadScore(ctx, string(sco)); err != nil {
			return fmt.Errorf("read score: %w", err)
		}
	}

	if offline {
		fmt.Println("Rendering offline...")
		result, err := inst.RenderOffline(ctx)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		fmt.Printf("Render finished with result %d\n", result)
		return nil
	}

	fmt.Printf("Performing %s\n", inst.ContextUID())
	if err := inst.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var timeout <-chan time.Time
	if duration > 0 {
		timeout = time.After(duration)
	}
	select {
	case <-ended:
		fmt.Println("Performance ended")
		return nil
	case <-timeout:
	case <-ctx.Done():
	}

	result, err := inst.Stop(context.Background())
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	fmt.Printf("Performance stopped with result %d\n", result)
	return nil
}

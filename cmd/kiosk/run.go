package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/storytime/internal/convclient"
	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/kiosk"
	"github.com/ashureev/storytime/internal/probe"
	"github.com/ashureev/storytime/internal/speech"
	"github.com/ashureev/storytime/web"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const pageConnectTimeout = 2 * time.Minute

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one conversation (default)",
	RunE:  runConversation,
}

func init() {
	viper.SetDefault("image", "forest")
	viper.SetDefault("duration", 60*time.Second)
	viper.SetDefault("speech", "console")
	viper.SetDefault("bridge-addr", ":3002")

	// Registered on root so that a bare `kiosk` accepts them too.
	flags := rootCmd.PersistentFlags()
	flags.String("image", "forest", "catalog image id or title")
	flags.Duration("duration", 60*time.Second, "conversation length")
	flags.String("speech", "console", "speech engines: console or bridge")
	flags.String("bridge-addr", ":3002", "listen address for the browser speech bridge")
	for _, name := range []string{"image", "duration", "speech", "bridge-addr"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

type engines struct {
	synth    speech.Synthesizer
	rec      speech.Recognizer
	renderer kiosk.Renderer
	controls []<-chan speech.Control
}

//nolint:gocyclo // Wiring is sequential to keep dependency setup explicit.
func runConversation(cmd *cobra.Command, _ []string) error {
	img, ok := domain.FindImage(viper.GetString("image"))
	if !ok {
		return fmt.Errorf("unknown image %q (see `kiosk images`)", viper.GetString("image"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := viper.GetString("health-addr"); addr != "" {
		if err := waitServing(ctx, addr); err != nil {
			return err
		}
	}

	logger := slog.Default()
	client := convclient.New(viper.GetString("server"), viper.GetDuration("request-timeout"))
	console := speech.NewConsole(os.Stdin, cmd.OutOrStdout())

	g, gctx := errgroup.WithContext(ctx)
	sessCtx, endSession := context.WithCancel(gctx)
	defer endSession()

	eng := engines{
		synth:    console,
		rec:      console,
		renderer: &kiosk.ConsoleRenderer{Console: console},
		controls: []<-chan speech.Control{console.Controls()},
	}

	switch mode := viper.GetString("speech"); mode {
	case "console":
	case "bridge":
		bridge := speech.NewBridge(logger)
		srv := bridgeServer(viper.GetString("bridge-addr"), bridge)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("bridge server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		console.Printf("Open http://localhost%s in a browser to use its voice.\n", viper.GetString("bridge-addr"))
		waitCtx, cancel := context.WithTimeout(gctx, pageConnectTimeout)
		err := bridge.WaitConnected(waitCtx)
		cancel()
		if err != nil {
			console.Printf("(no browser connected, using text only)\n")
		}

		eng.synth = speech.SynthesizerWithFallback(bridge, console)
		eng.rec = speech.RecognizerWithFallback(bridge, console)
		eng.renderer = kiosk.Renderers{eng.renderer, kiosk.BridgeRenderer{Bridge: bridge}}
		eng.controls = append(eng.controls, bridge.Controls())
	default:
		return fmt.Errorf("unknown speech mode %q", mode)
	}

	voice := speech.NewVoice(eng.synth, speech.DefaultVoice(), logger)
	m := kiosk.New(kiosk.Config{
		Client: client,
		Output: voice,
		NewInput: func(onTranscript func(speech.Transcript), onError func(error)) kiosk.Input {
			return speech.NewListener(eng.rec, speech.DefaultRecognition(), onTranscript, onError, logger)
		},
		Renderer: eng.renderer,
		Duration: viper.GetDuration("duration"),
		Logger:   logger,
	})

	g.Go(func() error { return m.Run(sessCtx) })
	g.Go(func() error { return console.Run(sessCtx) })
	g.Go(func() error {
		forwardControls(sessCtx, m, eng.controls)
		return nil
	})
	g.Go(func() error {
		select {
		case <-m.Ended():
		case <-sessCtx.Done():
		}
		endSession()
		return nil
	})

	console.Printf("%s: %s\n(press Enter to talk, type /end to finish)\n", img.Title, img.Description)
	m.Begin("session_"+uuid.NewString(), img)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// forwardControls turns console and page controls into machine events.
func forwardControls(ctx context.Context, m *kiosk.Machine, sources []<-chan speech.Control) {
	merged := make(chan speech.Control)
	for _, src := range sources {
		go func(src <-chan speech.Control) {
			for {
				select {
				case c := <-src:
					select {
					case merged <- c:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(src)
	}

	for {
		select {
		case c := <-merged:
			switch c {
			case speech.ControlTap:
				m.TapToTalk()
			case speech.ControlEnd:
				m.End()
			}
		case <-ctx.Done():
			return
		}
	}
}

func bridgeServer(addr string, bridge *speech.Bridge) *http.Server {
	r := chi.NewRouter()
	r.Handle("/ws", bridge)
	r.Handle("/*", web.SPAHandler())
	return &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}

func waitServing(ctx context.Context, addr string) error {
	hc, err := probe.Dial(addr, 5*time.Second, slog.Default())
	if err != nil {
		return err
	}
	defer hc.Close()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := hc.WaitServing(waitCtx); err != nil {
		return fmt.Errorf("conversation service not ready: %w", err)
	}
	return nil
}

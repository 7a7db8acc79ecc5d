package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/speters/slcan-tunnel/netdev"
	"github.com/speters/slcan-tunnel/tunnel"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Exit codes
const (
	exitOK     = 0
	exitUsage  = 1
	exitSetup  = 2
	exitForced = 3
)

var (
	compress   bool
	stream     string
	baud       int
	httpServe  string
	grace      time.Duration
	poll       time.Duration
	verbose    bool
	cpuprofile string
	memprofile string
)

// newBinder provisions the CAN interface of a run
var newBinder = func() tunnel.Binder { return netdev.NewPtyBinder() }

// To be set via go build -ldflags "-X main.buildVersion=$(git describe --dirty) -X main.buildDate=$(date -u +%FT%TZ)"
var buildVersion = "unspecified"
var buildDate = "unknown"

var rootCmd = &cobra.Command{
	Use:   "slcan-tunnel [flags] <device-name>",
	Short: "Tunnel SLCAN between a virtual CAN interface and a byte stream",
	Long: `Creates an SLCAN network interface named <device-name> on this host and
relays its traffic to a byte stream, by default standard input and output.
With --compress, CAN frames on the stream use a compact binary encoding.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&compress, "compress", "z", false, "use the compact frame encoding on the stream")
	f.StringVarP(&stream, "stream", "c", "stdio", "stream endpoint: stdio, socket://host:port, listen://[host]:port or a serial device")
	f.IntVarP(&baud, "baud", "b", tunnel.DefaultBaud, "baudrate of a serial stream")
	f.StringVarP(&httpServe, "status", "s", "", "start http status server at [bindtohost][:]port")
	f.DurationVar(&grace, "grace", tunnel.DefaultGracePeriod, "time workers get to stop before their descriptors are closed")
	f.DurationVar(&poll, "poll", tunnel.DefaultPollInterval, "worker poll interval during shutdown")
	f.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	f.StringVar(&cpuprofile, "cpuprofile", "", "write cpu profile to `file`")
	f.StringVar(&memprofile, "memprofile", "", "write memory profile to `file`")
}

// exitError carries the process exit code of a failed run
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute())
}

func execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan os.Signal, 1)
	signal.Notify(done,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer signal.Stop(done)

	go func() {
		s := <-done
		log.Infof("got %v, exiting", s)
		cancel()
		// Failsafe if an abandoned worker keeps the process alive
		<-time.After(2*grace + 5*time.Second)
		log.Fatal("took too long to shut down, forcefully exiting")
	}()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		log.Error(ee.err)
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	rootCmd.Usage()
	return exitUsage
}

func run(cmd *cobra.Command, args []string) error {
	if verbose {
		log.SetLevel(log.DebugLevel)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}
	if memprofile != "" {
		defer writeMemProfile(memprofile)
	}

	ctx := cmd.Context()
	source, sink, err := tunnel.OpenStream(ctx, stream, baud)
	if err != nil {
		return &exitError{exitSetup, fmt.Errorf("failed to open stream %s: %w", stream, err)}
	}

	cfg := tunnel.Config{
		Name:         args[0],
		Compress:     compress,
		PollInterval: poll,
		GracePeriod:  grace,
	}
	sup := tunnel.NewSupervisor(cfg, newBinder(), source, sink)

	return exitCode(serve(ctx, sup, httpServe))
}

// serve runs the supervisor and, if addr is set, the status server until the
// tunnel has terminated.
func serve(ctx context.Context, sup *tunnel.Supervisor, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return sup.Run(gctx)
	})

	if addr != "" {
		// accept :[portnum] as well as [portnum]
		if i, err := strconv.Atoi(addr); err == nil {
			addr = fmt.Sprintf(":%d", i)
		}
		h := &http.Server{Addr: addr, Handler: newRouter(sup)}
		g.Go(func() error {
			log.Infof("Status server listening on %v", addr)
			if err := h.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			return h.Shutdown(sctx)
		})
	}
	return g.Wait()
}

// exitCode attaches the process exit code to the result of a tunnel run
func exitCode(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tunnel.ErrForcedShutdown):
		return &exitError{exitForced, err}
	}
	// a *tunnel.SetupError, or the status server could not listen
	return &exitError{exitSetup, err}
}

func writeMemProfile(name string) {
	f, err := os.Create(name)
	if err != nil {
		log.Error("could not create memory profile: ", err)
		return
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Error("could not write memory profile: ", err)
	}
}

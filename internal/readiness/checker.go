package readiness

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds the driver command so readiness queries never hang.
const DefaultTimeout = 10 * time.Second

// maxDetails caps how much driver output is echoed back.
const maxDetails = 1000

// CommandRunner executes name with args and returns captured output.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

// Options configures a Checker. Zero values select the real environment.
type Options struct {
	DriverCommand string
	Timeout       time.Duration
	LookPath      func(file string) (string, error)
	Run           CommandRunner
	Devices       DeviceQuerier
	Libraries     LibraryFinder
	// LoadLibrary opens and releases a shared library; defaults to dlopen.
	LoadLibrary   func(path string) error
	Logger        zerolog.Logger
}

// Checker runs environment probes.
type Checker struct {
	driverCmd string
	timeout   time.Duration
	lookPath  func(string) (string, error)
	run       CommandRunner
	devices   DeviceQuerier
	libs      LibraryFinder
	loadLib   func(string) error
	log       zerolog.Logger
}

// New returns a Checker with defaults applied.
func New(opts Options) *Checker {
	c := &Checker{
		driverCmd: opts.DriverCommand,
		timeout:   opts.Timeout,
		lookPath:  opts.LookPath,
		run:       opts.Run,
		devices:   opts.Devices,
		libs:      opts.Libraries,
		loadLib:   opts.LoadLibrary,
		log:       opts.Logger,
	}
	if c.driverCmd == "" {
		c.driverCmd = "nvidia-smi"
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.lookPath == nil {
		c.lookPath = exec.LookPath
	}
	if c.run == nil {
		c.run = runCommand
	}
	if c.devices == nil {
		c.devices = NewProcQuerier("")
	}
	if c.libs == nil {
		c.libs = NewLibraryFinder(nil, nil)
	}
	if c.loadLib == nil {
		c.loadLib = openLibrary
	}
	return c
}

// SummarizeHost runs the driver, accelerator and quantization checks.
func (c *Checker) SummarizeHost(ctx context.Context) Report {
	var driver, accel, quant CheckResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { driver = c.CheckDriver(gctx); return nil })
	g.Go(func() error { accel = c.CheckAccelerator(gctx); return nil })
	g.Go(func() error { quant = c.CheckQuantization(gctx); return nil })
	_ = g.Wait()
	return NewReport(map[string]CheckResult{
		CheckDriver:       driver,
		CheckAccelerator:  accel,
		CheckQuantization: quant,
	})
}

// SummarizeRuntime skips the driver check, which says nothing useful inside a
// container where the driver lives on the host.
func (c *Checker) SummarizeRuntime(ctx context.Context) Report {
	var accel, quant CheckResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { accel = c.CheckAccelerator(gctx); return nil })
	g.Go(func() error { quant = c.CheckQuantization(gctx); return nil })
	_ = g.Wait()
	return NewReport(map[string]CheckResult{
		CheckAccelerator:  accel,
		CheckQuantization: quant,
	})
}

// Summarize picks the report variant for the execution environment.
func (c *Checker) Summarize(ctx context.Context, isolated bool) Report {
	if isolated {
		return c.SummarizeRuntime(ctx)
	}
	return c.SummarizeHost(ctx)
}

// LogReport writes one line per check: warn when ok so the result shows at the
// default level, error otherwise.
func (c *Checker) LogReport(r Report) {
	for _, name := range r.Names() {
		res := r.Checks[name]
		if res.OK {
			c.log.Warn().Str("check", name).Msg(res.Message)
			continue
		}
		c.log.Error().Str("check", name).Str("details", res.Details).Msg(res.Message)
	}
}

// guard converts a panic inside a probe into a failed result.
func guard(name string, res *CheckResult) {
	if r := recover(); r != nil {
		*res = CheckResult{OK: false, Message: name + " check panicked", Details: fmt.Sprint(r)}
	}
}

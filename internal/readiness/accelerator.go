package readiness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrRuntimeUnavailable means the GPU runtime interface itself is missing,
// as opposed to present but exposing no devices.
var ErrRuntimeUnavailable = errors.New("gpu runtime unavailable")

// Device is one accelerator visible to this process.
type Device struct {
	Index int
	Name  string
	UUID  string
}

// DeviceQuerier lists accelerators visible to the process.
type DeviceQuerier interface {
	Devices(ctx context.Context) ([]Device, error)
}

// DeviceQuerierFunc adapts a function to DeviceQuerier.
type DeviceQuerierFunc func(ctx context.Context) ([]Device, error)

func (f DeviceQuerierFunc) Devices(ctx context.Context) ([]Device, error) { return f(ctx) }

// CheckAccelerator reports whether CUDA devices are visible.
func (c *Checker) CheckAccelerator(ctx context.Context) (res CheckResult) {
	defer guard("cuda", &res)

	devs, err := c.devices.Devices(ctx)
	switch {
	case errors.Is(err, ErrRuntimeUnavailable):
		return CheckResult{
			OK:      false,
			Message: "CUDA runtime is not available to this process.",
			Details: err.Error() + ". Check the NVIDIA driver and, in containers, start with GPU access (--gpus all).",
		}
	case err != nil:
		return CheckResult{OK: false, Message: "error while querying CUDA devices.", Details: err.Error()}
	case len(devs) == 0:
		return CheckResult{
			OK:      false,
			Message: "no CUDA devices are visible to this process.",
			Details: "Check the NVIDIA driver, CUDA_VISIBLE_DEVICES and the container GPU runtime.",
		}
	}
	name := devs[0].Name
	if name == "" {
		name = "unknown"
	}
	return CheckResult{OK: true, Message: "CUDA devices are visible.", Details: fmt.Sprintf("GPU: %s; count=%d", name, len(devs))}
}

// ProcQuerier reads devices from the NVIDIA kernel driver's procfs tree and
// applies CUDA_VISIBLE_DEVICES the way the CUDA runtime does.
type ProcQuerier struct {
	Root string
	// Getenv defaults to os.LookupEnv.
	Getenv func(key string) (string, bool)
}

// NewProcQuerier returns a querier rooted at root ("" = /proc/driver/nvidia).
func NewProcQuerier(root string) *ProcQuerier {
	if root == "" {
		root = "/proc/driver/nvidia"
	}
	return &ProcQuerier{Root: root, Getenv: os.LookupEnv}
}

func (q *ProcQuerier) Devices(ctx context.Context) ([]Device, error) {
	if _, err := os.Stat(q.Root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not present", ErrRuntimeUnavailable, q.Root)
		}
		return nil, err
	}
	infos, err := filepath.Glob(filepath.Join(q.Root, "gpus", "*", "information"))
	if err != nil {
		return nil, err
	}
	sort.Strings(infos)
	devs := make([]Device, 0, len(infos))
	for i, p := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := parseInformation(p)
		if err != nil {
			return nil, err
		}
		d.Index = i
		devs = append(devs, d)
	}
	getenv := q.Getenv
	if getenv == nil {
		getenv = os.LookupEnv
	}
	if v, ok := getenv("CUDA_VISIBLE_DEVICES"); ok {
		devs = filterVisible(devs, v)
	}
	return devs, nil
}

func parseInformation(path string) (Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return Device{}, err
	}
	defer f.Close()
	var d Device
	s := bufio.NewScanner(f)
	for s.Scan() {
		key, val, ok := strings.Cut(s.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Model":
			d.Name = strings.TrimSpace(val)
		case "GPU UUID":
			d.UUID = strings.TrimSpace(val)
		}
	}
	return d, s.Err()
}

// filterVisible keeps devices selected by a CUDA_VISIBLE_DEVICES value.
// Entries are ordinals or UUID prefixes; parsing stops at the first entry
// that matches nothing, mirroring the CUDA runtime.
func filterVisible(devs []Device, spec string) []Device {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	var out []Device
	seen := map[int]bool{}
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		idx := -1
		if n, err := strconv.Atoi(tok); err == nil {
			if n >= 0 && n < len(devs) {
				idx = n
			}
		} else if tok != "" {
			for i, d := range devs {
				if d.UUID != "" && strings.HasPrefix(d.UUID, tok) {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			break
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, devs[idx])
		}
	}
	return out
}

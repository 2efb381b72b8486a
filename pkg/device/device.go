package device

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tunebench/tunebench/pkg/log"
	"github.com/tunebench/tunebench/pkg/utils"
)

// Environment variable restricting which devices a process may see.
const VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

// Device ordinal meaning "no affinity"; a worker with this ordinal sees
// whatever devices the parent sees.
const Agnostic = -1

// Counter reports the number of devices installed on the host. It is a
// collaborator owned by the device driver integration; the default
// probes nvidia-smi and reports zero when the tool is unavailable.
var Counter = func() int {
	out, err := exec.Command("nvidia-smi", "-L").Output()
	if err != nil {
		return 0
	}

	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "GPU ") {
			count++
		}
	}
	return count
}

// Synchronize flushes outstanding work on the device so that deferred
// execution errors surface immediately. A collaborator owned by the
// device driver integration; the default is a no-op.
var Synchronize = func(device int) error {
	return nil
}

// WithVisible makes only the given device visible to processes spawned
// while fn runs. The previous value of the visibility variable is
// restored when fn returns, including the case where it was unset,
// regardless of errors. With an agnostic device the environment is left
// untouched.
func WithVisible(device int, fn func() error) error {
	if device == Agnostic {
		return fn()
	}

	current, present := os.LookupEnv(VisibleDevicesEnv)
	os.Setenv(VisibleDevicesEnv, strconv.Itoa(device))

	defer func() {
		if present {
			os.Setenv(VisibleDevicesEnv, current)
		} else {
			os.Unsetenv(VisibleDevicesEnv)
		}
	}()

	return fn()
}

// List enumerates the device ordinals the pool should spawn workers
// for. With multi-device mode off, a single agnostic worker is used.
// Otherwise an operator-set visibility variable selects the devices;
// absent that, every installed device is used. A host without devices
// degrades to a single agnostic worker.
func List(multiDevice bool) ([]int, error) {
	if !multiDevice {
		return []int{Agnostic}, nil
	}

	count := Counter()

	if visible, ok := os.LookupEnv(VisibleDevicesEnv); ok {
		devices, err := parseVisible(visible)
		if err != nil {
			return nil, err
		}
		if len(devices) > count {
			return nil, fmt.Errorf("%w: %s names %d devices, only %d installed",
				utils.ErrBadRequest, VisibleDevicesEnv, len(devices), count)
		}
		return devices, nil
	}

	if count == 0 {
		log.Warn("No devices detected, falling back to a single device-agnostic worker")
		return []int{Agnostic}, nil
	}

	devices := make([]int, count)
	for i := range devices {
		devices[i] = i
	}
	return devices, nil
}

func parseVisible(visible string) ([]int, error) {
	var devices []int
	for _, field := range strings.Split(visible, ",") {
		ordinal, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s value %q", utils.ErrParse, VisibleDevicesEnv, visible)
		}
		devices = append(devices, ordinal)
	}
	return devices, nil
}

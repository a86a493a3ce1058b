//go:build nvml

// Package nvml wraps NVIDIA Management Library via dlopen (no
// compile-time dependency on the NVIDIA driver), the same approach as
// the teacher's pkg/worker/nvml package. Build with -tags nvml.
package nvml

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

typedef int nvmlReturn_t;
typedef void* nvmlDevice_t;

typedef struct {
    unsigned long long total;
    unsigned long long free;
    unsigned long long used;
} nvmlMemory_t;

typedef struct {
    unsigned int gpu;
    unsigned int memory;
} nvmlUtilization_t;

static void* nvml_lib = NULL;

typedef nvmlReturn_t (*nvmlInit_t)(void);
typedef nvmlReturn_t (*nvmlShutdown_t)(void);
typedef nvmlReturn_t (*nvmlDeviceGetCount_t)(unsigned int*);
typedef nvmlReturn_t (*nvmlDeviceGetHandleByIndex_t)(unsigned int, nvmlDevice_t*);
typedef nvmlReturn_t (*nvmlDeviceGetMemoryInfo_t)(nvmlDevice_t, nvmlMemory_t*);
typedef nvmlReturn_t (*nvmlDeviceGetUtilizationRates_t)(nvmlDevice_t, nvmlUtilization_t*);
typedef nvmlReturn_t (*nvmlDeviceGetTemperature_t)(nvmlDevice_t, int, unsigned int*);
typedef nvmlReturn_t (*nvmlDeviceGetPowerUsage_t)(nvmlDevice_t, unsigned int*);
typedef nvmlReturn_t (*nvmlDeviceGetName_t)(nvmlDevice_t, char*, unsigned int);

static nvmlInit_t f_nvmlInit = NULL;
static nvmlShutdown_t f_nvmlShutdown = NULL;
static nvmlDeviceGetCount_t f_nvmlDeviceGetCount = NULL;
static nvmlDeviceGetHandleByIndex_t f_nvmlDeviceGetHandleByIndex = NULL;
static nvmlDeviceGetMemoryInfo_t f_nvmlDeviceGetMemoryInfo = NULL;
static nvmlDeviceGetUtilizationRates_t f_nvmlDeviceGetUtilizationRates = NULL;
static nvmlDeviceGetTemperature_t f_nvmlDeviceGetTemperature = NULL;
static nvmlDeviceGetPowerUsage_t f_nvmlDeviceGetPowerUsage = NULL;
static nvmlDeviceGetName_t f_nvmlDeviceGetName = NULL;

static int nvml_load() {
    nvml_lib = dlopen("libnvidia-ml.so.1", RTLD_LAZY);
    if (!nvml_lib) nvml_lib = dlopen("libnvidia-ml.so", RTLD_LAZY);
    if (!nvml_lib) return -1;

    f_nvmlInit = (nvmlInit_t)dlsym(nvml_lib, "nvmlInit_v2");
    if (!f_nvmlInit) f_nvmlInit = (nvmlInit_t)dlsym(nvml_lib, "nvmlInit");
    f_nvmlShutdown = (nvmlShutdown_t)dlsym(nvml_lib, "nvmlShutdown");
    f_nvmlDeviceGetCount = (nvmlDeviceGetCount_t)dlsym(nvml_lib, "nvmlDeviceGetCount_v2");
    if (!f_nvmlDeviceGetCount) f_nvmlDeviceGetCount = (nvmlDeviceGetCount_t)dlsym(nvml_lib, "nvmlDeviceGetCount");
    f_nvmlDeviceGetHandleByIndex = (nvmlDeviceGetHandleByIndex_t)dlsym(nvml_lib, "nvmlDeviceGetHandleByIndex_v2");
    if (!f_nvmlDeviceGetHandleByIndex) f_nvmlDeviceGetHandleByIndex = (nvmlDeviceGetHandleByIndex_t)dlsym(nvml_lib, "nvmlDeviceGetHandleByIndex");
    f_nvmlDeviceGetMemoryInfo = (nvmlDeviceGetMemoryInfo_t)dlsym(nvml_lib, "nvmlDeviceGetMemoryInfo");
    f_nvmlDeviceGetUtilizationRates = (nvmlDeviceGetUtilizationRates_t)dlsym(nvml_lib, "nvmlDeviceGetUtilizationRates");
    f_nvmlDeviceGetTemperature = (nvmlDeviceGetTemperature_t)dlsym(nvml_lib, "nvmlDeviceGetTemperature");
    f_nvmlDeviceGetPowerUsage = (nvmlDeviceGetPowerUsage_t)dlsym(nvml_lib, "nvmlDeviceGetPowerUsage");
    f_nvmlDeviceGetName = (nvmlDeviceGetName_t)dlsym(nvml_lib, "nvmlDeviceGetName");

    if (!f_nvmlInit || !f_nvmlDeviceGetCount || !f_nvmlDeviceGetHandleByIndex) return -2;
    return f_nvmlInit();
}

static int nvml_device_count() {
    unsigned int count = 0;
    if (f_nvmlDeviceGetCount) f_nvmlDeviceGetCount(&count);
    return (int)count;
}

static int nvml_get_memory(int idx, unsigned long long* total, unsigned long long* free, unsigned long long* used) {
    nvmlDevice_t dev;
    if (f_nvmlDeviceGetHandleByIndex(idx, &dev) != 0) return -1;
    nvmlMemory_t mem;
    if (f_nvmlDeviceGetMemoryInfo(dev, &mem) != 0) return -2;
    *total = mem.total; *free = mem.free; *used = mem.used;
    return 0;
}

static int nvml_get_utilization(int idx, unsigned int* gpu, unsigned int* mem) {
    nvmlDevice_t dev;
    if (f_nvmlDeviceGetHandleByIndex(idx, &dev) != 0) return -1;
    if (!f_nvmlDeviceGetUtilizationRates) return -2;
    nvmlUtilization_t util;
    if (f_nvmlDeviceGetUtilizationRates(dev, &util) != 0) return -3;
    *gpu = util.gpu; *mem = util.memory;
    return 0;
}

static int nvml_get_temperature(int idx, unsigned int* temp) {
    nvmlDevice_t dev;
    if (f_nvmlDeviceGetHandleByIndex(idx, &dev) != 0) return -1;
    if (!f_nvmlDeviceGetTemperature) return -2;
    if (f_nvmlDeviceGetTemperature(dev, 0, temp) != 0) return -3;
    return 0;
}

static int nvml_get_power(int idx, unsigned int* mw) {
    nvmlDevice_t dev;
    if (f_nvmlDeviceGetHandleByIndex(idx, &dev) != 0) return -1;
    if (!f_nvmlDeviceGetPowerUsage) return -2;
    if (f_nvmlDeviceGetPowerUsage(dev, mw) != 0) return -3;
    return 0;
}

static void nvml_shutdown() {
    if (f_nvmlShutdown) f_nvmlShutdown();
    if (nvml_lib) dlclose(nvml_lib);
}
*/
import "C"

import "fmt"

// Querier implements gpuprobe.DeviceQuerier over real NVML devices,
// addressed by stringified index ("0", "1", ...).
type Querier struct {
	count int
}

// New loads libnvidia-ml.so and initializes NVML. Returns an error if
// no NVIDIA GPU is available — this is not fatal to the caller, which
// should fall back to gpuprobe.Simulated.
func New() (*Querier, error) {
	rc := C.nvml_load()
	if rc != 0 {
		return nil, fmt.Errorf("nvml: not available (code %d)", int(rc))
	}
	count := int(C.nvml_device_count())
	if count == 0 {
		C.nvml_shutdown()
		return nil, fmt.Errorf("nvml: loaded but no GPUs found")
	}
	return &Querier{count: count}, nil
}

func (q *Querier) Devices() []string {
	out := make([]string, q.count)
	for i := range out {
		out[i] = fmt.Sprintf("%d", i)
	}
	return out
}

func (q *Querier) Query(deviceID string) (used, total, utilPct, tempC, powerW float64, err error) {
	var idx int
	if _, e := fmt.Sscanf(deviceID, "%d", &idx); e != nil || idx < 0 || idx >= q.count {
		return 0, 0, 0, 0, 0, fmt.Errorf("nvml: invalid device id %q", deviceID)
	}

	var totalB, freeB, usedB C.ulonglong
	if C.nvml_get_memory(C.int(idx), &totalB, &freeB, &usedB) != 0 {
		return 0, 0, 0, 0, 0, fmt.Errorf("nvml: memory query failed for device %d", idx)
	}
	const gib = 1024 * 1024 * 1024
	total = float64(totalB) / gib
	used = float64(usedB) / gib

	var gpuUtil, memUtil C.uint
	if C.nvml_get_utilization(C.int(idx), &gpuUtil, &memUtil) == 0 {
		utilPct = float64(gpuUtil)
	}

	var temp C.uint
	if C.nvml_get_temperature(C.int(idx), &temp) == 0 {
		tempC = float64(temp)
	}

	var mw C.uint
	if C.nvml_get_power(C.int(idx), &mw) == 0 {
		powerW = float64(mw) / 1000.0
	}

	return used, total, utilPct, tempC, powerW, nil
}

// Shutdown releases NVML resources.
func (q *Querier) Shutdown() {
	C.nvml_shutdown()
}

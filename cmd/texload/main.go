package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"

	"github.com/vkngwrapper/rotatingmesh/internal/buffer"
	"github.com/vkngwrapper/rotatingmesh/internal/leaks"
	"github.com/vkngwrapper/rotatingmesh/internal/texture"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

var formats = map[string]core1_0.Format{
	"R8_SRGB":        core1_0.FormatR8SRGB,
	"R8_UNORM":       core1_0.FormatR8UnsignedNormalized,
	"R8G8_SRGB":      core1_0.FormatR8G8SRGB,
	"R8G8_UNORM":     core1_0.FormatR8G8UnsignedNormalized,
	"R8G8B8A8_SRGB":  core1_0.FormatR8G8B8A8SRGB,
	"R8G8B8A8_UNORM": core1_0.FormatR8G8B8A8UnsignedNormalized,
	"B8G8R8A8_SRGB":  core1_0.FormatB8G8R8A8SRGB,
	"B8G8R8A8_UNORM": core1_0.FormatB8G8R8A8UnsignedNormalized,
}

type config struct {
	dir        string
	format     core1_0.Format
	mips       bool
	workers    int
	strict     bool
	validation bool
	verbose    bool
	files      []string
}

// Loader owns the headless Vulkan objects needed to upload textures.
type Loader struct {
	cfg config

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver
	physicalDevice core1_0.PhysicalDevice

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	renderer *vulkan.Renderer
	pool     vulkan.CommandPool

	textures []*texture.Texture2D
	samplers texture.SamplerSet
	// info holds width, height and mip count of every texture, in load
	// order, for fragment shaders indexing the batch.
	info buffer.UniformBuffer
}

func (l *Loader) Run() error {
	if err := l.initVulkan(); err != nil {
		return err
	}
	defer l.cleanup()

	return l.load()
}

func (l *Loader) initVulkan() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}
	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return errors.Wrap(err, "can't load the vulkan library")
	}

	var err error
	l.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return err
	}

	if err := l.createInstance(); err != nil {
		return err
	}
	if err := l.setupDebugMessenger(); err != nil {
		return err
	}

	queueFamily, err := l.pickPhysicalDevice()
	if err != nil {
		return err
	}
	return l.createLogicalDevice(queueFamily)
}

func (l *Loader) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    "texload",
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := l.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	if l.cfg.validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if l.cfg.validation {
		layers, _, err := l.globalDriver.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range validationLayers {
			if _, ok := layers[layer]; !ok {
				return errors.Newf("createInstance: cannot add validation layer %s: not available", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}
		instanceOptions.Next = l.debugMessengerOptions()
	}

	l.instanceDriver, _, err = l.globalDriver.CreateInstance(nil, instanceOptions)
	return err
}

func (l *Loader) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    l.logDebug,
	}
}

func (l *Loader) setupDebugMessenger() error {
	if !l.cfg.validation {
		return nil
	}

	var err error
	l.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(l.instanceDriver)
	l.debugMessenger, _, err = l.debugDriver.CreateDebugUtilsMessenger(nil, l.debugMessengerOptions())
	return err
}

// pickPhysicalDevice selects the first device with a graphics queue, which
// is also able to blit.
func (l *Loader) pickPhysicalDevice() (int, error) {
	physicalDevices, _, err := l.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return 0, err
	}

	for _, device := range physicalDevices {
		for i, family := range l.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device) {
			if family.QueueFlags&core1_0.QueueGraphics != 0 {
				l.physicalDevice = device
				return i, nil
			}
		}
	}

	return 0, errors.New("failed to find a GPU with a graphics queue")
}

func (l *Loader) createLogicalDevice(queueFamily int) error {
	var extensionNames []string

	extensions, _, err := l.instanceDriver.EnumerateDeviceExtensionProperties(l.physicalDevice)
	if err != nil {
		return err
	}
	if _, supported := extensions[khr_portability_subset.ExtensionName]; supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	l.deviceDriver, _, err = l.instanceDriver.CreateDevice(l.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{1.0},
		}},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	queue := l.deviceDriver.GetQueue(queueFamily, 0)
	device := vulkan.NewVkngDevice(l.instanceDriver, l.deviceDriver, l.physicalDevice, queue)
	l.renderer = vulkan.NewRenderer(device, queueFamily, vulkan.WithLogger(slog.Default()))
	l.renderer.Tracker().Register(leaks.Device, "Loader.device")

	pool, result, err := device.CreateCommandPool(queueFamily)
	if err := l.renderer.CheckResult(result, err, "Loader.createLogicalDevice", "can't create command pool"); err != nil {
		return err
	}
	l.pool = pool
	l.renderer.Tracker().Register(leaks.CommandPool, "Loader.pool")
	return nil
}

func (l *Loader) load() error {
	batch := texture.NewBatch(l.renderer, l.pool, texture.Options{Workers: l.cfg.workers})
	for _, name := range l.cfg.files {
		tex := texture.NewTexture2D(name, l.cfg.format)
		l.textures = append(l.textures, tex)
		batch.Add(tex, l.cfg.mips)
	}

	report, err := batch.Load(os.DirFS(l.cfg.dir))
	if err != nil {
		return err
	}

	for i, timing := range report.Timings {
		tex := timing.Texture
		sampler, err := l.samplers.For(l.renderer, tex)
		if err != nil {
			return err
		}

		fmt.Printf("%2d %-32s %-10s mips=%-2d view=%#x sampler=%#x upload=%v\n",
			i, tex.FileName(), tex.Resolution(), tex.MipLevelCount(), uint64(tex.ImageView()), uint64(sampler), timing.Elapsed)
	}
	fmt.Printf("batch %s: %d textures, %d samplers, wait %v, total %v\n",
		report.ID, len(report.Timings), l.samplers.Len(), report.Wait, report.Total)

	return l.uploadInfo()
}

func (l *Loader) uploadInfo() error {
	if len(l.textures) == 0 {
		return nil
	}
	if err := l.info.Init(l.renderer, l.pool, core1_0.PipelineStageFragmentShader); err != nil {
		return err
	}

	data := make([]byte, 0, len(l.textures)*16)
	for _, tex := range l.textures {
		resolution := tex.Resolution()
		data = binary.LittleEndian.AppendUint32(data, uint32(resolution.Width))
		data = binary.LittleEndian.AppendUint32(data, uint32(resolution.Height))
		data = binary.LittleEndian.AppendUint32(data, uint32(tex.MipLevelCount()))
		data = binary.LittleEndian.AppendUint32(data, 0)
	}
	if err := l.info.Update(data); err != nil {
		return err
	}

	fmt.Printf("texture info: %d bytes in uniform buffer %#x\n", l.info.Size(), uint64(l.info.Buffer()))
	return nil
}

func (l *Loader) cleanup() {
	if l.renderer != nil {
		device := l.renderer.Device()
		if _, err := device.QueueWaitIdle(); err != nil {
			slog.Error("queue wait idle failed during cleanup", "err", err)
		}

		l.info.FreeResources()
		l.samplers.Destroy(l.renderer)
		for _, tex := range l.textures {
			tex.FreeResources(l.renderer)
		}

		if l.pool != vulkan.NullHandle {
			device.DestroyCommandPool(l.pool)
			l.renderer.Tracker().Unregister(leaks.CommandPool, "Loader.pool")
		}

		l.deviceDriver.DestroyDevice(nil)
		l.renderer.Tracker().Unregister(leaks.Device, "Loader.device")
	}

	if l.debugDriver != nil {
		l.debugDriver.DestroyDebugUtilsMessenger(l.debugMessenger, nil)
	}
	if l.instanceDriver != nil {
		l.instanceDriver.DestroyInstance(nil)
	}

	sdl.VulkanUnloadLibrary()
	sdl.Quit()
}

func (l *Loader) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	slog.Warn(data.Message, "severity", severity, "type", msgType)
	return false
}

func parseFlags() (config, error) {
	var cfg config
	var format string

	flag.StringVar(&cfg.dir, "dir", ".", "directory texture names are relative to")
	flag.StringVar(&format, "format", "R8G8B8A8_SRGB", "requested texture format")
	flag.BoolVar(&cfg.mips, "mips", true, "generate mip chains")
	flag.IntVar(&cfg.workers, "workers", texture.DefaultWorkers, "goroutines used to widen RGB images")
	flag.BoolVar(&cfg.strict, "strict", false, "panic on handle lifetime misuse")
	flag.BoolVar(&cfg.validation, "validation", false, "enable the Khronos validation layer")
	flag.BoolVar(&cfg.verbose, "v", false, "log debug output")
	flag.Usage = func() {
		names := make([]string, 0, len(formats))
		for name := range formats {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintf(flag.CommandLine.Output(), "usage: texload [flags] texture...\n\nformats: %v\n\n", names)
		flag.PrintDefaults()
	}
	flag.Parse()

	var ok bool
	cfg.format, ok = formats[format]
	if !ok {
		return cfg, errors.Newf("unknown format %q", format)
	}
	cfg.files = flag.Args()
	if len(cfg.files) == 0 {
		return cfg, errors.New("no textures given")
	}
	return cfg, nil
}

func main() {
	runtime.LockOSThread()

	cfg, err := parseFlags()
	if err != nil {
		flag.Usage()
		log.Fatalf("%+v\n", err)
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	texture.SetLogger(logger)
	leaks.SetLogger(logger)
	leaks.SetStrict(cfg.strict)

	start := hrtime.Now()
	app := &Loader{cfg: cfg}
	err = app.Run()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	if err := leaks.CheckLeaks(); err != nil {
		log.Fatalf("%+v\n", err)
	}
	slog.Info("done", "elapsed", hrtime.Since(start), "leakcheck", leaks.Enabled)
}

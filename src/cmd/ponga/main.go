// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/devblok/ponga/src/core"
	"github.com/devblok/ponga/src/model"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/gobuffalo/envy"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

// Essential globals
var (
	vkInstance core.Instance
	vkRenderer core.Renderer
	sdlWindow  *sdl.Window
	sdlSurface unsafe.Pointer

	frameCounter int64
)

// Profiling
var (
	cpuProfile   = flag.String("cpuprof", "", "Profile CPU usage to file")
	memProfile   = flag.String("memprof", "", "Profile memory usage into a file")
	traceProfile = flag.String("trace", "", "Trace output for profiling")
	debug        = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
)

var configuration = core.Configuration{
	Time: core.TimeConfiguration{
		FramesPerSecond: 2000,
		EventPollDelay:  50,
	},
	Renderer: core.RendererConfiguration{
		ScreenWidth:    800,
		ScreenHeight:   600,
		SwapchainSize:  3,
		FramesInFlight: 2,
		DeviceExtensions: []string{
			"VK_KHR_swapchain",
		},
		ShaderDirectory:     envy.Get("PONGA_SHADERS", "./shaders/bin"),
		ShaderArchive:       envy.Get("PONGA_SHADER_ARCHIVE", ""),
		MaxAnimatedEntities: 16,
		MaxMeshesPerEntity:  4,
	},
}

const (
	pedestalEntity core.EntityID = iota + 1
	dancerEntity
	statueEntity
)

func newWindow() *sdl.Window {
	window, err := sdl.CreateWindow("Ponga3D",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(configuration.Renderer.ScreenWidth),
		int32(configuration.Renderer.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		panic(err)
	}
	return window
}

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			panic(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer pprof.StopCPUProfile()
	}

	if *traceProfile != "" {
		f, err := os.Create(*traceProfile)
		if err != nil {
			panic(err)
		}
		if err := trace.Start(f); err != nil {
			panic(err)
		}
		defer trace.Stop()
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		panic(err)
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		panic(err)
	}
	defer sdl.VulkanUnloadLibrary()

	sdlWindow = newWindow()

	{
		cfg := core.InstanceConfiguration{
			DebugMode:  *debug,
			Extensions: sdlWindow.VulkanGetInstanceExtensions(),
			Layers:     []string{},
		}

		if vi, err := core.NewVulkanInstance(core.DefaultVulkanApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), cfg); err != nil {
			panic(err)
		} else {
			vkInstance = vi
		}
		defer vkInstance.Destroy()
	}

	if srf, err := sdlWindow.VulkanCreateSurface(vkInstance.Inner()); err != nil {
		panic(err)
	} else {
		sdlSurface = srf
		vkInstance.SetSurface(sdlSurface)
	}

	var rendererErr error
	vkRenderer, rendererErr = core.NewVulkanRenderer(vkInstance, configuration.Renderer)
	if rendererErr != nil {
		panic(rendererErr)
	}

	deviceUsed := vkInstance.AvailableDevices()[0]
	if suitable, reason := vkRenderer.DeviceIsSuitable(deviceUsed); !suitable {
		panic(reason)
	}

	if err := vkRenderer.Initialise(); err != nil {
		panic(err)
	}
	defer vkRenderer.Shutdown()

	if err := vkRenderer.RegisterEntity(buildPedestalModel(), pedestalEntity); err != nil {
		panic(err)
	}
	dancer := buildDancerModel()
	if err := vkRenderer.RegisterAnimatedEntity(dancer, dancerEntity); err != nil {
		panic(err)
	}
	if err := vkRenderer.SetAnimationState(dancerEntity, true, 0, 0); err != nil {
		panic(err)
	}

	// An additional static prop can be dropped into the scene from
	// a COLLADA file.
	if path := envy.Get("PONGA_MODEL", ""); path != "" {
		contents, err := ioutil.ReadFile(path)
		if err != nil {
			panic(err)
		}
		statue, err := model.ImportCollada("statue", contents)
		if err != nil {
			panic(err)
		}
		if err := vkRenderer.RegisterEntity(*statue, statueEntity); err != nil {
			panic(err)
		}
		vkRenderer.SetEntityTransform(statueEntity, glm.Translate3D(-1.5, 0, 0))
	}

	aspect := float32(configuration.Renderer.ScreenWidth) / float32(configuration.Renderer.ScreenHeight)
	vkRenderer.SetCamera(
		glm.LookAtV(glm.Vec3{3, 2.2, 3}, glm.Vec3{0, 0.4, 0}, glm.Vec3{0, 1, 0}),
		glm.Perspective(glm.DegToRad(60), aspect, 0.1, 100),
	)

	timeService := core.NewTime(configuration.Time)
	defer timeService.Stop()

	ctx, cancel := context.WithCancel(context.Background())

	resizes := make(chan [2]uint32, 1)

	programSync := sync.WaitGroup{}

	/* Frame counter loop */
	programSync.Add(1)
	go func(ctx context.Context, wg *sync.WaitGroup) {
	CounterLoop:
		for {
			select {
			case <-ctx.Done():
				break CounterLoop
			default:
				currentCount := atomic.LoadInt64(&frameCounter)
				atomic.StoreInt64(&frameCounter, 0)
				fmt.Printf("\r\033[2KFrame count: %d\tCGO calls: %d", currentCount*5, runtime.NumCgoCall())
				time.Sleep(200 * time.Millisecond)
				// 200 ms * 5 = 1s, therefore we need to mutiply the count
			}
		}
		wg.Done()
	}(ctx, &programSync)

	/* Renderer loop */
	programSync.Add(1)
	go func(ctx context.Context, wg *sync.WaitGroup) {
		var (
			spin      float32
			animFrame int
			animTick  int
		)
		frames := dancer.Animations[0].FrameCount()
	DrawLoop:
		for {
			select {
			case <-ctx.Done():
				log.Info("render loop exited")
				break DrawLoop
			case dims := <-resizes:
				if err := vkRenderer.Resize(dims[0], dims[1]); err != nil {
					log.WithError(err).Error("resize failed")
					cancel()
					break DrawLoop
				}
				ratio := float32(dims[0]) / float32(dims[1])
				vkRenderer.SetCamera(
					glm.LookAtV(glm.Vec3{3, 2.2, 3}, glm.Vec3{0, 0.4, 0}, glm.Vec3{0, 1, 0}),
					glm.Perspective(glm.DegToRad(60), ratio, 0.1, 100),
				)
			case <-timeService.FpsTicker().C:
				vkRenderer.SetEntityTransform(dancerEntity, glm.HomogRotate3D(spin, glm.Vec3{0, 1, 0}))
				spin += 0.005

				animTick++
				if animTick%4 == 0 {
					animFrame = (animFrame + 1) % frames
					if err := vkRenderer.SetAnimationState(dancerEntity, true, 0, animFrame); err != nil {
						log.WithError(err).Error("animation state rejected")
					}
				}

				if err := vkRenderer.RenderFrame(); err != nil {
					log.WithError(err).Error("frame failed")
				}
				atomic.AddInt64(&frameCounter, 1)
			}
		}
		wg.Done()
	}(ctx, &programSync)

	/* Event loop */
EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-timeService.EventTicker().C:
			var event sdl.Event
			for event = sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.WindowEvent:
					if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
						select {
						case resizes <- [2]uint32{uint32(et.Data1), uint32(et.Data2)}:
						default:
							// an older resize is still pending, drop this one
						}
					}
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						cancel()
						continue EventLoop
					}
				case *sdl.QuitEvent:
					cancel()
					continue EventLoop
				}
			}
		}
	}

	programSync.Wait()

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			panic(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			panic(err)
		}
	}
}

// buildDancerModel makes a two joint cylinder that sways around its
// base, enough geometry to light the whole skinning path up
func buildDancerModel() model.Model {
	const (
		segments = 24
		stacks   = 8
		radius   = 0.35
		height   = 1.6
	)

	ring := func(stack int) (float32, float32) {
		t := float32(stack) / float32(stacks)
		return t * height, t
	}

	position := func(segment int, y float32) (glm.Vec3, glm.Vec3) {
		phi := 2 * math.Pi * float64(segment) / float64(segments)
		sin, cos := float32(math.Sin(phi)), float32(math.Cos(phi))
		return glm.Vec3{radius * cos, y, radius * sin}, glm.Vec3{cos, 0, sin}
	}

	var (
		vertices []model.Vertex
		weights  []model.VertexWeights
	)
	push := func(segment, stack int) {
		y, t := ring(stack)
		pos, normal := position(segment, y)
		vertices = append(vertices, model.Vertex{
			Pos:    pos,
			Normal: normal,
			UV:     glm.Vec2{float32(segment) / float32(segments), t},
			Color:  glm.Vec4{0.8, 0.3 + 0.4*t, 0.25, 1},
		})
		weights = append(weights, model.VertexWeights{
			Weights: glm.Vec4{1 - t, t, 0, 0},
			Joints:  [4]uint32{0, 1, 0, 0},
		})
	}

	for stack := 0; stack < stacks; stack++ {
		for segment := 0; segment < segments; segment++ {
			next := segment + 1
			push(segment, stack)
			push(next, stack)
			push(segment, stack+1)

			push(next, stack)
			push(next, stack+1)
			push(segment, stack+1)
		}
	}

	const frames = 48
	sway := model.Animation{Name: "sway"}
	for f := 0; f < frames; f++ {
		angle := 0.5 * float32(math.Sin(2*math.Pi*float64(f)/float64(frames)))
		sway.Frames = append(sway.Frames, []glm.Mat4{
			glm.Ident4(),
			glm.HomogRotate3D(angle, glm.Vec3{0, 0, 1}),
		})
	}

	return model.Model{
		ID: "dancer",
		Meshes: []model.Mesh{{
			Vertices: vertices,
			Weights:  weights,
		}},
		Animations: []model.Animation{sway},
	}
}

// buildPedestalModel makes a flat static slab under the dancer
func buildPedestalModel() model.Model {
	const (
		half   = 1.4
		top    = 0.0
		bottom = -0.25
	)

	corners := [8]glm.Vec3{
		{-half, bottom, -half}, {half, bottom, -half}, {half, bottom, half}, {-half, bottom, half},
		{-half, top, -half}, {half, top, -half}, {half, top, half}, {-half, top, half},
	}

	quads := []struct {
		idx    [4]int
		normal glm.Vec3
	}{
		{idx: [4]int{4, 5, 6, 7}, normal: glm.Vec3{0, 1, 0}},
		{idx: [4]int{1, 0, 3, 2}, normal: glm.Vec3{0, -1, 0}},
		{idx: [4]int{0, 1, 5, 4}, normal: glm.Vec3{0, 0, -1}},
		{idx: [4]int{2, 3, 7, 6}, normal: glm.Vec3{0, 0, 1}},
		{idx: [4]int{3, 0, 4, 7}, normal: glm.Vec3{-1, 0, 0}},
		{idx: [4]int{1, 2, 6, 5}, normal: glm.Vec3{1, 0, 0}},
	}

	var vertices []model.Vertex
	push := func(corner int, normal glm.Vec3, u, v float32) {
		vertices = append(vertices, model.Vertex{
			Pos:    corners[corner],
			Normal: normal,
			UV:     glm.Vec2{u, v},
			Color:  glm.Vec4{0.35, 0.35, 0.4, 1},
		})
	}
	for _, quad := range quads {
		push(quad.idx[0], quad.normal, 0, 0)
		push(quad.idx[1], quad.normal, 1, 0)
		push(quad.idx[2], quad.normal, 1, 1)

		push(quad.idx[0], quad.normal, 0, 0)
		push(quad.idx[2], quad.normal, 1, 1)
		push(quad.idx[3], quad.normal, 0, 1)
	}

	return model.Model{
		ID:     "pedestal",
		Meshes: []model.Mesh{{Vertices: vertices}},
	}
}

// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/ponga/src/core"
)

func validRendererConfiguration() core.RendererConfiguration {
	return core.RendererConfiguration{
		SwapchainSize:       3,
		FramesInFlight:      2,
		ScreenWidth:         800,
		ScreenHeight:        600,
		ShaderDirectory:     "shaders",
		MaxAnimatedEntities: 16,
		MaxMeshesPerEntity:  8,
	}
}

func TestRendererConfigurationValid(t *testing.T) {
	c := qt.New(t)

	c.Assert(validRendererConfiguration().Valid(), qt.IsNil)

	cases := []struct {
		name   string
		mutate func(*core.RendererConfiguration)
	}{
		{
			name:   "single image swapchain",
			mutate: func(cfg *core.RendererConfiguration) { cfg.SwapchainSize = 1 },
		},
		{
			name:   "no frames in flight",
			mutate: func(cfg *core.RendererConfiguration) { cfg.FramesInFlight = 0 },
		},
		{
			name:   "frames in flight match swapchain",
			mutate: func(cfg *core.RendererConfiguration) { cfg.FramesInFlight = 3 },
		},
		{
			name:   "frames in flight exceed swapchain",
			mutate: func(cfg *core.RendererConfiguration) { cfg.FramesInFlight = 5 },
		},
		{
			name:   "zero width",
			mutate: func(cfg *core.RendererConfiguration) { cfg.ScreenWidth = 0 },
		},
		{
			name:   "zero height",
			mutate: func(cfg *core.RendererConfiguration) { cfg.ScreenHeight = 0 },
		},
		{
			name:   "no animated entity cap",
			mutate: func(cfg *core.RendererConfiguration) { cfg.MaxAnimatedEntities = 0 },
		},
		{
			name:   "no mesh cap",
			mutate: func(cfg *core.RendererConfiguration) { cfg.MaxMeshesPerEntity = 0 },
		},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			cfg := validRendererConfiguration()
			tc.mutate(&cfg)
			c.Assert(cfg.Valid(), qt.Not(qt.IsNil))
		})
	}
}

//go:build !futatabi_headless

package gpu

import (
	"fmt"
	"runtime"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// glContext owns the single offscreen GLFW window/context shared by the
// ingest and encode threads: one GL context, used from one
// goroutine at a time via a mutex in glPipeline. Grounded on
// other_examples' goshadertoy offscreen renderer, which creates a hidden
// GLFW window purely to obtain a context, then drives everything through
// FBOs.
type glContext struct {
	window *glfw.Window
}

func newGLContext(width, height int) (*glContext, error) {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("gpu: glfw init: %w", err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	win, err := glfw.CreateWindow(width, height, "futatabi-offscreen", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("gpu: create offscreen window: %w", err)
	}
	win.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("gpu: gl init: %w", err)
	}

	return &glContext{window: win}, nil
}

func (c *glContext) Close() error {
	c.window.Destroy()
	glfw.Terminate()
	return nil
}

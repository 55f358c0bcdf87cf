//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// buildShaders compiles every assets/shaders/*.vert.glsl and
// *.frag.glsl file into the matching .spv file next to it, via the
// Vulkan SDK's glslc. Dev-mode shader work is optional; modules that
// don't ship any GLSL sources have nothing to compile.
func buildShaders() error {
	sources, err := filepath.Glob("assets/shaders/*.glsl")
	if err != nil {
		return fmt.Errorf("failed to list shader sources: %w", err)
	}
	if len(sources) == 0 {
		fmt.Println("no shader sources under assets/shaders, skipping")
		return nil
	}

	vkSDKPath := os.Getenv("VULKAN_SDK")
	glslc := filepath.Join(vkSDKPath, "bin", "glslc")

	fmt.Println("Build shaders...")
	for _, src := range sources {
		stage, err := shaderStage(src)
		if err != nil {
			return err
		}
		out := strings.TrimSuffix(src, ".glsl") + ".spv"
		if _, err := executeCmd(glslc, withArgs(fmt.Sprintf("-fshader-stage=%s", stage), src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

func shaderStage(path string) (string, error) {
	switch {
	case strings.Contains(path, ".vert."):
		return "vert", nil
	case strings.Contains(path, ".frag."):
		return "frag", nil
	case strings.Contains(path, ".comp."):
		return "comp", nil
	default:
		return "", fmt.Errorf("cannot infer shader stage from filename: %s", path)
	}
}

// Shaders compiles every tracked GLSL shader into SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// All builds every package in the module.
func (Build) All() error {
	fmt.Println("Build module...")
	_, err := executeCmd("go", withArgs("build", "./..."), withStream())
	return err
}

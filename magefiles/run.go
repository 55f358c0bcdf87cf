//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Headless builds the shader assets (if any) and then runs
// `go run ./examples/headless`. This repository includes no
// examples/headless package, so that step fails.
func (Run) Headless() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run headless example...")
	if _, err := executeCmd("go", withArgs("run", "./examples/headless"), withStream()); err != nil {
		return err
	}
	return nil
}

type Test mg.Namespace

// All runs the full test suite.
func (Test) All() error {
	fmt.Println("Run tests...")
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

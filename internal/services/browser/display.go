package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// VirtualDisplay is an Xvfb server giving a non-headless browser somewhere to render
type VirtualDisplay struct {
	number int
	cmd    *exec.Cmd
}

// x11Root holds the X lock files and the .X11-unix socket directory
var x11Root = "/tmp"

const (
	firstDisplay   = 99
	displayRange   = 100
	displayStartup = 5 * time.Second
)

// StartVirtualDisplay starts Xvfb on the first free display number
func StartVirtualDisplay(xvfbPath string, width, height int) (*VirtualDisplay, error) {
	for n := firstDisplay; n < firstDisplay+displayRange; n++ {
		if displayInUse(n) {
			continue
		}

		cmd := exec.Command(xvfbPath,
			fmt.Sprintf(":%d", n),
			"-screen", "0", fmt.Sprintf("%dx%dx24", width, height),
			"-nolisten", "tcp",
		)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start virtual display: %w", err)
		}

		vd := &VirtualDisplay{number: n, cmd: cmd}
		if err := vd.waitReady(); err != nil {
			_ = vd.Stop()
			return nil, err
		}
		return vd, nil
	}
	return nil, errors.New("no free virtual display number")
}

// Name returns the DISPLAY value, e.g. ":99"
func (v *VirtualDisplay) Name() string {
	return fmt.Sprintf(":%d", v.number)
}

// Stop terminates the display server
func (v *VirtualDisplay) Stop() error {
	if v.cmd == nil || v.cmd.Process == nil {
		return nil
	}
	if err := v.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	_ = v.cmd.Wait()
	v.cmd = nil
	return nil
}

func (v *VirtualDisplay) waitReady() error {
	deadline := time.Now().Add(displayStartup)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath(v.number)); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("virtual display %s did not become ready within %s", v.Name(), displayStartup)
}

func displayInUse(n int) bool {
	if _, err := os.Stat(fmt.Sprintf("%s/.X%d-lock", x11Root, n)); err == nil {
		return true
	}
	_, err := os.Stat(socketPath(n))
	return err == nil
}

func socketPath(n int) string {
	return fmt.Sprintf("%s/.X11-unix/X%d", x11Root, n)
}

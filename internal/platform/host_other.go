//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package platform

import "runtime"

func hostMachine() string {
	return runtime.GOARCH
}

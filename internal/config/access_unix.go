//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package config

import "golang.org/x/sys/unix"

func writable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}

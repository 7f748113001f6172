package models

import (
	"errors"
	"fmt"
	"strings"
)

type HostEnvironment int

const (
	Local HostEnvironment = iota
	ProxmoxLXC
	Docker
)

var ErrUnknownHostEnvironment = errors.New("unknown host environment")

func (e HostEnvironment) String() string {
	switch e {
	case Local:
		return "local"
	case ProxmoxLXC:
		return "proxmox"
	case Docker:
		return "docker"
	}
	return "unknown"
}

func ParseHostEnvironment(s string) (HostEnvironment, error) {
	switch strings.ToLower(s) {
	case "local":
		return Local, nil
	case "proxmox", "lxc", "proxmox-lxc":
		return ProxmoxLXC, nil
	case "docker":
		return Docker, nil
	}
	return Local, fmt.Errorf("%w: %q", ErrUnknownHostEnvironment, s)
}

package models

import (
	"fmt"
	"strings"

	"github.com/devlab-cloud/labctl/pkg/utils"
)

type ContainerSpec struct {
	ID           int
	Name         string
	Cores        int
	MemoryMB     int
	DiskGB       int
	DataVolumeGB int
	StoragePool  string
	Bridge       string
	Template     TemplateArtifact
	Features     Features
	Unprivileged bool
}

func (s ContainerSpec) RequiredGB() int {
	return s.DiskGB + s.DataVolumeGB
}

type Features struct {
	Nesting bool
	Keyctl  bool
	FUSE    bool
}

func (f Features) String() string {
	flags := make([]string, 0, 3)
	if f.Nesting {
		flags = append(flags, "nesting=1")
	}
	if f.Keyctl {
		flags = append(flags, "keyctl=1")
	}
	if f.FUSE {
		flags = append(flags, "fuse=1")
	}
	return strings.Join(flags, ",")
}

type StoragePool struct {
	Name          string
	Type          string
	Active        bool
	TotalKiB      uint64
	UsedKiB       uint64
	AvailableKiB  uint64
	RootfsCapable bool
}

func (p StoragePool) AvailableGB() int {
	return utils.KiBToGB(p.AvailableKiB)
}

type TemplateArtifact struct {
	OS       string
	Version  string
	Filename string
	Storage  string
}

func (t TemplateArtifact) VolumeID() string {
	return fmt.Sprintf("%s:vztmpl/%s", t.Storage, t.Filename)
}

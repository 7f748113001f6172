package models

type Stage int

const (
	StageValidation Stage = iota
	StageTemplateDownload
	StageContainerCreation
	StageContainerSetup
)

func (s Stage) String() string {
	switch s {
	case StageValidation:
		return "validation"
	case StageTemplateDownload:
		return "template-download"
	case StageContainerCreation:
		return "container-creation"
	case StageContainerSetup:
		return "container-setup"
	}
	return "unknown"
}

package utils

const kibPerGiB = 1 << 20

// KiBToGB floors to whole gibibytes, matching how pvesm rounds its
// own capacity figures.
func KiBToGB(kib uint64) int {
	return int(kib / kibPerGiB)
}

func GBToKiB(gb int) uint64 {
	return uint64(gb) * kibPerGiB
}

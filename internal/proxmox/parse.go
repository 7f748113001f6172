package proxmox

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/devlab-cloud/labctl/internal/models"
)

// parseStorageStatus parses the tabular output of `pvesm status`:
//
//	Name      Type     Status     Total      Used     Available    %
//	local     dir      active     98497780   12989916 80455104     13.19%
//
// Capacity columns are reported in kibibytes.
func parseStorageStatus(output string) ([]models.StoragePool, error) {
	var pools []models.StoragePool

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "Name") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 6 {
			return nil, fmt.Errorf("unexpected storage status line: %q", line)
		}

		total, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse total capacity: %w", err)
		}

		used, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse used capacity: %w", err)
		}

		available, err := strconv.ParseUint(fields[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse available capacity: %w", err)
		}

		pools = append(pools, models.StoragePool{
			Name:         fields[0],
			Type:         fields[1],
			Active:       fields[2] == "active",
			TotalKiB:     total,
			UsedKiB:      used,
			AvailableKiB: available,
		})
	}

	return pools, nil
}

// parseTemplateNames extracts template filenames from `pveam available`
// and `pveam list` output. Both print one artifact per line with the
// filename or volume id in a leading column.
func parseTemplateNames(output string) []string {
	var names []string

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		name := fields[0]
		if strings.EqualFold(name, "NAME") || strings.EqualFold(name, "VOLID") {
			continue
		}
		if name == "system" || name == "turnkeylinux" || name == "mail" {
			if len(fields) < 2 {
				continue
			}
			name = fields[1]
		}

		// pveam list prints volume ids as storage:vztmpl/<filename>.
		if _, after, found := strings.Cut(name, "vztmpl/"); found {
			name = after
		}

		names = append(names, name)
	}

	return names
}


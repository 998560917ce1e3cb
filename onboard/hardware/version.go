package hardware

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver"
)

const (
	NODE_VERSION   = "~0.1.0"
	SERIAL_VERSION = "~0.1.0"
)

// checkFirmware accepts a board firmware version that satisfies the constraint.
// Development builds report "DEV" and are accepted, bare commit builds are not.
func checkFirmware(versionString, constraint string) error {
	versionString = strings.TrimSpace(versionString)

	semVer, err := semver.NewVersion(versionString)
	if err != nil {
		if versionString == "DEV" {
			// todo: require a config flag to allow dev firmware
			return nil
		}
		if len(versionString) == 7 {
			return fmt.Errorf("refusing commit build %s of board firmware", versionString)
		}
		return fmt.Errorf("unable to parse firmware version %q: %w", versionString, err)
	}

	semVerConstraint, err := semver.NewConstraint(constraint)
	if err != nil {
		return err
	}

	if !semVerConstraint.Check(semVer) {
		return fmt.Errorf("recieved firmware version %s - require %s", versionString, constraint)
	}

	return nil
}

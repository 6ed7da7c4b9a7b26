package util

import (
	"fmt"
	"math/rand"
)

// GenerateRequestID produces a short, human-scannable id for correlating one
// dispatched request across log lines. Not unique enough for anything but
// logs; collisions are harmless.
func GenerateRequestID() string {
	motions := []string{
		"whirling", "spinning", "twirling", "gliding", "drifting",
		"weaving", "hopping", "bouncing", "sliding", "rolling",
		"circling", "swooping", "darting", "skipping", "cruising",
	}
	relays := []string{
		"carousel", "turnstile", "gyre", "rotor", "orbit",
		"spindle", "swivel", "pivot", "eddy", "vortex",
		"compass", "pinwheel", "gimbal", "turbine", "whirligig",
	}

	relay := relays[rand.Intn(len(relays))]
	motion := motions[rand.Intn(len(motions))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", relay, motion, suffix)
}

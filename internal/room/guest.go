package room

import (
	"math/rand/v2"
	"strconv"
)

// GuestName returns a display name in the range Guest-1000..Guest-9999.
func GuestName() string {
	return "Guest-" + strconv.Itoa(1000+rand.IntN(9000))
}

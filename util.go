package rat

import (
	"strconv"
	"time"
)

// zeroTime disables a transport's read deadline (blocks indefinitely),
// used only while a listening socket idles in SERVOPEN awaiting the first HLO.
var zeroTime time.Time

func deadlineIn(d time.Duration) time.Time {
	return time.Now().Add(d)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

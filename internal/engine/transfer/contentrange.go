package transfer

import (
	"net/http"
	"strconv"
	"strings"
)

// parseContentRange reads a byte Content-Range header. It accepts
// "bytes first-last/complete" and the unsatisfied form "bytes */complete".
// complete is -1 when the origin sends "*" for it, and first and last are
// -1 for the unsatisfied form.
func parseContentRange(h http.Header) (first, last, complete int64, ok bool) {
	v := strings.TrimSpace(h.Get("Content-Range"))
	unit, rest, found := strings.Cut(v, " ")
	if !found || !strings.EqualFold(unit, "bytes") {
		return -1, -1, -1, false
	}
	span, size, found := strings.Cut(strings.TrimSpace(rest), "/")
	if !found {
		return -1, -1, -1, false
	}

	complete = -1
	if size != "*" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil || n < 0 {
			return -1, -1, -1, false
		}
		complete = n
	}

	if span == "*" {
		return -1, -1, complete, complete >= 0
	}
	a, b, found := strings.Cut(span, "-")
	if !found {
		return -1, -1, -1, false
	}
	first, err1 := strconv.ParseInt(a, 10, 64)
	last, err2 := strconv.ParseInt(b, 10, 64)
	if err1 != nil || err2 != nil || first < 0 || last < first {
		return -1, -1, -1, false
	}
	if complete >= 0 && last >= complete {
		return -1, -1, -1, false
	}
	return first, last, complete, true
}

package decision

import "strconv"

func intStr(v int) string {
	return strconv.Itoa(v)
}

func floatStr(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

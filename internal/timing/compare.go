package timing

// EqualConstantTime reports whether a and b are equal without leaking,
// through execution time, the position of the first differing byte.
// Length is folded into the result up front and every position up to
// the longer length is visited regardless of earlier mismatches.
func EqualConstantTime(a, b string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	var diff byte
	if len(a) != len(b) {
		diff = 1
	}
	for i := 0; i < n; i++ {
		var ca, cb byte
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		diff |= ca ^ cb
	}
	return diff == 0
}

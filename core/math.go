package core

import "math"

// CheckedAdd returns a+b or ErrArithmeticOverflow. Counter and treasury
// updates always go through the checked helpers so a wrap-around aborts the
// whole operation instead of corrupting statistics.
func CheckedAdd(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// CheckedSub returns a-b or ErrArithmeticOverflow on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// CheckedMul returns a*b or ErrArithmeticOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	if a != 0 && b > math.MaxUint64/a {
		return 0, ErrArithmeticOverflow
	}
	return a * b, nil
}

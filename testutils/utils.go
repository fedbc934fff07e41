// Package testutils holds devices and helpers shared by the tests of the
// file system packages.
package testutils

import (
	"fmt"
	"runtime"
	"testing"
)

func ErrorHere(test testing.TB, str string, args ...interface{}) {
	test.Helper()
	_, file, line, _ := runtime.Caller(1)
	info := fmt.Sprintf("[%s:%d] ", file, line)
	test.Errorf(info+str, args...)
}

func FatalHere(test testing.TB, str string, args ...interface{}) {
	test.Helper()
	_, file, line, _ := runtime.Caller(1)
	info := fmt.Sprintf("[%s:%d] ", file, line)
	test.Fatalf(info+str, args...)
}

// Pattern returns a block of the given size filled with a byte derived
// from seed, so blocks written by a test can be told apart when read back.
func Pattern(bsize, seed int) []byte {
	data := make([]byte, bsize)
	for i := range data {
		data[i] = byte(seed*7 + i*13 + 1)
	}
	return data
}

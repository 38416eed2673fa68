//go:build !unix

package transport

import "syscall"

func setSocketOptions(_, _ string, _ syscall.RawConn) error {
	return nil
}

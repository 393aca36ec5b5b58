//go:build !unix

package core

import "syscall"

func controlSocket(network, address string, rc syscall.RawConn) error {
	return nil
}

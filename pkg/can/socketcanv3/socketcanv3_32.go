//go:build linux && (386 || arm || mips || mipsle || ppc)

package socketcanv3

import "golang.org/x/sys/unix"

// Mmsghdr mirrors struct mmsghdr on 32 bit targets, x/sys/unix does not export it.
// msghdr is 28 bytes, msg_len 4 bytes, no padding needed.
type Mmsghdr struct {
	Hdr unix.Msghdr
	Len uint32
}

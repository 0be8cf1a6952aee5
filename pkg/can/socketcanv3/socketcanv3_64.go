//go:build linux && (amd64 || arm64 || mips64 || mips64le || ppc64 || ppc64le || riscv64 || s390x)

package socketcanv3

import (
	"golang.org/x/sys/unix"
)

// Mmsghdr mirrors struct mmsghdr on 64 bit targets, x/sys/unix does not export it.
// msghdr is 56 bytes, msg_len 4 bytes, padded to the struct alignment.
type Mmsghdr struct {
	Hdr unix.Msghdr
	Len uint32
	pad [4]byte
}

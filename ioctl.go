package functionfs

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vpelletier/go-functionfs/usb"
)

// Linux ioctl request encoding: dir<<30 | size<<16 | type<<8 | nr.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | typ<<8 | nr
}

func ioNone(typ, nr uintptr) uintptr { return ioc(0, typ, nr, 0) }

func ioRead(typ, nr, size uintptr) uintptr { return ioc(2, typ, nr, size) }

// Gadget endpoint ioctls, 'g' type. The first three are shared with
// gadgetfs, the 128+ range is functionfs-specific.
var (
	reqFIFOStatus      = ioNone('g', 1)
	reqFIFOFlush       = ioNone('g', 2)
	reqClearHalt       = ioNone('g', 3)
	reqInterfaceRevMap = ioNone('g', 128)
	reqEndpointRevMap  = ioNone('g', 129)
	reqEndpointDesc    = ioRead('g', 130, usb.EndpointAudioDescLen)
)

// ioctl issues req against f's descriptor and returns the syscall result.
// The raw syscall path is used because these requests return values rather
// than filling structs.
func ioctl(f *os.File, req uintptr, arg uintptr) (int, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	var ret uintptr
	var errno unix.Errno
	if cerr := rc.Control(func(fd uintptr) {
		ret, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	}); cerr != nil {
		return 0, cerr
	}
	if errno != 0 {
		return 0, errno
	}
	return int(ret), nil
}

func ioctlPtr(f *os.File, req uintptr, p unsafe.Pointer) (int, error) {
	return ioctl(f, req, uintptr(p))
}

// zeroRead issues a true zero-length read(2). os.File short-circuits empty
// reads in userspace, but functionfs gives zero-length control transfers
// protocol meaning (status phase, halt probing), so the syscall must reach
// the kernel.
func zeroRead(f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var rerr error
	if cerr := rc.Control(func(fd uintptr) {
		_, rerr = unix.Read(int(fd), nil)
	}); cerr != nil {
		return cerr
	}
	return rerr
}

// zeroWrite issues a true zero-length write(2). Same reasoning as zeroRead.
func zeroWrite(f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var werr error
	if cerr := rc.Control(func(fd uintptr) {
		_, werr = unix.Write(int(fd), nil)
	}); cerr != nil {
		return cerr
	}
	return werr
}

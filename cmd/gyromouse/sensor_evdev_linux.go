//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type absInfo struct {
	Value      int32
	Min        int32
	Max        int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// ioctl request encoding (Linux _IOC macro)
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocRead = 2
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

// EVIOCGABS(abs) = _IOR('E', 0x40 + abs, struct input_absinfo)
func evioCGAbs(absCode int) uintptr {
	return ioc(iocRead, uint32('E'), uint32(0x40+absCode), uint32(unsafe.Sizeof(absInfo{})))
}

func getAbsInfo(fd int, absCode int) (absInfo, error) {
	var info absInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), evioCGAbs(absCode), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return absInfo{}, errno
	}
	return info, nil
}

// evdevSource reads a motion-sensor input node (the gyro half of a gamepad
// or phone IMU exposed through evdev).
type evdevSource struct {
	path   string
	logger *slog.Logger
}

func newEvdevSource(path string, logger *slog.Logger) *evdevSource {
	return &evdevSource{path: path, logger: logger}
}

// SetInterval is a no-op: the device reports at its own rate and the
// motion pipeline throttles.
func (s *evdevSource) SetInterval(time.Duration) {}

// epoll timeout; bounds how long Run takes to notice cancellation
const evdevPollTimeoutMS = 200

func (s *evdevSource) Run(ctx context.Context, out chan<- SensorSample) error {
	fd, err := unix.Open(s.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer unix.Close(fd)

	res := [3]float64{}
	for i, code := range []int{ABS_RX, ABS_RY, ABS_RZ} {
		info, err := getAbsInfo(fd, code)
		if err != nil {
			return fmt.Errorf("%s: EVIOCGABS axis 0x%02x: %w (not a motion sensor node?)", s.path, code, err)
		}
		res[i] = float64(info.Resolution)
	}
	s.logger.Info("motion sensor opened", "device", s.path, "res_x", res[0], "res_y", res[1], "res_z", res[2])

	asm := newGyroAssembler(res[0], res[1], res[2])

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
	}

	epollEvents := make([]unix.EpollEvent, 1)
	buf := make([]byte, inputEventSize*64)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(epfd, epollEvents, evdevPollTimeoutMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}

		if epollEvents[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return fmt.Errorf("device error/hangup: %s", s.path)
		}

		nr, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("read from %s: %w", s.path, err)
		}

		for _, ev := range decodeInputEvents(buf[:nr]) {
			sample, ok := asm.feed(ev)
			if !ok {
				continue
			}
			if err := sendSample(ctx, out, sample); err != nil {
				return nil
			}
		}
	}
}

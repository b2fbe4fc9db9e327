package dxrt

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("OpenEngine", ErrInvalidArgument, "invalid model path")

	if err.Op != "OpenEngine" {
		t.Errorf("Expected Op=OpenEngine, got %s", err.Op)
	}
	if err.Code != ErrInvalidArgument {
		t.Errorf("Expected Code=ErrInvalidArgument, got %s", err.Code)
	}

	expected := "dxrt: invalid model path (op=OpenEngine)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("DriverWrite", ErrDeviceIO, syscall.EIO)

	if err.Errno != syscall.EIO {
		t.Errorf("Expected Errno=EIO, got %v", err.Errno)
	}
	if err.Code != ErrDeviceIO {
		t.Errorf("Expected Code=ErrDeviceIO, got %s", err.Code)
	}
}

func TestDeviceError(t *testing.T) {
	err := NewDeviceError("OpenDevice", 2, ErrResourceExhausted, "device queue full")

	if err.DevID != 2 {
		t.Errorf("Expected DevID=2, got %d", err.DevID)
	}

	expected := "dxrt: device queue full (op=OpenDevice)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestTaskError(t *testing.T) {
	err := NewTaskError("RunTask", 1, 7, ErrDeviceIO, "task timed out")

	if err.DevID != 1 {
		t.Errorf("Expected DevID=1, got %d", err.DevID)
	}
	if err.TaskID != 7 {
		t.Errorf("Expected TaskID=7, got %d", err.TaskID)
	}
}

func TestWrapError(t *testing.T) {
	inner := syscall.ENOENT
	err := WrapError("LoadModel", inner)

	if err.Code != ErrFileNotFound {
		t.Errorf("Expected Code=ErrFileNotFound, got %s", err.Code)
	}
	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOENT")
	}
}

func TestWrapErrorPreservesStructured(t *testing.T) {
	inner := NewDeviceError("OpenDevice", 3, ErrResourceExhausted, "no free buffers")
	wrapped := WrapError("OpenEngine", inner)

	if wrapped.DevID != 3 {
		t.Errorf("Expected DevID to carry through, got %d", wrapped.DevID)
	}
	if wrapped.Code != ErrResourceExhausted {
		t.Errorf("Expected Code to carry through, got %s", wrapped.Code)
	}
	if wrapped.Op != "OpenEngine" {
		t.Errorf("Expected Op to be overwritten, got %s", wrapped.Op)
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("RunTask", ErrInvalidOperation, "engine not open")

	if !IsCode(err, ErrInvalidOperation) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrDeviceIO) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrInvalidOperation) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("DriverRead", ErrDeviceIO, syscall.EIO)

	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should return true for matching errno")
	}
	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}
	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ENOENT, ErrFileNotFound},
		{syscall.EBUSY, ErrResourceExhausted},
		{syscall.EINVAL, ErrInvalidArgument},
		{syscall.EPERM, ErrInvalidOperation},
		{syscall.ENOMEM, ErrResourceExhausted},
		{syscall.ENOSYS, ErrInvalidOperation},
		{syscall.EIO, ErrDeviceIO},
	}

	for _, tc := range testCases {
		code := mapErrnoToCode(tc.errno)
		if code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}

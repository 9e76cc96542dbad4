// Copyright 2026 The storevfs Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package syserr defines the error values returned across the VFS surface.
// Errors carry a symbolic POSIX code, its Linux errno, and optionally the
// path and syscall that produced them.
package syserr

import (
	"errors"
	"fmt"
)

// Code is a symbolic POSIX error code.
type Code string

const (
	EPERM        Code = "EPERM"
	ENOENT       Code = "ENOENT"
	ESRCH        Code = "ESRCH"
	EINTR        Code = "EINTR"
	EIO          Code = "EIO"
	ENXIO        Code = "ENXIO"
	EBADF        Code = "EBADF"
	EAGAIN       Code = "EAGAIN"
	ENOMEM       Code = "ENOMEM"
	EACCES       Code = "EACCES"
	EFAULT       Code = "EFAULT"
	ENOTBLK      Code = "ENOTBLK"
	EBUSY        Code = "EBUSY"
	EEXIST       Code = "EEXIST"
	EXDEV        Code = "EXDEV"
	ENODEV       Code = "ENODEV"
	ENOTDIR      Code = "ENOTDIR"
	EISDIR       Code = "EISDIR"
	EINVAL       Code = "EINVAL"
	ENFILE       Code = "ENFILE"
	EMFILE       Code = "EMFILE"
	ETXTBSY      Code = "ETXTBSY"
	EFBIG        Code = "EFBIG"
	ENOSPC       Code = "ENOSPC"
	ESPIPE       Code = "ESPIPE"
	EROFS        Code = "EROFS"
	EMLINK       Code = "EMLINK"
	EPIPE        Code = "EPIPE"
	ERANGE       Code = "ERANGE"
	ENAMETOOLONG Code = "ENAMETOOLONG"
	ENOSYS       Code = "ENOSYS"
	ENOTEMPTY    Code = "ENOTEMPTY"
	ELOOP        Code = "ELOOP"
	ENODATA      Code = "ENODATA"
	EOVERFLOW    Code = "EOVERFLOW"
	EBADMSG      Code = "EBADMSG"
	ENOTSUP      Code = "ENOTSUP"
	ETIMEDOUT    Code = "ETIMEDOUT"
	ESTALE       Code = "ESTALE"
	EREMOTEIO    Code = "EREMOTEIO"
	EDQUOT       Code = "EDQUOT"
)

// codeInfo binds a code to its Linux errno and default message.
type codeInfo struct {
	errno   int
	message string
}

var codeTable = map[Code]codeInfo{
	EPERM:        {1, "operation not permitted"},
	ENOENT:       {2, "no such file or directory"},
	ESRCH:        {3, "no such process"},
	EINTR:        {4, "interrupted system call"},
	EIO:          {5, "input/output error"},
	ENXIO:        {6, "no such device or address"},
	EBADF:        {9, "bad file descriptor"},
	EAGAIN:       {11, "resource temporarily unavailable"},
	ENOMEM:       {12, "cannot allocate memory"},
	EACCES:       {13, "permission denied"},
	EFAULT:       {14, "bad address"},
	ENOTBLK:      {15, "block device required"},
	EBUSY:        {16, "resource busy or locked"},
	EEXIST:       {17, "file exists"},
	EXDEV:        {18, "cross-device link"},
	ENODEV:       {19, "no such device"},
	ENOTDIR:      {20, "not a directory"},
	EISDIR:       {21, "is a directory"},
	EINVAL:       {22, "invalid argument"},
	ENFILE:       {23, "too many open files in system"},
	EMFILE:       {24, "too many open files"},
	ETXTBSY:      {26, "text file busy"},
	EFBIG:        {27, "file too large"},
	ENOSPC:       {28, "no space left on device"},
	ESPIPE:       {29, "illegal seek"},
	EROFS:        {30, "read-only file system"},
	EMLINK:       {31, "too many links"},
	EPIPE:        {32, "broken pipe"},
	ERANGE:       {34, "numerical result out of range"},
	ENAMETOOLONG: {36, "file name too long"},
	ENOSYS:       {38, "function not implemented"},
	ENOTEMPTY:    {39, "directory not empty"},
	ELOOP:        {40, "too many levels of symbolic links"},
	ENODATA:      {61, "no data available"},
	EOVERFLOW:    {75, "value too large for defined data type"},
	EBADMSG:      {74, "bad message"},
	ENOTSUP:      {95, "operation not supported"},
	ETIMEDOUT:    {110, "connection timed out"},
	ESTALE:       {116, "stale file handle"},
	EREMOTEIO:    {121, "remote I/O error"},
	EDQUOT:       {122, "disk quota exceeded"},
}

// Error is the tagged error value surfaced by every VFS operation.
type Error struct {
	Code    Code
	Errno   int
	Path    string
	Syscall string
}

var _ error = &Error{}

// New returns an error for the given code and path. An unknown code is
// reported as EIO so that a bookkeeping bug cannot silently produce a
// zero-valued error.
func New(code Code, path string) *Error {
	info, ok := codeTable[code]
	if !ok {
		code = EIO
		info = codeTable[EIO]
	}

	return &Error{
		Code:  code,
		Errno: info.errno,
		Path:  path,
	}
}

// WithSyscall returns an error additionally annotated with the syscall name
// reported to the caller.
func WithSyscall(code Code, path string, syscall string) *Error {
	e := New(code, path)
	e.Syscall = syscall
	return e
}

func (e *Error) Error() string {
	msg := codeTable[e.Code].message
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}

	return fmt.Sprintf("%s: %s, '%s'", e.Code, msg, e.Path)
}

// Message returns the default message for the error's code.
func (e *Error) Message() string {
	return codeTable[e.Code].message
}

// WithPath returns a copy of the error whose path has been rewritten. Used
// at the VFS boundary to translate backend-local paths back to user paths.
func (e *Error) WithPath(path string) *Error {
	dup := *e
	dup.Path = path
	return &dup
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}

	return false
}

// GetCode extracts the symbolic code from err, or EIO if err is not an
// *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EIO
}

// Convert wraps a foreign error as EIO, preserving *Error values unchanged.
// Backend stores report arbitrary errors; everything that is not already
// tagged crosses the FS boundary as an I/O error.
func Convert(err error, path string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return New(EIO, path)
}

/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package junction

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// errnoInfo is one row of the process-once-initialized errno table: a
// symbolic name plus a human description, mirroring what the host's
// POSIX errno.h would give a C caller.
type errnoInfo struct {
	name string
	desc string
}

var (
	errnoOnce  sync.Once
	errnoTable map[int]errnoInfo
)

func buildErrnoTable() {
	errnoTable = map[int]errnoInfo{
		int(unix.EAGAIN):      {"EAGAIN", "resource temporarily unavailable"},
		int(unix.EINTR):       {"EINTR", "interrupted system call"},
		int(unix.EBADF):       {"EBADF", "bad file descriptor"},
		int(unix.ECONNRESET):  {"ECONNRESET", "connection reset by peer"},
		int(unix.EPIPE):       {"EPIPE", "broken pipe"},
		int(unix.ENOTCONN):    {"ENOTCONN", "socket is not connected"},
		int(unix.ECONNREFUSED): {"ECONNREFUSED", "connection refused"},
		int(unix.ETIMEDOUT):   {"ETIMEDOUT", "connection timed out"},
		int(unix.EMFILE):      {"EMFILE", "too many open files"},
		int(unix.ENFILE):      {"ENFILE", "too many open files in system"},
		int(unix.ENOMEM):      {"ENOMEM", "cannot allocate memory"},
		int(unix.EACCES):      {"EACCES", "permission denied"},
		int(unix.EINVAL):      {"EINVAL", "invalid argument"},
		int(unix.ENOENT):      {"ENOENT", "no such file or directory"},
		int(unix.EEXIST):      {"EEXIST", "file exists"},
		int(unix.ENOTSOCK):    {"ENOTSOCK", "socket operation on non-socket"},
		int(unix.EADDRINUSE):  {"EADDRINUSE", "address already in use"},
		// EWOULDBLOCK == EAGAIN on Linux and the BSDs; a separate row here
		// would be a duplicate map key and fail to compile. isEAGAIN checks
		// both names; only EAGAIN needs a table entry.
		0: {"", "success"},
	}
}

// ErrnoName returns the symbolic errno name (e.g. "EAGAIN"), or a numeric
// fallback for values the table doesn't recognize. The engine never fails
// to report a kernel error just because the errno is obscure.
func ErrnoName(errno int) string {
	errnoOnce.Do(buildErrnoTable)
	if info, ok := errnoTable[errno]; ok && info.name != "" {
		return info.name
	}
	return fmt.Sprintf("errno(%d)", errno)
}

// ErrnoDescription returns a human-readable description of errno.
func ErrnoDescription(errno int) string {
	errnoOnce.Do(buildErrnoTable)
	if info, ok := errnoTable[errno]; ok {
		return info.desc
	}
	return "unrecognized error"
}

// errnoOf extracts the raw errno value from an error returned by a
// golang.org/x/sys/unix call, or -1 if err isn't a unix.Errno.
func errnoOf(err error) int {
	if err == nil {
		return 0
	}
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return -1
}

func isEAGAIN(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK)
}

func isEINTR(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && errno == unix.EINTR
}

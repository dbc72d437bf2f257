// Copyright 2026 The OpenTrusty Authors
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

package logger

import "log/slog"

// Common attribute keys for consistent logging across the application

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}

func UserAgent(ua string) slog.Attr {
	return slog.String("user_agent", ua)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Access attributes
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Roles(roles []string) slog.Attr {
	return slog.Any("roles", roles)
}

func AuthMethod(method string) slog.Attr {
	return slog.String("auth_method", method)
}

func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

func Permission(p string) slog.Attr {
	return slog.String("permission", p)
}

// Audit attributes
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

// Secrets attributes
func KeyVersion(v uint32) slog.Attr {
	return slog.Uint64("key_version", uint64(v))
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Database attributes
func RowsAffected(rows int64) slog.Attr {
	return slog.Int64("rows_affected", rows)
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}

// String creates a generic string attribute
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int creates a generic integer attribute
func Int(key string, value int) slog.Attr {
	return slog.Int(key, value)
}

// Copyright 2026 Blink Labs Software
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

package collector

import (
	"errors"
	"fmt"
)

// TransientError indicates a collection failure that is expected to
// clear on its own (rate limit, timeout, upstream 5xx). Callers may
// retry with backoff.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient collection error (%s): %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient collection error: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError indicates a collection failure that will not clear on
// retry (bad credentials, malformed request). Callers must abort.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent collection error (%s): %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent collection error: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

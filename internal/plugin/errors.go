// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

// Error codes attached to oops errors raised by this package.
const (
	// CodeInvalidArgument marks a missing or invalid constructor argument.
	CodeInvalidArgument = "INVALID_ARGUMENT"
	// CodeInvalidManifest marks a manifest that failed parsing or validation.
	CodeInvalidManifest = "INVALID_MANIFEST"
	// CodeLoadFailed marks a failure reported by Environment.Load.
	CodeLoadFailed = "ISOLATION_LOAD_FAILED"
	// CodeUnloadFailed marks a failure reported by Environment.Unload.
	CodeUnloadFailed = "ISOLATION_UNLOAD_FAILED"
	// CodeTimeout marks an environment call that outlived its deadline.
	CodeTimeout = "ISOLATION_TIMEOUT"
	// CodePanic marks a panic raised inside an environment call.
	CodePanic = "ISOLATION_PANIC"
	// CodeDuplicatePlugin marks a second registration under the same name.
	CodeDuplicatePlugin = "DUPLICATE_PLUGIN"
	// CodePluginNotFound marks a lookup for a name that is not registered.
	CodePluginNotFound = "PLUGIN_NOT_FOUND"
)
